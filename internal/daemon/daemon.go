// Package daemon implements the daemon lifecycle (spec §4.8): runtime
// directory and socket setup, pidfile management, graceful shutdown on
// signal, and self-termination after an idle timeout.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/strobehq/strobe/internal/lockfile"
)

// Config controls a Daemon's runtime behavior.
type Config struct {
	RuntimeDir  string
	SocketPath  string
	PIDFilePath string
	// IdleTimeout is how long the daemon runs with zero active sessions
	// and zero RPC connections before self-terminating; zero disables it.
	IdleTimeout time.Duration
}

// Daemon owns the process-level lifecycle: the socket lock, the
// pidfile, signal handling, and idle-timeout tracking. The RPC server
// and session manager are driven from outside; Daemon only decides
// when the process as a whole should exit.
type Daemon struct {
	cfg  Config
	lock *lockfile.Lock

	lastActivity atomic.Int64 // UnixNano
	activeWork   atomic.Int32
}

// Acquire takes the daemon's exclusive socket lock and writes its
// pidfile, failing if another daemon already holds the lock for this
// workspace.
func Acquire(cfg Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.RuntimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("create runtime directory: %w", err)
	}

	lock, err := lockfile.TryAcquire(cfg.SocketPath + ".lock")
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(cfg.PIDFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		lock.Release()
		return nil, fmt.Errorf("write pidfile: %w", err)
	}

	d := &Daemon{cfg: cfg, lock: lock}
	d.Touch()
	return d, nil
}

// Release drops the socket lock and removes the pidfile. Called once
// on final shutdown.
func (d *Daemon) Release() {
	d.lock.Release()
	os.Remove(d.cfg.PIDFilePath)
}

// Touch records activity, resetting the idle timer.
func (d *Daemon) Touch() {
	d.lastActivity.Store(time.Now().UnixNano())
}

// BeginWork and EndWork bracket anything that should suppress idle
// shutdown even if it produces no RPC traffic of its own (e.g. a
// long-running worker between agent heartbeats).
func (d *Daemon) BeginWork() { d.activeWork.Add(1) }
func (d *Daemon) EndWork()   { d.activeWork.Add(-1); d.Touch() }

// WatchIdle blocks until ctx is canceled or the daemon has been idle
// (no Touch, no active work) for longer than IdleTimeout, whichever
// happens first. A zero IdleTimeout disables idle shutdown and this
// simply blocks on ctx.
func (d *Daemon) WatchIdle(ctx context.Context) {
	if d.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(d.cfg.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.activeWork.Load() > 0 {
				continue
			}
			idleFor := time.Since(time.Unix(0, d.lastActivity.Load()))
			if idleFor >= d.cfg.IdleTimeout {
				slog.Info("daemon idle timeout reached, shutting down", "idleFor", idleFor)
				return
			}
		}
	}
}
