//go:build unix

package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownSignals triggers graceful shutdown; SIGHUP is repurposed from
// the teacher's service-restart semantics to settings hot-reload, since
// Strobe has no supervised-restart story of its own.
var shutdownSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
var reloadSignal = syscall.SIGHUP

// Run installs signal handlers and blocks until a shutdown signal
// arrives, ctx is canceled, or idle timeout elapses, whichever is
// first. onReload is invoked synchronously on SIGHUP.
func (d *Daemon) Run(ctx context.Context, onReload func()) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, append(append([]os.Signal{}, shutdownSignals...), reloadSignal)...)
	defer signal.Stop(sigCh)

	idleDone := make(chan struct{})
	idleCtx, cancelIdle := context.WithCancel(ctx)
	defer cancelIdle()
	go func() {
		d.WatchIdle(idleCtx)
		close(idleDone)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idleDone:
			return
		case sig := <-sigCh:
			if sig == reloadSignal {
				slog.Info("reloading settings on SIGHUP")
				if onReload != nil {
					onReload()
				}
				continue
			}
			slog.Info("received shutdown signal", "signal", sig)
			return
		}
	}
}

// IsProcessRunning reports whether pid is live, tolerating EPERM the
// same way the worker's liveness probe does: a pid we can't signal due
// to permissions is treated as not ours to manage, not as "still
// running and stoppable by us."
func IsProcessRunning(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return false
	}
	return false
}
