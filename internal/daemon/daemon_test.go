package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPidfileAndRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RuntimeDir:  dir,
		SocketPath:  filepath.Join(dir, "strobed.sock"),
		PIDFilePath: filepath.Join(dir, "strobed.pid"),
	}

	d, err := Acquire(cfg)
	require.NoError(t, err)
	defer d.Release()

	pidBytes, err := os.ReadFile(cfg.PIDFilePath)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), mustAtoi(t, string(pidBytes)))

	_, err = Acquire(cfg)
	require.Error(t, err)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RuntimeDir:  dir,
		SocketPath:  filepath.Join(dir, "strobed.sock"),
		PIDFilePath: filepath.Join(dir, "strobed.pid"),
	}

	d, err := Acquire(cfg)
	require.NoError(t, err)
	d.Release()

	d2, err := Acquire(cfg)
	require.NoError(t, err)
	d2.Release()
}

func TestWatchIdleReturnsAfterTimeoutWithNoActivity(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RuntimeDir:  dir,
		SocketPath:  filepath.Join(dir, "strobed.sock"),
		PIDFilePath: filepath.Join(dir, "strobed.pid"),
		IdleTimeout: 50 * time.Millisecond,
	}
	d, err := Acquire(cfg)
	require.NoError(t, err)
	defer d.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.WatchIdle(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("WatchIdle did not return after idle timeout")
	}
}

func TestActiveWorkSuppressesIdleShutdown(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		RuntimeDir:  dir,
		SocketPath:  filepath.Join(dir, "strobed.sock"),
		PIDFilePath: filepath.Join(dir, "strobed.pid"),
		IdleTimeout: 50 * time.Millisecond,
	}
	d, err := Acquire(cfg)
	require.NoError(t, err)
	defer d.Release()
	d.BeginWork()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.WatchIdle(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WatchIdle returned despite active work")
	case <-time.After(250 * time.Millisecond):
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		require.True(t, c >= '0' && c <= '9')
		n = n*10 + int(c-'0')
	}
	return n
}
