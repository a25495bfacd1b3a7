package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/strobehq/strobe/internal/config"
	"github.com/strobehq/strobe/internal/daemon"
	"github.com/strobehq/strobe/internal/dwarf"
	"github.com/strobehq/strobe/internal/eventstore"
	"github.com/strobehq/strobe/internal/rpc"
	"github.com/strobehq/strobe/internal/session"
	"github.com/strobehq/strobe/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Strobe daemon in the foreground",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}

	logger := newLogger(flagLogJSON)
	slog.SetDefault(logger)

	loader, err := config.NewLoader(workspace)
	if err != nil {
		return fmt.Errorf("resolve settings: %w", err)
	}
	settings, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	strobeDir, err := daemon.EnsureStrobeDir(workspace)
	if err != nil {
		return err
	}
	pidFile := filepath.Join(strobeDir, "daemon.pid")
	socketPath := daemon.GetSocketPathForPID(pidFile)

	d, err := daemon.Acquire(daemon.Config{
		RuntimeDir:  strobeDir,
		SocketPath:  socketPath,
		PIDFilePath: pidFile,
		IdleTimeout: settings.DaemonIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	defer d.Release()

	telemetryProvider, err := telemetry.Init(cmd.Context(), settings.TelemetryEnabled, settings.TelemetryOTLPTarget)
	if err != nil {
		slog.Warn("telemetry init failed, continuing without it", "error", err)
	}
	defer func() {
		if err := telemetryProvider.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, err := eventstore.Open(cmd.Context(), eventstore.Options{
		Path:                filepath.Join(strobeDir, "events.db"),
		MaxEventsPerSession: settings.EventsMaxPerSession,
	})
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	dwarfCache, err := dwarf.NewCache(32)
	if err != nil {
		return fmt.Errorf("create dwarf cache: %w", err)
	}

	sess := session.New()
	dispatcher := rpc.NewDispatcher(sess, store, dwarfCache)

	server, err := rpc.NewServer(socketPath, dispatcher)
	if err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Serve(ctx) }()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	reload := func() {
		if s, err := loader.Load(); err != nil {
			slog.Warn("settings reload failed", "error", err)
		} else {
			settings = s
			slog.Info("settings reloaded", "eventsMaxPerSession", settings.EventsMaxPerSession)
		}
	}
	if err := daemon.WatchSettingsFile(loader.Path(), reload, stopWatch); err != nil {
		slog.Warn("settings file watch unavailable", "error", err)
	}

	slog.Info("strobed serving", "socket", socketPath, "workspace", workspace)
	d.Run(ctx, reload)
	cancel()

	return <-serveErrCh
}

func newLogger(jsonFormat bool) *slog.Logger {
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
