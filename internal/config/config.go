// Package config loads Strobe's dotted-key settings file: workspace-local
// path first, falling back to a user-global path, with environment
// variable overrides for the same keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys is the full set of dotted settings Strobe recognizes, with their
// defaults. Settings outside this set are accepted by viper but have no
// effect anywhere in the daemon.
const (
	KeyEventsMaxPerSession = "events.maxPerSession"
	KeyTestStatusRetryMs   = "test.statusRetryMs"
	KeyDaemonIdleTimeout   = "daemon.idleTimeout"
	KeyVisionEnabled       = "vision.enabled"
	KeyLogJSON             = "log.json"
	KeyTelemetryEnabled    = "telemetry.enabled"
	KeyTelemetryOTLPTarget = "telemetry.otlpEndpoint"
)

// HotReloadable lists the keys safe to apply without a daemon restart,
// per the fsnotify-driven settings watch: bounds and intervals, not
// anything that would require re-opening a listener or a database
// connection.
var HotReloadable = map[string]bool{
	KeyEventsMaxPerSession: true,
	KeyTestStatusRetryMs:   true,
	KeyLogJSON:             true,
}

// Settings is a typed snapshot of the dotted-key namespace, read once
// per Load/Reload call so callers don't hold a live viper reference.
type Settings struct {
	EventsMaxPerSession int
	TestStatusRetryMs   int
	DaemonIdleTimeout   time.Duration
	VisionEnabled       bool
	LogJSON             bool
	TelemetryEnabled    bool
	// TelemetryOTLPTarget, if set, selects an otlpmetrichttp exporter
	// pointed at this endpoint instead of the default stdout exporter.
	TelemetryOTLPTarget string
}

// Loader resolves and re-reads the settings file, applying environment
// overrides on every Load call so a hot-reload always reflects current
// env state too.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader resolves the settings file path — workspace-local
// (<workspacePath>/.strobe/settings.yaml) if present, else user-global
// (~/.config/strobe/settings.yaml) — and prepares a Loader against it.
// A missing file at either location is not an error: defaults apply and
// a later Load still succeeds.
func NewLoader(workspacePath string) (*Loader, error) {
	path := workspaceSettingsPath(workspacePath)
	if _, err := os.Stat(path); err != nil {
		userPath, uerr := userSettingsPath()
		if uerr == nil {
			if _, err := os.Stat(userPath); err == nil {
				path = userPath
			}
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	bindDefaults(v)
	bindEnv(v)

	return &Loader{v: v, path: path}, nil
}

// Path returns the settings file path this Loader resolved to, whether
// or not the file actually exists yet.
func (l *Loader) Path() string { return l.path }

// Load reads the settings file (tolerating its absence) and returns a
// typed Settings snapshot with defaults and environment overrides
// applied.
func (l *Loader) Load() (Settings, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Settings{}, fmt.Errorf("read settings file %s: %w", l.path, err)
			}
		}
	}

	return Settings{
		EventsMaxPerSession: l.v.GetInt(KeyEventsMaxPerSession),
		TestStatusRetryMs:   l.v.GetInt(KeyTestStatusRetryMs),
		DaemonIdleTimeout:   l.v.GetDuration(KeyDaemonIdleTimeout),
		VisionEnabled:       l.v.GetBool(KeyVisionEnabled),
		LogJSON:             l.v.GetBool(KeyLogJSON),
		TelemetryEnabled:    l.v.GetBool(KeyTelemetryEnabled),
		TelemetryOTLPTarget: l.v.GetString(KeyTelemetryOTLPTarget),
	}, nil
}

func bindDefaults(v *viper.Viper) {
	v.SetDefault(KeyEventsMaxPerSession, 200_000)
	v.SetDefault(KeyTestStatusRetryMs, 250)
	v.SetDefault(KeyDaemonIdleTimeout, 30*time.Minute)
	v.SetDefault(KeyVisionEnabled, false)
	v.SetDefault(KeyLogJSON, true)
	v.SetDefault(KeyTelemetryEnabled, true)
	v.SetDefault(KeyTelemetryOTLPTarget, "")
}

// bindEnv wires STROBE_EVENTS_MAXPERSESSION-style overrides: each
// dotted key's components uppercased and joined with underscores,
// prefixed STROBE_.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("strobe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		KeyEventsMaxPerSession,
		KeyTestStatusRetryMs,
		KeyDaemonIdleTimeout,
		KeyVisionEnabled,
		KeyLogJSON,
		KeyTelemetryEnabled,
		KeyTelemetryOTLPTarget,
	} {
		_ = v.BindEnv(key)
	}
}

func workspaceSettingsPath(workspacePath string) string {
	return filepath.Join(workspacePath, ".strobe", "settings.yaml")
}

func userSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "strobe", "settings.yaml"), nil
}
