package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/strobehq/strobe/internal/rpc"
)

// EnsureStrobeDir ensures the per-workspace .strobe runtime directory
// exists, creating it if necessary.
func EnsureStrobeDir(workspacePath string) (string, error) {
	dir := filepath.Join(workspacePath, ".strobe")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create strobe directory: %w", err)
	}
	return dir, nil
}

// GetEnvInt reads an integer from an environment variable, falling back
// to defaultValue if unset or unparsable.
func GetEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool reads a boolean from an environment variable.
func GetEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultValue
}

// GetSocketPathForPID determines the RPC socket path for a workspace
// given its pidfile location, honoring STROBE_SOCKET for test isolation
// and falling back to rpc.ShortSocketPath to dodge the unix socket path
// length limit.
func GetSocketPathForPID(pidFile string) string {
	if socketPath := os.Getenv("STROBE_SOCKET"); socketPath != "" {
		return socketPath
	}
	strobeDir := filepath.Dir(pidFile)
	workspacePath := filepath.Dir(strobeDir)
	return rpc.ShortSocketPath(workspacePath)
}

// GetPIDFilePath returns the daemon pidfile path for a workspace.
func GetPIDFilePath(workspacePath string) (string, error) {
	dir, err := EnsureStrobeDir(workspacePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.pid"), nil
}

// GetLogFilePath returns the daemon log file path, honoring an explicit
// user override.
func GetLogFilePath(workspacePath, userPath string) (string, error) {
	if userPath != "" {
		return userPath, nil
	}
	dir, err := EnsureStrobeDir(workspacePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.log"), nil
}
