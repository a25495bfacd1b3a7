package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPIDFilePathCreatesStrobeDir(t *testing.T) {
	workspace := t.TempDir()
	path, err := GetPIDFilePath(workspace)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workspace, ".strobe", "daemon.pid"), path)

	info, err := os.Stat(filepath.Join(workspace, ".strobe"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestGetLogFilePathHonorsUserOverride(t *testing.T) {
	workspace := t.TempDir()
	path, err := GetLogFilePath(workspace, "/custom/path.log")
	require.NoError(t, err)
	require.Equal(t, "/custom/path.log", path)
}

func TestGetSocketPathForPIDHonorsEnvOverride(t *testing.T) {
	t.Setenv("STROBE_SOCKET", "/tmp/override.sock")
	got := GetSocketPathForPID("/some/workspace/.strobe/daemon.pid")
	require.Equal(t, "/tmp/override.sock", got)
}

func TestGetEnvIntFallsBackOnUnsetOrInvalid(t *testing.T) {
	require.Equal(t, 42, GetEnvInt("STROBE_TEST_UNSET_KEY", 42))
	t.Setenv("STROBE_TEST_INT_KEY", "not-an-int")
	require.Equal(t, 7, GetEnvInt("STROBE_TEST_INT_KEY", 7))
	t.Setenv("STROBE_TEST_INT_KEY", "99")
	require.Equal(t, 99, GetEnvInt("STROBE_TEST_INT_KEY", 7))
}
