package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strobehq/strobe/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the Strobe daemon is running for this workspace",
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Strobe daemon for this workspace",
	RunE:  runStop,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the path to the daemon's log file",
	RunE:  runLogs,
}

func runStatus(cmd *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return err
	}
	pidFile, err := daemon.GetPIDFilePath(workspace)
	if err != nil {
		return err
	}

	pid, running, err := readRunningPID(pidFile)
	if err != nil {
		return err
	}

	if flagJSON {
		fmt.Printf("{\"running\":%t,\"pid\":%d,\"pidFile\":%q}\n", running, pid, pidFile)
		return nil
	}
	if running {
		fmt.Printf("strobed running (pid %d)\n", pid)
	} else {
		fmt.Println("strobed not running")
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return err
	}
	pidFile, err := daemon.GetPIDFilePath(workspace)
	if err != nil {
		return err
	}

	pid, running, err := readRunningPID(pidFile)
	if err != nil {
		return err
	}
	if !running {
		fmt.Println("strobed not running")
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop daemon (pid %d): %w", pid, err)
	}

	for i := 0; i < 50; i++ {
		if !daemon.IsProcessRunning(pid) {
			fmt.Printf("strobed (pid %d) stopped\n", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("strobed (pid %d) did not exit within 5s of SIGTERM", pid)
}

func runLogs(cmd *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return err
	}
	logPath, err := daemon.GetLogFilePath(workspace, "")
	if err != nil {
		return err
	}
	fmt.Println(logPath)
	return nil
}

// readRunningPID reads pidFile and reports whether the pid it names is
// still alive, tolerating a missing or stale pidfile.
func readRunningPID(pidFile string) (int, bool, error) {
	data, err := os.ReadFile(pidFile)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("parse pidfile %s: %w", pidFile, err)
	}

	return pid, daemon.IsProcessRunning(pid), nil
}
