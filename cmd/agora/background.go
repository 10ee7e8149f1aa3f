package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/agora/internal/config"
	"github.com/fentz26/agora/internal/controlplane"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of Agora",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Agora version %s\n", controlplane.Version)
		fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  Go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func isDaemonRunning(addr string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// startDaemon re-executes this binary as a detached daemon that logs to
// ~/.agora/daemon.log, then waits for it to report healthy.
func startDaemon(daemonArgs []string) error {
	if isDaemonRunning(apiAddr) {
		return fmt.Errorf("daemon already running at %s", apiAddr)
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	logPath := filepath.Join(config.Dir(), "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, append([]string{"daemon"}, daemonArgs...)...)
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning(apiAddr) {
			fmt.Printf(" Done (pid %d, log %s).\n", cmd.Process.Pid, logPath)
			return cmd.Process.Release()
		}
		time.Sleep(250 * time.Millisecond)
	}
	fmt.Println(" Timed out.")
	return fmt.Errorf("daemon did not become healthy; see %s", logPath)
}
