//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonProc detaches the child into its own session so it
// survives the launching shell.
func configureDaemonProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
