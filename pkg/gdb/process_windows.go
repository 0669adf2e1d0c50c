//go:build windows

package gdb

import (
	"os/exec"
	"syscall"
)

// setupProcAttr configures platform-specific process attributes.
// On Windows, this prevents the debugger from creating a console window.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
