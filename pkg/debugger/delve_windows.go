//go:build windows
// +build windows

package debugger

import (
	"os"
	"os/exec"
	"syscall"
)

var errProcessDone = os.ErrProcessDone

// setupProcAttr configures platform-specific process attributes.
// On Windows, this prevents Delve from creating a console window.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}

// isWaitAlreadyExited reports whether Wait failed because the process was already gone
func isWaitAlreadyExited(err error) bool {
	if e, ok := err.(*exec.ExitError); ok {
		if status, ok := e.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus() == -1
		}
	}
	return false
}
