//go:build !windows
// +build !windows

package debugger

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var errProcessDone = os.ErrProcessDone

// setupProcAttr puts dlv in its own process group so terminal signals
// meant for this program do not reach the debugger.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// isWaitAlreadyExited reports whether Wait failed because the process was already reaped
func isWaitAlreadyExited(err error) bool {
	return errors.Is(err, syscall.ECHILD)
}
