//go:build !windows

package gdb

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcAttr puts the debugger in its own process group so that the
// program it runs can be killed along with it.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return cmd.Process.Kill()
	}
	return nil
}
