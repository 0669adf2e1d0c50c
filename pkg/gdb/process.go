// Package gdb talks to an interactive, line oriented debugger over its
// standard streams. The only framing the debugger offers is its ready prompt,
// so every exchange is a command written to stdin followed by collection of
// output until the prompt (or some other sentinel) shows up or time runs out.
package gdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-logr/logr"
)

// Process is a running debugger child process. Stdout carries both the
// debugger's stdout and stderr, in the order they were written.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Pid() int
	// Terminate kills the process (and anything it started) and releases its resources
	Terminate() error
}

// Launcher starts a debugger attached to the given executable
type Launcher interface {
	Launch(ctx context.Context, executable string) (Process, error)
}

// ExecLauncher launches a real debugger binary
type ExecLauncher struct {
	Path string
	Args []string
	Log  logr.Logger
}

// NewExecLauncher creates a launcher for the debugger at path
func NewExecLauncher(path string, args []string, log logr.Logger) *ExecLauncher {
	return &ExecLauncher{
		Path: path,
		Args: args,
		Log:  log.WithName("launcher"),
	}
}

// Launch starts the debugger with the executable as its last argument
func (l *ExecLauncher) Launch(ctx context.Context, executable string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(executable)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for target %s: %w", executable, err)
	}

	args := append(append([]string{}, l.Args...), absPath)
	// Not bound to ctx: the debugger outlives the request that started it.
	cmd := exec.Command(l.Path, args...)
	cmd.Dir = filepath.Dir(absPath)
	setupProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create debugger stdin: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to create debugger output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("failed to start debugger %s: %w", l.Path, err)
	}
	// The child holds its own copy of the write end
	_ = outW.Close()

	l.Log.V(1).Info("Started debugger", "Path", l.Path, "Args", args, "PID", cmd.Process.Pid)

	return &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: outR,
		log:    l.Log,
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	log    logr.Logger
}

func (p *execProcess) Stdin() io.Writer  { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error {
	_ = p.stdin.Close()

	var errs []error
	if err := killProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("failed to kill debugger process %d: %w", p.Pid(), err))
	}

	// A killed process reports a non-zero exit; that is expected here
	var exitErr *exec.ExitError
	if err := p.cmd.Wait(); err != nil && !errors.As(err, &exitErr) {
		errs = append(errs, fmt.Errorf("failed to wait for debugger process %d: %w", p.Pid(), err))
	}

	if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}

	p.log.V(1).Info("Debugger process terminated", "PID", p.Pid())
	return errors.Join(errs...)
}
