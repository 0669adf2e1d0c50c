// Package debugger drives Go targets through a Delve headless server and
// keeps breakpoint bookkeeping shared by every backend.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/go-logr/logr"
)

// ErrExited is returned when the target process is no longer running
var ErrExited = errors.New("target process has exited")

// DelveOptions configure how the dlv server is started
type DelveOptions struct {
	// Path to the dlv executable, "dlv" when empty
	Path string
	// Args are passed to the target program
	Args []string
	// ConnectTimeout bounds waiting for the server to accept RPC
	ConnectTimeout time.Duration
}

// DelveDebugger wraps a Delve RPC client session, managing the underlying dlv process
type DelveDebugger struct {
	client    *rpc2.RPCClient
	target    string    // Target binary path
	dlvCmd    *exec.Cmd // The running 'dlv exec' command
	dlvListen string    // The address dlv is listening on (e.g., "localhost:12345")
	log       logr.Logger
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// NewDelveDebugger launches a Delve headless server for the target and connects via RPC
func NewDelveDebugger(ctx context.Context, targetPath string, opts DelveOptions, log logr.Logger) (*DelveDebugger, error) {
	absPath, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for target %s: %w", targetPath, err)
	}

	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free port for delve: %w", err)
	}
	listen := "localhost:" + strconv.Itoa(port)

	cmdArgs := []string{
		"exec", absPath,
		"--headless",
		"--listen=" + listen,
		"--api-version=2",
	}
	// Only add the '--' separator if we have args to pass
	if len(opts.Args) > 0 {
		cmdArgs = append(cmdArgs, "--")
		cmdArgs = append(cmdArgs, opts.Args...)
	}

	dlvPath := opts.Path
	if dlvPath == "" {
		dlvPath = "dlv"
	}
	dlvCmd := exec.Command(dlvPath, cmdArgs...)
	dlvCmd.Dir = filepath.Dir(absPath)
	setupProcAttr(dlvCmd)

	if err := dlvCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start delve process: %w", err)
	}
	log = log.WithName("delve").WithValues("PID", dlvCmd.Process.Pid)
	log.Info("Started Delve headless server", "Target", absPath, "Listen", listen)

	d := &DelveDebugger{
		target:    absPath,
		dlvCmd:    dlvCmd,
		dlvListen: listen,
		log:       log,
	}

	client, err := d.connect(ctx, opts.ConnectTimeout)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.client = client
	log.Info("Connected RPC client to Delve headless server")
	return d, nil
}

// connect dials the server until it accepts a connection and answers a state query
func (d *DelveDebugger) connect(ctx context.Context, timeout time.Duration) (*rpc2.RPCClient, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(timeout),
	)

	dial := func() (*rpc2.RPCClient, error) {
		conn, err := net.DialTimeout("tcp", d.dlvListen, time.Second)
		if err != nil {
			return nil, err
		}
		client := rpc2.NewClientFromConn(conn)
		if _, err := client.GetState(); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return client, nil
	}

	var lastErr error
	client, err := backoff.RetryNotifyWithData(dial, backoff.WithContext(policy, ctx), func(err error, _ time.Duration) {
		lastErr = err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect RPC client to delve server at %s: %w", d.dlvListen, errors.Join(lastErr, err))
	}
	return client, nil
}

// SetBreakpoint sets a breakpoint at the specified location using RPC
func (d *DelveDebugger) SetBreakpoint(file string, line int) (*api.Breakpoint, error) {
	// Normalize file path (for Windows compatibility)
	file = filepath.ToSlash(file)

	createdBp, err := d.client.CreateBreakpoint(&api.Breakpoint{File: file, Line: line})
	if err == nil {
		return createdBp, nil
	}

	// Try the closest line with a statement
	if strings.Contains(err.Error(), "could not find statement") {
		for offset := 1; offset <= 5; offset++ {
			if nearby, nearbyErr := d.client.CreateBreakpoint(&api.Breakpoint{File: file, Line: line + offset}); nearbyErr == nil {
				d.log.Info("Set breakpoint at alternative line", "Line", line+offset, "Requested", line)
				return nearby, nil
			}
		}
	}

	// File path discrepancies: match by base name
	if strings.Contains(err.Error(), "no file") || strings.Contains(err.Error(), "does not exist") {
		sources, listErr := d.client.ListSources("")
		if listErr != nil {
			return nil, fmt.Errorf("failed to list sources: %v (original error: %w)", listErr, err)
		}
		baseName := filepath.Base(file)
		for _, src := range sources {
			if filepath.Base(src) != baseName {
				continue
			}
			if altCreated, altErr := d.client.CreateBreakpoint(&api.Breakpoint{File: src, Line: line}); altErr == nil {
				d.log.Info("Set breakpoint using alternative path", "File", src)
				return altCreated, nil
			}
		}
	}

	return nil, fmt.Errorf("could not set breakpoint at %s:%d: %w", file, line, err)
}

// SetFunctionBreakpoint sets a breakpoint at a function
func (d *DelveDebugger) SetFunctionBreakpoint(funcName string) (*api.Breakpoint, error) {
	createdBp, err := d.client.CreateBreakpoint(&api.Breakpoint{FunctionName: funcName})
	if err == nil {
		return createdBp, nil
	}

	// A bare name usually means a function of package main
	if strings.Contains(err.Error(), "could not find function") && !strings.Contains(funcName, ".") {
		altCreated, altErr := d.client.CreateBreakpoint(&api.Breakpoint{FunctionName: "main." + funcName})
		if altErr == nil {
			return altCreated, nil
		}
	}

	return nil, fmt.Errorf("could not set breakpoint at function %s: %w", funcName, err)
}

// ClearBreakpoint removes a breakpoint by its ID using RPC
func (d *DelveDebugger) ClearBreakpoint(id int) error {
	_, err := d.client.ClearBreakpoint(id)
	return err
}

// Continue resumes execution until the next breakpoint or exit
func (d *DelveDebugger) Continue() (*api.DebuggerState, error) {
	var state *api.DebuggerState
	for state = range d.client.Continue() {
		if state.Err != nil {
			return nil, state.Err
		}
	}
	if state == nil {
		return nil, ErrExited
	}
	return state, nil
}

// Step executes the current source line, stepping over calls
func (d *DelveDebugger) Step() (*api.DebuggerState, error) {
	state, err := d.client.Next()
	if err != nil {
		if isExited(err) {
			return nil, ErrExited
		}
		return nil, fmt.Errorf("step command failed: %w", err)
	}
	if state.Err != nil {
		if isExited(state.Err) {
			return nil, ErrExited
		}
		return nil, state.Err
	}
	if state.Exited {
		return state, ErrExited
	}
	return state, nil
}

// Locals returns the arguments and local variables of the current frame
func (d *DelveDebugger) Locals() ([]api.Variable, error) {
	state, err := d.client.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	if state.Exited {
		return nil, ErrExited
	}
	if state.CurrentThread == nil {
		return nil, fmt.Errorf("no current thread available")
	}

	scope := api.EvalScope{GoroutineID: state.CurrentThread.GoroutineID, Frame: 0}
	cfg := api.LoadConfig{
		FollowPointers:     true,
		MaxVariableRecurse: 1,
		MaxStringLen:       64,
		MaxArrayValues:     64,
		MaxStructFields:    -1,
	}

	args, err := d.client.ListFunctionArgs(scope, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to list function arguments: %w", err)
	}
	locals, err := d.client.ListLocalVariables(scope, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to list local variables: %w", err)
	}
	return append(args, locals...), nil
}

// Close terminates the connection and the Delve process
func (d *DelveDebugger) Close() error {
	var closeErr error
	if d.client != nil {
		// Detach with kill so the target does not outlive the server
		if err := d.client.Detach(true); err != nil && !isExited(err) {
			d.log.V(1).Info("Error detaching Delve client", "Error", err.Error())
		}
		d.client = nil
	}
	if d.dlvCmd != nil && d.dlvCmd.Process != nil {
		pid := d.dlvCmd.Process.Pid
		if err := d.dlvCmd.Process.Kill(); err != nil && !errors.Is(err, errProcessDone) {
			closeErr = fmt.Errorf("failed to kill delve process %d: %w", pid, err)
		}
		// Wait for the process to release resources
		if _, waitErr := d.dlvCmd.Process.Wait(); waitErr != nil && closeErr == nil && !isWaitAlreadyExited(waitErr) {
			closeErr = fmt.Errorf("failed to wait for delve process %d: %w", pid, waitErr)
		}
		d.log.Info("Delve process terminated")
		d.dlvCmd = nil
	}
	return closeErr
}

func isExited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "has exited")
}
