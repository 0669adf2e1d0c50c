package gdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ErrClosed is returned when writing to a connection whose process is gone
var ErrClosed = errors.New("debugger connection closed")

// Conn is the command/response channel to one debugger process. It owns the
// process: nothing else may write to its stdin.
type Conn struct {
	proc       Process
	reader     *Reader
	correlator *Correlator
	prompt     string
	log        logr.Logger

	writeLock sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn starts draining the process output and returns the connection
func NewConn(proc Process, prompt string, log logr.Logger) *Conn {
	log = log.WithName("conn").WithValues("PID", proc.Pid())
	return &Conn{
		proc:       proc,
		reader:     NewReader(context.Background(), proc.Stdout(), prompt, log),
		correlator: NewCorrelator(prompt),
		prompt:     prompt,
		log:        log,
	}
}

// Prompt returns the ready-prompt token this connection synchronizes on
func (c *Conn) Prompt() string {
	return c.prompt
}

// Send writes one command line to the debugger
func (c *Conn) Send(command string) error {
	if c.reader.EOF() {
		return ErrClosed
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.log.V(1).Info("Sending command", "Command", command)
	if _, err := io.WriteString(c.proc.Stdin(), command+"\n"); err != nil {
		return fmt.Errorf("failed to send command '%s': %w", command, err)
	}
	return nil
}

// Await collects output without sending anything first
func (c *Conn) Await(ctx context.Context, opts CollectOptions) Transcript {
	t := Collect(ctx, c.reader.Lines(), opts)
	c.log.V(1).Info("Collected output", "Lines", len(t.Lines), "Matched", t.Matched, "TimedOut", t.TimedOut, "EOF", t.EOF)
	return t
}

// Exec sends a command and collects its output up to the prompt
func (c *Conn) Exec(ctx context.Context, command string, timeout time.Duration) (Transcript, error) {
	return c.ExecUntil(ctx, command, CollectOptions{Sentinel: c.prompt, Timeout: timeout})
}

// ExecUntil sends a command and collects its output with explicit options
func (c *Conn) ExecUntil(ctx context.Context, command string, opts CollectOptions) (Transcript, error) {
	if err := c.Send(command); err != nil {
		return Transcript{EOF: c.reader.EOF()}, err
	}
	return c.Await(ctx, opts), nil
}

// AddressOf asks the debugger for the address of name, matching the reply by
// value-history index. A reply that misses timeout is abandoned: its index
// stays reserved and the reply is discarded whenever it turns up.
func (c *Conn) AddressOf(ctx context.Context, name string, timeout time.Duration) (AddressReply, bool) {
	q := c.correlator.Issue(name)
	deadline := time.Now().Add(timeout)

	t, err := c.Exec(ctx, q.Command, timeout)
	if err != nil {
		c.log.V(1).Info("Address query failed", "Name", name, "Error", err.Error())
	}
	for {
		reply, res := c.correlator.Resolve(q, t)
		switch res {
		case Resolved:
			return reply, true
		case Rejected:
			c.log.V(1).Info("Address query rejected", "Name", name, "Reply", t.String())
			return AddressReply{}, false
		case Abandoned:
			c.log.V(1).Info("Address query abandoned", "Name", name, "ID", q.ID, "Outstanding", c.correlator.Outstanding())
			return AddressReply{}, false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			t = Transcript{TimedOut: true}
			continue
		}
		t = c.Await(ctx, CollectOptions{Sentinel: c.prompt, Timeout: remaining})
	}
}

// Exited reports whether the debugger output has reached end-of-file
func (c *Conn) Exited() bool {
	return c.reader.EOF()
}

// Close asks the debugger to quit, terminates it and waits up to
// stopTimeout for the output reader to finish. Safe to call more than once.
func (c *Conn) Close(stopTimeout time.Duration) error {
	c.closeOnce.Do(func() {
		if !c.reader.EOF() {
			_ = c.Send("quit")
		}
		c.closeErr = c.proc.Terminate()
		if !c.reader.Stop(stopTimeout) {
			c.closeErr = errors.Join(c.closeErr, fmt.Errorf("output reader did not stop within %s", stopTimeout))
		}
	})
	return c.closeErr
}
