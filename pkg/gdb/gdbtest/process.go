// Package gdbtest provides in-memory stand-ins for a debugger process.
package gdbtest

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/willibrandon/stepscope/pkg/gdb"
)

// Handler produces the raw output written in response to one command.
// Returning quit=true ends the process output after the reply.
type Handler func(command string) (reply string, quit bool)

var nextPid atomic.Int32

// Process is a fake debugger process driven by a Handler
type Process struct {
	stdinR *io.PipeReader
	stdinW *io.PipeWriter
	outR   *io.PipeReader
	outW   *io.PipeWriter
	pid    int

	mu         sync.Mutex
	commands   []string
	terminated bool
	closeOnce  sync.Once
}

// NewProcess starts a fake process that first prints banner, then answers
// each command line with handler's reply
func NewProcess(banner string, handler Handler) *Process {
	stdinR, stdinW := io.Pipe()
	outR, outW := io.Pipe()
	p := &Process{
		stdinR: stdinR,
		stdinW: stdinW,
		outR:   outR,
		outW:   outW,
		pid:    int(nextPid.Add(1)) + 1000,
	}
	go p.serve(banner, handler)
	return p
}

func (p *Process) serve(banner string, handler Handler) {
	if banner != "" {
		if _, err := io.WriteString(p.outW, banner); err != nil {
			return
		}
	}

	scanner := bufio.NewScanner(p.stdinR)
	for scanner.Scan() {
		command := scanner.Text()
		p.mu.Lock()
		p.commands = append(p.commands, command)
		p.mu.Unlock()

		reply, quit := handler(command)
		if reply != "" {
			if _, err := io.WriteString(p.outW, reply); err != nil {
				return
			}
		}
		if quit {
			p.Exit()
			return
		}
	}
}

func (p *Process) Stdin() io.Writer  { return p.stdinW }
func (p *Process) Stdout() io.Reader { return p.outR }
func (p *Process) Pid() int          { return p.pid }

// Exit ends the process output as if the process had exited on its own
func (p *Process) Exit() {
	p.closeOnce.Do(func() {
		_ = p.outW.Close()
	})
}

func (p *Process) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	_ = p.stdinW.Close()
	p.Exit()
	return nil
}

// Terminated reports whether Terminate was called
func (p *Process) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Commands returns every command received so far
func (p *Process) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Launcher hands out fake processes
type Launcher struct {
	New func() *Process
	Err error

	mu       sync.Mutex
	launched []*Process
	targets  []string
}

var _ gdb.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(_ context.Context, executable string) (gdb.Process, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	p := l.New()
	l.mu.Lock()
	l.launched = append(l.launched, p)
	l.targets = append(l.targets, executable)
	l.mu.Unlock()
	return p, nil
}

// Launched returns every process started so far
func (l *Launcher) Launched() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Process(nil), l.launched...)
}

// Targets returns the executables passed to Launch
func (l *Launcher) Targets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.targets...)
}
