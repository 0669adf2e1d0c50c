package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-logr/logr"

	"github.com/willibrandon/stepscope/pkg/debugger"
	"github.com/willibrandon/stepscope/pkg/recorder"
)

// delveBackend drives a Go target through a delve headless server. Addresses
// are always the process's own.
type delveBackend struct {
	binary string
	lines  []string
	opts   Options
	log    logr.Logger

	dlv *debugger.DelveDebugger
}

func newDelveBackend(binary, source string, opts Options, log logr.Logger) *delveBackend {
	return &delveBackend{
		binary: binary,
		lines:  strings.Split(source, "\n"),
		opts:   opts,
		log:    log,
	}
}

func (b *delveBackend) start(ctx context.Context) (*recorder.Snapshot, error) {
	dlv, err := debugger.NewDelveDebugger(ctx, b.binary, debugger.DelveOptions{
		Path:           b.opts.DelvePath,
		ConnectTimeout: b.opts.RunTimeout,
	}, b.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
	}
	b.dlv = dlv

	entry := b.opts.EntryPoint
	if !strings.Contains(entry, ".") {
		entry = "main." + entry
	}
	if _, err := dlv.SetFunctionBreakpoint(entry); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
	}
	for _, location := range b.opts.Breakpoints {
		bp, err := debugger.ParseLocation(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInput, err)
		}
		if bp.Type == debugger.FunctionBreakpoint {
			_, err = dlv.SetFunctionBreakpoint(bp.Function)
		} else {
			_, err = dlv.SetBreakpoint(bp.File, bp.Line)
		}
		if err != nil {
			b.log.Info("Breakpoint not installed", "Location", location, "Error", err.Error())
		}
	}

	state, err := dlv.Continue()
	if errors.Is(err, debugger.ErrExited) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.observe(state)
}

func (b *delveBackend) step(context.Context) (*recorder.Snapshot, error) {
	state, err := b.dlv.Step()
	if errors.Is(err, debugger.ErrExited) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.observe(state)
}

func (b *delveBackend) observe(state *api.DebuggerState) (*recorder.Snapshot, error) {
	if state == nil || state.Exited || state.CurrentThread == nil {
		return nil, nil
	}
	vars, err := b.dlv.Locals()
	if errors.Is(err, debugger.ErrExited) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	th := state.CurrentThread
	snap := &recorder.Snapshot{
		Line:  th.Line,
		File:  th.File,
		State: debugger.State(vars),
		Taken: time.Now(),
	}
	if th.Function != nil {
		snap.Function = strings.TrimPrefix(th.Function.Name(), "main.")
	}
	if th.Line > 0 && th.Line <= len(b.lines) {
		snap.Source = strings.TrimSpace(b.lines[th.Line-1])
	}
	return snap, nil
}

func (b *delveBackend) close() error {
	if b.dlv == nil {
		return nil
	}
	err := b.dlv.Close()
	b.dlv = nil
	return err
}
