package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/willibrandon/stepscope/pkg/debugger"
	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/gdb"
	"github.com/willibrandon/stepscope/pkg/memory"
	"github.com/willibrandon/stepscope/pkg/recorder"
)

// preamble configures gdb for line-oriented output. The print limit matches
// the element limit, so arrays are only cut where they would be capped anyway.
func preamble(maxElements int) []string {
	return []string{
		"set pagination off",
		"set confirm off",
		"set width 0",
		"set print elements " + strconv.Itoa(maxElements),
	}
}

const notRunning = "The program is not being run."

// gdbBackend drives a gdb child process through its prompt
type gdbBackend struct {
	launcher gdb.Launcher
	binary   string
	opts     Options
	log      logr.Logger

	conn        *gdb.Conn
	extractor   *extract.Extractor
	breakpoints *debugger.BreakpointManager
}

func newGDBBackend(launcher gdb.Launcher, binary string, opts Options, log logr.Logger) *gdbBackend {
	return &gdbBackend{
		launcher:    launcher,
		binary:      binary,
		opts:        opts,
		log:         log.WithName("gdb"),
		extractor:   extract.NewExtractor(memory.NewAddressSpace(opts.AddressBase, opts.MaxElements), opts.AddressMode, opts.Prompt, log),
		breakpoints: debugger.NewBreakpointManager(),
	}
}

func (b *gdbBackend) start(ctx context.Context) (*recorder.Snapshot, error) {
	proc, err := b.launcher.Launch(ctx, b.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
	}
	b.conn = gdb.NewConn(proc, b.opts.Prompt, b.log)

	banner := b.conn.Await(ctx, gdb.CollectOptions{Sentinel: b.opts.Prompt, Timeout: b.opts.CommandTimeout})
	if !banner.Matched {
		return nil, fmt.Errorf("%w: debugger did not show its prompt: %s", ErrProcessSpawn, banner.String())
	}

	for _, command := range preamble(b.opts.MaxElements) {
		if _, err := b.conn.Exec(ctx, command, b.opts.CommandTimeout); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
		}
	}

	if err := b.installBreakpoints(ctx); err != nil {
		return nil, err
	}

	run, err := b.conn.ExecUntil(ctx, "run", gdb.CollectOptions{
		Sentinel: b.opts.Prompt,
		Timeout:  b.opts.RunTimeout,
		Idle:     b.opts.IdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessSpawn, err)
	}
	return b.observe(ctx, run)
}

func (b *gdbBackend) installBreakpoints(ctx context.Context) error {
	locations := append([]string{b.opts.EntryPoint}, b.opts.Breakpoints...)
	for i, location := range locations {
		bp, err := b.breakpoints.AddBreakpoint(location)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInput, err)
		}
		reply, err := b.conn.Exec(ctx, "break "+bp.Location(), b.opts.CommandTimeout)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProcessSpawn, err)
		}
		id, _, _, ok := debugger.ParseInstalled(reply.Lines)
		if !ok {
			// the entry breakpoint is what makes stepping possible at all
			if i == 0 {
				return fmt.Errorf("%w: could not set breakpoint at %s: %s", ErrProcessSpawn, bp.Location(), reply.String())
			}
			b.log.Info("Breakpoint not installed", "Location", bp.Location())
			_ = b.breakpoints.DisableBreakpoint(bp.ID)
			continue
		}
		_ = b.breakpoints.MarkInstalled(bp.ID, id)
	}
	return nil
}

func (b *gdbBackend) step(ctx context.Context) (*recorder.Snapshot, error) {
	t, err := b.conn.ExecUntil(ctx, "next", gdb.CollectOptions{
		Sentinel: b.opts.Prompt,
		Timeout:  b.opts.CommandTimeout,
		Idle:     b.opts.IdleTimeout,
	})
	if errors.Is(err, gdb.ErrClosed) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.observe(ctx, t)
}

// observe turns a run or next transcript into a snapshot, nil once the
// program has finished
func (b *gdbBackend) observe(ctx context.Context, t gdb.Transcript) (*recorder.Snapshot, error) {
	if t.EOF || t.Empty(b.opts.Prompt) || t.Contains(notRunning) {
		return nil, nil
	}
	pos := b.extractor.Advance(t.Lines)
	if pos.Exited {
		return nil, nil
	}

	locals, err := b.conn.Exec(ctx, "info locals", b.opts.CommandTimeout)
	if errors.Is(err, gdb.ErrClosed) || locals.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if locals.Empty(b.opts.Prompt) || locals.Contains("No frame selected.") {
		return nil, nil
	}

	var resolver extract.Resolver
	if b.extractor.Mode() == extract.Live {
		resolver = extract.ResolverFunc(b.addressOf)
	}
	state := b.extractor.Locals(ctx, locals.Lines, resolver)

	return &recorder.Snapshot{
		Line:     pos.Line,
		Function: pos.Function,
		File:     pos.File,
		Source:   strings.TrimSpace(pos.Source),
		State:    state,
		Taken:    time.Now(),
	}, nil
}

func (b *gdbBackend) addressOf(ctx context.Context, name string) (extract.LiveAddress, bool) {
	reply, ok := b.conn.AddressOf(ctx, name, b.opts.CommandTimeout)
	if !ok {
		return extract.LiveAddress{}, false
	}
	pointee, count := reply.Pointee()
	return extract.LiveAddress{Address: reply.Address, Pointee: pointee, Count: count}, true
}

func (b *gdbBackend) close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close(b.opts.StopTimeout)
	b.conn = nil
	return err
}
