// Package cli is the interactive front end: it steps a live session or
// walks a recorded history, printing the program state at each stop.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/willibrandon/stepscope/pkg/debugger"
	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/recorder"
	"github.com/willibrandon/stepscope/pkg/replay"
	"github.com/willibrandon/stepscope/pkg/session"
)

// Stepper is a live session the CLI can advance
type Stepper interface {
	Step(ctx context.Context) (session.Result, error)
	History() []recorder.Snapshot
}

// CLI represents the command-line interface for stepping through a program
type CLI struct {
	stepper   Stepper
	replayer  *replay.BasicReplayer
	bpManager *debugger.BreakpointManager
	watches   []string
	finished  bool
	running   bool

	in  *bufio.Reader
	out io.Writer
}

// NewCLI creates a CLI over a live session. stepper may be nil to only
// browse the snapshots already loaded into replayer.
func NewCLI(stepper Stepper, replayer *replay.BasicReplayer, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		stepper:   stepper,
		replayer:  replayer,
		bpManager: debugger.NewBreakpointManager(),
		finished:  stepper == nil,
		in:        bufio.NewReader(in),
		out:       out,
	}
}

// Start begins the command loop
func (c *CLI) Start(ctx context.Context) {
	c.running = true

	fmt.Fprintln(c.out, "stepscope")
	if c.stepper == nil {
		fmt.Fprintln(c.out, "Replaying a recorded trace")
	}
	c.printHelp()
	if s, ok := c.current(); ok {
		c.printSnapshot(s)
	}

	for c.running {
		fmt.Fprint(c.out, "(stepscope) ")
		input, err := c.in.ReadString('\n')
		c.handleCommand(ctx, strings.TrimSpace(input))
		if err != nil {
			// end of input
			c.running = false
		}
		if ctx.Err() != nil {
			c.running = false
		}
	}
}

// RunToEnd steps until the program finishes, printing every stop
func (c *CLI) RunToEnd(ctx context.Context) error {
	if s, ok := c.current(); ok {
		c.printSnapshot(s)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := c.forward(ctx)
		if errors.Is(err, replay.ErrAtEnd) {
			fmt.Fprintln(c.out, "Program finished")
			return nil
		}
		if err != nil {
			return err
		}
		c.printSnapshot(s)
	}
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  step (s, n)       - Execute one line")
	fmt.Fprintln(c.out, "  back (b)          - Go back one line in the history")
	fmt.Fprintln(c.out, "  continue (c)      - Run until a breakpoint, a watched variable changes, or the end")
	fmt.Fprintln(c.out, "  info (i)          - Show the current line and memory")
	fmt.Fprintln(c.out, "  diff (d)          - Show what the last line changed")
	fmt.Fprintln(c.out, "  history (hist)    - List every stop so far")
	fmt.Fprintln(c.out, "  jump (j) <n>      - Show stop n of the history")
	fmt.Fprintln(c.out, "  breakpoint (bp) <line|file:line|func:name> - Stop continue there")
	fmt.Fprintln(c.out, "  bp list|remove|enable|disable <id>")
	fmt.Fprintln(c.out, "  watch (w) <name>  - Stop continue when a variable changes")
	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)          - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)          - Exit")
}

// handleCommand processes user input
func (c *CLI) handleCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "s", "n", "step", "next":
		c.handleStep(ctx)
	case "b", "back":
		c.handleBack()
	case "c", "continue":
		c.handleContinue(ctx)
	case "i", "info":
		c.handleInfo()
	case "d", "diff":
		c.handleDiff()
	case "hist", "history":
		c.handleHistory()
	case "j", "jump":
		c.handleJump(args)
	case "bp", "breakpoint":
		c.handleBreakpointCommand(args)
	case "w", "watch":
		c.handleWatch(args)
	case "q", "quit", "exit":
		c.running = false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
		c.printHelp()
	}
}

func (c *CLI) current() (recorder.Snapshot, bool) {
	idx := c.replayer.CurrentIndex()
	snaps := c.replayer.Snapshots()
	if idx < 0 || idx >= len(snaps) {
		return recorder.Snapshot{}, false
	}
	return snaps[idx], true
}

// forward moves through the recorded history first and steps the live
// session once the history is exhausted
func (c *CLI) forward(ctx context.Context) (recorder.Snapshot, error) {
	s, err := c.replayer.StepForward()
	if err == nil || !errors.Is(err, replay.ErrAtEnd) || c.finished {
		return s, err
	}

	res, err := c.stepper.Step(ctx)
	if err != nil {
		c.finished = true
		return recorder.Snapshot{}, err
	}
	if res.Status == session.StatusCompleted {
		c.finished = true
		return recorder.Snapshot{}, replay.ErrAtEnd
	}

	history := c.stepper.History()
	_ = c.replayer.Load(history)
	return c.replayer.JumpTo(len(history) - 1)
}

// handleStep executes a single step forward
func (c *CLI) handleStep(ctx context.Context) {
	s, err := c.forward(ctx)
	if errors.Is(err, replay.ErrAtEnd) {
		fmt.Fprintln(c.out, "Program finished")
		return
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error stepping: %v\n", err)
		return
	}
	c.printSnapshot(s)
}

func (c *CLI) handleBack() {
	s, err := c.replayer.StepBackward()
	if err != nil {
		fmt.Fprintln(c.out, "Already at the first line")
		return
	}
	c.printSnapshot(s)
}

// handleContinue steps until a breakpoint or watch fires
func (c *CLI) handleContinue(ctx context.Context) {
	prev, _ := c.current()
	for {
		s, err := c.forward(ctx)
		if errors.Is(err, replay.ErrAtEnd) {
			fmt.Fprintln(c.out, "Program finished")
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error continuing execution: %v\n", err)
			return
		}
		if c.bpManager.CheckBreakpoint(s.File, s.Line, s.Function) {
			fmt.Fprintf(c.out, "Breakpoint hit at line %d\n", s.Line)
			c.printSnapshot(s)
			return
		}
		if name, ok := c.watchFired(prev, s); ok {
			fmt.Fprintf(c.out, "Watched variable '%s' changed\n", name)
			c.printSnapshot(s)
			return
		}
		prev = s
	}
}

func (c *CLI) watchFired(prev, cur recorder.Snapshot) (string, bool) {
	for _, change := range replay.Diff(prev, cur) {
		for _, w := range c.watches {
			if change.Name == w {
				return w, true
			}
		}
	}
	return "", false
}

func (c *CLI) handleInfo() {
	s, ok := c.current()
	if !ok {
		fmt.Fprintln(c.out, "No line executed yet")
		return
	}
	c.printSnapshot(s)
}

func (c *CLI) handleDiff() {
	idx := c.replayer.CurrentIndex()
	snaps := c.replayer.Snapshots()
	if idx <= 0 || idx >= len(snaps) {
		fmt.Fprintln(c.out, "Nothing to compare against")
		return
	}
	changes := replay.Diff(snaps[idx-1], snaps[idx])
	if len(changes) == 0 {
		fmt.Fprintln(c.out, "No changes")
		return
	}
	for _, ch := range changes {
		b, ok := snaps[idx].State[ch.Name]
		if !ok {
			fmt.Fprintf(c.out, "  %-8s %s\n", ch.Type, ch.Name)
			continue
		}
		fmt.Fprintf(c.out, "  %-8s %s = %s\n", ch.Type, ch.Name, formatValue(b))
	}
}

func (c *CLI) handleHistory() {
	snaps := c.replayer.Snapshots()
	if len(snaps) == 0 {
		fmt.Fprintln(c.out, "History is empty")
		return
	}
	idx := c.replayer.CurrentIndex()
	for i, s := range snaps {
		marker := " "
		if i == idx {
			marker = ">"
		}
		fmt.Fprintf(c.out, "%s %3d  line %-4d %-12s %s\n", marker, i, s.Line, s.Function, s.Source)
	}
}

func (c *CLI) handleJump(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: jump <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid position: %v\n", err)
		return
	}
	s, err := c.replayer.JumpTo(n)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.printSnapshot(s)
}

// handleBreakpointCommand handles all breakpoint-related commands
func (c *CLI) handleBreakpointCommand(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: breakpoint <line|file:line|func:name> or <command> [args]")
		fmt.Fprintln(c.out, "Commands: list, remove, enable, disable")
		return
	}

	switch args[0] {
	case "list":
		c.handleListBreakpoints()
	case "remove", "enable", "disable":
		if len(args) < 2 {
			fmt.Fprintf(c.out, "Usage: bp %s <id>\n", args[0])
			return
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid breakpoint ID: %v\n", err)
			return
		}
		switch args[0] {
		case "remove":
			err = c.bpManager.RemoveBreakpoint(id)
		case "enable":
			err = c.bpManager.EnableBreakpoint(id)
		default:
			err = c.bpManager.DisableBreakpoint(id)
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Breakpoint %d: %sd\n", id, args[0])
	default:
		bp, err := c.bpManager.AddBreakpoint(strings.Join(args, " "))
		if err != nil {
			fmt.Fprintf(c.out, "Error setting breakpoint: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Breakpoint %d set at %s\n", bp.ID, bp.Location())
	}
}

func (c *CLI) handleListBreakpoints() {
	bps := c.bpManager.GetBreakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(c.out, "No breakpoints set")
		return
	}
	for _, bp := range bps {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(c.out, "%d: %s (%s) [%s]\n", bp.ID, bp.Location(), bp.Type, status)
	}
}

func (c *CLI) handleWatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: watch <name>")
		return
	}
	c.watches = append(c.watches, args[0])
	fmt.Fprintf(c.out, "Watching '%s'\n", args[0])
}

func (c *CLI) printSnapshot(s recorder.Snapshot) {
	where := fmt.Sprintf("Line %d", s.Line)
	if s.Function != "" {
		where += " in " + s.Function
	}
	if s.Source != "" {
		where += ": " + s.Source
	}
	fmt.Fprintln(c.out, where)

	if len(s.State) == 0 {
		fmt.Fprintln(c.out, "  (no variables)")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tTYPE\tVALUE\tADDRESS")
	for _, b := range s.State.Sorted() {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", b.Name, b.Type, formatValue(b), formatAddress(b))
	}
	_ = tw.Flush()
}

func formatValue(b extract.Binding) string {
	if b.Kind == extract.Aggregate {
		return "{" + strings.Join(b.Elements, ", ") + "}"
	}
	return b.Value
}

func formatAddress(b extract.Binding) string {
	if b.Kind == extract.Aggregate {
		if len(b.Addresses) == 0 {
			return ""
		}
		return b.Addresses[0] + " .. " + b.Addresses[len(b.Addresses)-1]
	}
	return b.Address
}
