package gdb

import (
	"context"
	"strings"
	"time"

	"github.com/willibrandon/stepscope/pkg/matcher"
)

// CollectOptions bound a single collection
type CollectOptions struct {
	// Sentinel ends the collection as soon as a line contains it. Empty means
	// collect until timeout or end of stream.
	Sentinel string
	// Timeout is the upper bound on the whole collection
	Timeout time.Duration
	// Idle, when positive, ends the collection once no line has arrived for that long
	Idle time.Duration
}

// Transcript is the ordered output collected between two synchronization points
type Transcript struct {
	Lines []string
	// Matched is true when the sentinel was seen (it is the last line)
	Matched bool
	TimedOut bool
	Idle     bool
	// EOF is true when the output stream ended during the collection
	EOF bool
}

// String joins the transcript lines with newlines
func (t Transcript) String() string {
	return strings.Join(t.Lines, "\n")
}

// Empty reports whether nothing but prompt tokens was collected
func (t Transcript) Empty(prompt string) bool {
	for _, l := range t.Lines {
		if matcher.StripPrompt(l, prompt) != "" {
			return false
		}
	}
	return true
}

// Contains reports whether any line contains s
func (t Transcript) Contains(s string) bool {
	for _, l := range t.Lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

// Collect drains lines until a line contains the sentinel, the timeout
// elapses, the idle bound elapses, the queue is closed or ctx is done.
// Running out of time is an ordinary outcome: whatever was collected so far
// is returned.
func Collect(ctx context.Context, lines <-chan string, opts CollectOptions) Transcript {
	var t Transcript

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	var idle *time.Timer
	var idleC <-chan time.Time
	if opts.Idle > 0 {
		idle = time.NewTimer(opts.Idle)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.EOF = true
				return t
			}
			t.Lines = append(t.Lines, line)
			if opts.Sentinel != "" && strings.Contains(line, opts.Sentinel) {
				t.Matched = true
				return t
			}
			if idle != nil {
				idle.Reset(opts.Idle)
			}

		case <-deadline.C:
			t.TimedOut = true
			return t

		case <-idleC:
			t.Idle = true
			return t

		case <-ctx.Done():
			return t
		}
	}
}
