package gdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectStopsAtSentinel(t *testing.T) {
	lines := make(chan string, 4)
	lines <- "Starting program: /tmp/prog"
	lines <- "Breakpoint 1, main () at prog.c:3"
	lines <- "(gdb)"
	lines <- "left for the next collection"

	got := Collect(context.Background(), lines, CollectOptions{Sentinel: "(gdb)", Timeout: time.Second})

	assert.True(t, got.Matched)
	assert.False(t, got.TimedOut)
	assert.Len(t, got.Lines, 3)
	assert.Equal(t, "Starting program: /tmp/prog\nBreakpoint 1, main () at prog.c:3\n(gdb)", got.String())
	assert.Equal(t, "left for the next collection", <-lines)
}

func TestCollectReturnsPartialOutputOnTimeout(t *testing.T) {
	lines := make(chan string, 1)
	lines <- "partial"

	const timeout = 150 * time.Millisecond
	start := time.Now()
	got := Collect(context.Background(), lines, CollectOptions{Sentinel: "(gdb)", Timeout: timeout})
	elapsed := time.Since(start)

	assert.True(t, got.TimedOut)
	assert.False(t, got.Matched)
	assert.Equal(t, []string{"partial"}, got.Lines)
	assert.GreaterOrEqual(t, elapsed, timeout)
}

func TestCollectNeverReturnsEarlyWithoutSentinel(t *testing.T) {
	lines := make(chan string)
	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(10 * time.Millisecond)
			lines <- "noise"
		}
	}()

	const timeout = 200 * time.Millisecond
	start := time.Now()
	got := Collect(context.Background(), lines, CollectOptions{Sentinel: "(gdb)", Timeout: timeout})

	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.True(t, got.TimedOut)
	assert.Len(t, got.Lines, 5)
}

func TestCollectReturnsPromptlyOnceSentinelArrives(t *testing.T) {
	lines := make(chan string)
	go func() {
		time.Sleep(50 * time.Millisecond)
		lines <- "(gdb)"
	}()

	start := time.Now()
	got := Collect(context.Background(), lines, CollectOptions{Sentinel: "(gdb)", Timeout: 5 * time.Second})

	assert.True(t, got.Matched)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCollectReportsEOF(t *testing.T) {
	lines := make(chan string, 1)
	lines <- "[Inferior 1 (process 1) exited normally]"
	close(lines)

	got := Collect(context.Background(), lines, CollectOptions{Sentinel: "(gdb)", Timeout: time.Second})
	assert.True(t, got.EOF)
	assert.Len(t, got.Lines, 1)
}

func TestCollectIdle(t *testing.T) {
	lines := make(chan string, 1)
	lines <- "one"

	got := Collect(context.Background(), lines, CollectOptions{Timeout: 5 * time.Second, Idle: 50 * time.Millisecond})
	assert.True(t, got.Idle)
	assert.Equal(t, []string{"one"}, got.Lines)
}

func TestCollectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := Collect(ctx, make(chan string), CollectOptions{Sentinel: "(gdb)", Timeout: 5 * time.Second})
	require.False(t, got.Matched)
	assert.False(t, got.TimedOut)
}

func TestTranscriptHelpers(t *testing.T) {
	empty := Transcript{Lines: []string{"(gdb)", "  "}}
	assert.True(t, empty.Empty("(gdb)"))
	assert.False(t, empty.Empty("(dbg)>"))

	custom := Transcript{Lines: []string{"(dbg)> (dbg)>"}}
	assert.True(t, custom.Empty("(dbg)>"))

	full := Transcript{Lines: []string{"x = 1", "(gdb)"}}
	assert.False(t, full.Empty("(gdb)"))
	assert.True(t, full.Contains("x = "))
	assert.False(t, full.Contains("y = "))
}
