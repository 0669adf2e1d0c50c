package gdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/stepscope/pkg/gdb"
	"github.com/willibrandon/stepscope/pkg/gdb/gdbtest"
)

func newSimulatedConn(t *testing.T, sim *gdbtest.Simulator) (*gdb.Conn, *gdbtest.Process) {
	t.Helper()
	proc := sim.NewProcess()
	conn := gdb.NewConn(proc, "(gdb)", logr.Discard())
	t.Cleanup(func() { _ = conn.Close(time.Second) })

	banner := conn.Await(context.Background(), gdb.CollectOptions{Sentinel: "(gdb)", Timeout: 2 * time.Second})
	require.True(t, banner.Matched)
	return conn, proc
}

func TestConnExecCollectsUpToPrompt(t *testing.T) {
	sim := &gdbtest.Simulator{
		Stops: []gdbtest.Stop{{Line: 3, Source: "int x = 10;", Locals: []string{"x = 0"}}},
	}
	conn, _ := newSimulatedConn(t, sim)
	ctx := context.Background()

	_, err := conn.Exec(ctx, "break main", time.Second)
	require.NoError(t, err)

	run, err := conn.Exec(ctx, "run", time.Second)
	require.NoError(t, err)
	assert.True(t, run.Matched)
	assert.True(t, run.Contains("Breakpoint 1, main () at prog.c:3"))

	locals, err := conn.Exec(ctx, "info locals", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"x = 0", "(gdb)"}, locals.Lines)
}

func TestConnAddressOf(t *testing.T) {
	sim := &gdbtest.Simulator{
		Stops:     []gdbtest.Stop{{Line: 3, Source: "int x = 10;"}},
		Variables: []gdbtest.Variable{{Name: "x", Type: "int *", Address: "0x7ffe3c"}},
	}
	conn, _ := newSimulatedConn(t, sim)
	ctx := context.Background()

	_, err := conn.Exec(ctx, "run", time.Second)
	require.NoError(t, err)

	_, ok := conn.AddressOf(ctx, "nope", time.Second)
	assert.False(t, ok)

	reply, ok := conn.AddressOf(ctx, "x", time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, reply.ID)
	assert.Equal(t, "0x7ffe3c", reply.Address)
}

func TestConnAddressOfDiscardsLateReply(t *testing.T) {
	sim := &gdbtest.Simulator{
		Stops: []gdbtest.Stop{{Line: 4, Source: "int y = 2;"}},
		Variables: []gdbtest.Variable{
			{Name: "x", Type: "int *", Address: "0x7ffe3c"},
			{Name: "y", Type: "int *", Address: "0x7ffe40"},
		},
	}
	slow := func(command string) (string, bool) {
		if command == "print &x" {
			time.Sleep(300 * time.Millisecond)
		}
		return sim.Handle(command)
	}
	conn := gdb.NewConn(gdbtest.NewProcess(sim.Banner(), slow), "(gdb)", logr.Discard())
	t.Cleanup(func() { _ = conn.Close(time.Second) })
	ctx := context.Background()

	banner := conn.Await(ctx, gdb.CollectOptions{Sentinel: "(gdb)", Timeout: 2 * time.Second})
	require.True(t, banner.Matched)
	_, err := conn.Exec(ctx, "run", time.Second)
	require.NoError(t, err)

	_, ok := conn.AddressOf(ctx, "x", 100*time.Millisecond)
	assert.False(t, ok, "x times out")

	reply, ok := conn.AddressOf(ctx, "y", time.Second)
	require.True(t, ok)
	assert.Equal(t, "y", reply.Name)
	assert.Equal(t, 2, reply.ID)
	assert.Equal(t, "0x7ffe40", reply.Address)
}

func TestConnCustomPrompt(t *testing.T) {
	handler := func(command string) (string, bool) {
		switch command {
		case "print &x":
			return "$1 = (int *) 0x7ffe10\n(dbg)> ", false
		case "info locals":
			return "(dbg)> ", false
		}
		return "", true
	}
	conn := gdb.NewConn(gdbtest.NewProcess("(dbg)> ", handler), "(dbg)>", logr.Discard())
	t.Cleanup(func() { _ = conn.Close(time.Second) })
	ctx := context.Background()

	banner := conn.Await(ctx, gdb.CollectOptions{Sentinel: "(dbg)>", Timeout: 2 * time.Second})
	require.True(t, banner.Matched)

	reply, ok := conn.AddressOf(ctx, "x", time.Second)
	require.True(t, ok)
	assert.Equal(t, "0x7ffe10", reply.Address)

	locals, err := conn.Exec(ctx, "info locals", time.Second)
	require.NoError(t, err)
	assert.True(t, locals.Empty("(dbg)>"))
}

func TestConnCloseIsIdempotent(t *testing.T) {
	sim := &gdbtest.Simulator{}
	conn, proc := newSimulatedConn(t, sim)

	require.NoError(t, conn.Close(time.Second))
	require.NoError(t, conn.Close(time.Second))
	assert.True(t, proc.Terminated())
	assert.True(t, conn.Exited())

	_, err := conn.Exec(context.Background(), "next", time.Second)
	assert.ErrorIs(t, err, gdb.ErrClosed)
}

func TestConnObservesProcessExit(t *testing.T) {
	sim := &gdbtest.Simulator{}
	conn, proc := newSimulatedConn(t, sim)

	proc.Exit()
	got := conn.Await(context.Background(), gdb.CollectOptions{Sentinel: "(gdb)", Timeout: 2 * time.Second})
	assert.True(t, got.EOF)
	assert.Eventually(t, conn.Exited, time.Second, 10*time.Millisecond)
}
