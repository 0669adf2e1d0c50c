package session_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/stepscope/pkg/compiler"
	"github.com/willibrandon/stepscope/pkg/gdb/gdbtest"
	"github.com/willibrandon/stepscope/pkg/recorder"
	"github.com/willibrandon/stepscope/pkg/session"
)

func newRegistry(t *testing.T, deps session.Dependencies) (*session.Registry, *fakeCompiler) {
	t.Helper()
	comp := &fakeCompiler{t: t}
	if deps.Compilers == nil {
		deps.Compilers = map[string]compiler.Compiler{"c": comp}
	}
	if deps.Launcher == nil {
		deps.Launcher = &gdbtest.Launcher{New: func() *gdbtest.Process { return programSimulator().NewProcess() }}
	}
	r, err := session.NewRegistry(deps, testOptions(), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, comp
}

func TestRegistryLifecycle(t *testing.T) {
	r, _ := newRegistry(t, session.Dependencies{})
	ctx := context.Background()

	res := r.Start(ctx, program, session.StartOptions{ID: "abc"})
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, "abc", res.SessionID)
	assert.Equal(t, 1, r.Len())

	res = r.Step(ctx, "abc")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, 4, *res.CurrentLine)

	res = r.Stop("abc")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, 0, r.Len())

	res = r.Stop("abc")
	assert.Equal(t, "no active session", res.Error)

	res = r.Step(ctx, "abc")
	assert.Equal(t, "session not available", res.Error)

	history, ok := r.History("abc")
	require.True(t, ok, "finished histories stay available")
	assert.Len(t, history, 2)
}

func TestRegistryGeneratesIDs(t *testing.T) {
	r, _ := newRegistry(t, session.Dependencies{})
	ctx := context.Background()

	first := r.Start(ctx, program, session.StartOptions{})
	second := r.Start(ctx, program, session.StartOptions{})
	require.False(t, first.Failed(), first.Error)
	require.False(t, second.Failed(), second.Error)
	assert.NotEmpty(t, first.SessionID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, r.Len())
}

func TestRegistrySessionsHaveSeparateAddressSpaces(t *testing.T) {
	r, _ := newRegistry(t, session.Dependencies{})
	ctx := context.Background()

	for _, id := range []string{"one", "two"} {
		require.False(t, r.Start(ctx, program, session.StartOptions{ID: id}).Failed())
	}
	a := r.Step(ctx, "one")
	b := r.Step(ctx, "two")
	assert.Equal(t, "0x001000", a.MemoryState["x"].Address)
	assert.Equal(t, "0x001000", b.MemoryState["x"].Address)
}

func TestRegistryRestartReplacesSession(t *testing.T) {
	launcher := &gdbtest.Launcher{New: func() *gdbtest.Process { return programSimulator().NewProcess() }}
	r, _ := newRegistry(t, session.Dependencies{Launcher: launcher})
	ctx := context.Background()

	require.False(t, r.Start(ctx, program, session.StartOptions{ID: "abc"}).Failed())
	require.False(t, r.Start(ctx, program, session.StartOptions{ID: "abc"}).Failed())
	assert.Equal(t, 1, r.Len())

	procs := launcher.Launched()
	require.Len(t, procs, 2)
	assert.True(t, procs[0].Terminated())
	assert.False(t, procs[1].Terminated())
}

func TestRegistryStartFailures(t *testing.T) {
	r, comp := newRegistry(t, session.Dependencies{})
	ctx := context.Background()

	res := r.Start(ctx, "", session.StartOptions{ID: "empty"})
	assert.Equal(t, session.ErrInput.Error(), res.Error)
	assert.Equal(t, 0, r.Len())

	comp.err = &compiler.CompileError{ExitCode: 1, Diagnostics: "prog.c:1: error: boom\n"}
	res = r.Start(ctx, program, session.StartOptions{ID: "broken"})
	assert.Equal(t, "prog.c:1: error: boom\n", res.Error)
	assert.Equal(t, 0, r.Len())

	res = r.Start(ctx, program, session.StartOptions{ID: "rust", Language: "rust"})
	assert.Contains(t, res.Error, "unsupported language 'rust'")
}

func TestRegistryWritesTraces(t *testing.T) {
	dir := t.TempDir()
	r, _ := newRegistry(t, session.Dependencies{TraceDir: dir})
	ctx := context.Background()

	require.False(t, r.Start(ctx, program, session.StartOptions{ID: "traced"}).Failed())
	require.False(t, r.Step(ctx, "traced").Failed())
	require.False(t, r.Stop("traced").Failed())

	events, err := recorder.ReadTrace(filepath.Join(dir, "traced.trace"))
	require.NoError(t, err)
	require.Len(t, events, 3)
	snaps := recorder.Snapshots(events)
	require.Len(t, snaps, 2)
	assert.Equal(t, "0x001000", snaps[1].State["x"].Address)
}
