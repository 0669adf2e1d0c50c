package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/stepscope/pkg/compiler"
	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/gdb/gdbtest"
	"github.com/willibrandon/stepscope/pkg/memory"
	"github.com/willibrandon/stepscope/pkg/recorder"
	"github.com/willibrandon/stepscope/pkg/session"
)

const program = `#include <stdio.h>
int main() {
  int x = 10;
  int arr[3] = {1, 2, 3};
  int *p = &x;
  return 0;
}
`

// fakeCompiler writes nothing but a build directory, or fails with err
type fakeCompiler struct {
	t         *testing.T
	err       error
	artifacts []*compiler.Artifact
}

func (c *fakeCompiler) Compile(_ context.Context, source string) (*compiler.Artifact, error) {
	if c.err != nil {
		return nil, c.err
	}
	dir, err := os.MkdirTemp(c.t.TempDir(), "build-")
	require.NoError(c.t, err)
	art := &compiler.Artifact{
		Dir:    dir,
		Source: filepath.Join(dir, "prog.c"),
		Binary: filepath.Join(dir, "prog.out"),
	}
	c.artifacts = append(c.artifacts, art)
	return art, nil
}

func programSimulator() *gdbtest.Simulator {
	return &gdbtest.Simulator{
		Stops: []gdbtest.Stop{
			{Line: 3, Source: "int x = 10;", Locals: []string{"x = 21845", "arr = {0, 0, 0}", "p = 0x0"}},
			{Line: 4, Source: "int arr[3] = {1, 2, 3};", Locals: []string{"x = 10", "arr = {0, 0, 0}", "p = 0x0"}},
			{Line: 5, Source: "int *p = &x;", Locals: []string{"x = 10", "arr = {1, 2, 3}", "p = 0x0"}},
			{Line: 6, Source: "return 0;", Locals: []string{"x = 10", "arr = {1, 2, 3}", "p = 0x7ffe3c"}},
		},
		Variables: []gdbtest.Variable{
			{Name: "x", Type: "int *", Address: "0x7ffe3c"},
			{Name: "arr", Type: "int (*)[3]", Address: "0x7ffe40"},
			{Name: "p", Type: "int **", Address: "0x7ffe50"},
		},
	}
}

func testOptions() session.Options {
	return session.Options{
		Language:       "c",
		Prompt:         "(gdb)",
		EntryPoint:     "main",
		CommandTimeout: 2 * time.Second,
		RunTimeout:     2 * time.Second,
		StopTimeout:    time.Second,
		AddressMode:    extract.Simulated,
		AddressBase:    memory.DefaultBase,
	}
}

func newSession(t *testing.T, sim *gdbtest.Simulator, opts session.Options) (*session.Session, *fakeCompiler, *gdbtest.Launcher) {
	t.Helper()
	comp := &fakeCompiler{t: t}
	launcher := &gdbtest.Launcher{New: sim.NewProcess}
	s := session.New("test", comp, launcher, nil, opts, logr.Discard())
	t.Cleanup(func() { _, _ = s.Stop() })
	return s, comp, launcher
}

func TestSessionStepsThroughDeclarations(t *testing.T) {
	s, _, launcher := newSession(t, programSimulator(), testOptions())
	ctx := context.Background()

	res, err := s.Start(ctx, program)
	require.NoError(t, err)
	require.NotNil(t, res.CurrentLine)
	assert.Equal(t, 3, *res.CurrentLine)
	require.NotNil(t, res.FunctionName)
	assert.Equal(t, "main", *res.FunctionName)
	assert.Equal(t, session.StatusRunning, res.Status)
	assert.Empty(t, res.MemoryState)
	assert.Equal(t, session.Running, s.State())

	res, err = s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, *res.CurrentLine)
	require.Contains(t, res.MemoryState, "x")
	assert.Equal(t, "10", res.MemoryState["x"].Value)
	assert.Equal(t, "0x001000", res.MemoryState["x"].Address)
	assert.Equal(t, session.Stepping, s.State())

	res, err = s.Step(ctx)
	require.NoError(t, err)
	require.Contains(t, res.MemoryState, "arr")
	assert.Equal(t, []string{"1", "2", "3"}, res.MemoryState["arr"].Elements)
	assert.Equal(t, []string{"0x001004", "0x001008", "0x00100c"}, res.MemoryState["arr"].Addresses)

	res, err = s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, *res.CurrentLine)
	require.Contains(t, res.MemoryState, "p")
	assert.Equal(t, "0x001000", res.MemoryState["p"].Value)
	assert.Equal(t, "0x001010", res.MemoryState["p"].Address)

	res, err = s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Nil(t, res.CurrentLine)
	assert.Empty(t, res.MemoryState)
	assert.Equal(t, session.Completed, s.State())

	res, err = s.Step(ctx)
	require.NoError(t, err, "stepping a finished session keeps reporting completion")
	assert.Equal(t, session.StatusCompleted, res.Status)

	assert.Len(t, s.History(), 4)

	procs := launcher.Launched()
	require.Len(t, procs, 1)
	assert.Equal(t, []string{
		"set pagination off",
		"set confirm off",
		"set width 0",
		"set print elements 4096",
		"break main",
		"run",
	}, procs[0].Commands()[:6])
}

func TestSessionStartRejectsEmptySource(t *testing.T) {
	s, comp, launcher := newSession(t, programSimulator(), testOptions())

	_, err := s.Start(context.Background(), "  \n\t")
	assert.ErrorIs(t, err, session.ErrInput)
	assert.Equal(t, session.Error, s.State())
	assert.Empty(t, comp.artifacts)
	assert.Empty(t, launcher.Launched())
}

func TestSessionCompileErrorIsVerbatim(t *testing.T) {
	diagnostics := "prog.c:3:13: error: expected ';' before 'return'\n"
	s, comp, launcher := newSession(t, programSimulator(), testOptions())
	comp.err = &compiler.CompileError{ExitCode: 1, Diagnostics: diagnostics}

	_, err := s.Start(context.Background(), program)
	require.Error(t, err)
	assert.Equal(t, diagnostics, err.Error())
	assert.Equal(t, session.Error, s.State())
	assert.Empty(t, launcher.Launched())
}

func TestSessionSpawnFailureReleasesArtifact(t *testing.T) {
	s, comp, launcher := newSession(t, programSimulator(), testOptions())
	launcher.Err = errors.New("exec: \"gdb\": executable file not found in $PATH")

	_, err := s.Start(context.Background(), program)
	assert.ErrorIs(t, err, session.ErrProcessSpawn)
	assert.Equal(t, session.Error, s.State())

	require.Len(t, comp.artifacts, 1)
	_, statErr := os.Stat(comp.artifacts[0].Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSessionStepBeforeStart(t *testing.T) {
	s, _, _ := newSession(t, programSimulator(), testOptions())

	_, err := s.Step(context.Background())
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, session.NotStarted, s.State())
}

func TestSessionStopTwice(t *testing.T) {
	s, comp, launcher := newSession(t, programSimulator(), testOptions())
	ctx := context.Background()

	_, err := s.Start(ctx, program)
	require.NoError(t, err)

	res, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, session.StatusStopped, res.Status)
	assert.Equal(t, session.Stopped, s.State())
	assert.True(t, launcher.Launched()[0].Terminated())
	_, statErr := os.Stat(comp.artifacts[0].Dir)
	assert.True(t, os.IsNotExist(statErr))

	_, err = s.Stop()
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	_, err = s.Step(ctx)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestSessionProcessExitCompletes(t *testing.T) {
	sim := programSimulator()
	sim.Stops = sim.Stops[:1]
	sim.ExitOnFinish = true
	sim.ProgramOutput = "hello\n"
	s, _, _ := newSession(t, sim, testOptions())
	ctx := context.Background()

	_, err := s.Start(ctx, program)
	require.NoError(t, err)

	res, err := s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, session.Completed, s.State())
}

func TestSessionProgramWithoutStops(t *testing.T) {
	sim := programSimulator()
	sim.Stops = nil
	s, _, _ := newSession(t, sim, testOptions())

	res, err := s.Start(context.Background(), program)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, session.Completed, s.State())
}

func TestSessionLiveAddresses(t *testing.T) {
	opts := testOptions()
	opts.AddressMode = extract.Live
	s, _, _ := newSession(t, programSimulator(), opts)
	ctx := context.Background()

	res, err := s.Start(ctx, program)
	require.NoError(t, err)
	require.Len(t, res.MemoryState, 3, "live mode reports every local")
	assert.Equal(t, "0x7ffe3c", res.MemoryState["x"].Address)
	assert.Equal(t, []string{"0x7ffe40", "0x7ffe44", "0x7ffe48"}, res.MemoryState["arr"].Addresses)
	assert.Equal(t, "0x7ffe50", res.MemoryState["p"].Address)
}

func TestSessionCapsLargeArrays(t *testing.T) {
	sim := &gdbtest.Simulator{
		Stops: []gdbtest.Stop{
			{Line: 3, Source: "char buf[20000000];", Locals: []string{"buf = '\\000' <repeats 8 times>..."}},
			{Line: 4, Source: "int big[100] = {1, 2, 3};", Locals: []string{"buf = \"abcdefgh\"...", "big = {0 <repeats 8 times>...}"}},
			{Line: 5, Source: "return 0;", Locals: []string{"buf = \"abcdefgh\"...", "big = {1, 2, 3, 0, 0, 0, 0, 0...}"}},
		},
	}
	opts := testOptions()
	opts.MaxElements = 8
	s, _, launcher := newSession(t, sim, opts)
	ctx := context.Background()

	_, err := s.Start(ctx, program)
	require.NoError(t, err)

	res, err := s.Step(ctx)
	require.NoError(t, err)
	require.Contains(t, res.MemoryState, "buf")
	buf := res.MemoryState["buf"]
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, buf.Elements)
	assert.Len(t, buf.Addresses, 8)

	res, err = s.Step(ctx)
	require.NoError(t, err)
	require.Contains(t, res.MemoryState, "big")
	big := res.MemoryState["big"]
	assert.Equal(t, []string{"1", "2", "3", "0", "0", "0", "0", "0"}, big.Elements)
	assert.Equal(t, "0x1313d00", big.Addresses[0], "big starts after all of buf")

	assert.Contains(t, launcher.Launched()[0].Commands(), "set print elements 8")
}

func TestSessionRecordsEvents(t *testing.T) {
	comp := &fakeCompiler{t: t}
	sim := programSimulator()
	rec := recorder.NewInMemoryRecorder()
	s := session.New("traced", comp, &gdbtest.Launcher{New: sim.NewProcess}, rec, testOptions(), logr.Discard())
	ctx := context.Background()

	_, err := s.Start(ctx, program)
	require.NoError(t, err)
	_, err = s.Step(ctx)
	require.NoError(t, err)
	_, err = s.Stop()
	require.NoError(t, err)

	events := rec.GetEvents()
	require.Len(t, events, 3)
	assert.Equal(t, recorder.SessionStarted, events[0].Type)
	assert.Equal(t, recorder.Stepped, events[1].Type)
	assert.Equal(t, recorder.SessionStopped, events[2].Type)
	assert.Equal(t, "traced", events[1].SessionID)

	snaps := recorder.Snapshots(events)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1), snaps[1].ID)
	assert.Equal(t, 4, snaps[1].Line)
}

func TestResultJSON(t *testing.T) {
	line, fn := 4, "main"
	res := session.Result{
		CurrentLine:  &line,
		FunctionName: &fn,
		MemoryState:  extract.State{"x": {Name: "x", Type: "int", Value: "10", Address: "0x001000"}},
		Status:       session.StatusRunning,
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, float64(4), got["current_line"])
	assert.Equal(t, "main", got["function_name"])
	assert.Equal(t, "running", got["status"])
	assert.Contains(t, got["memory_state"], "x")
	assert.NotContains(t, got, "error")

	data, err = json.Marshal(session.Result{Error: "session not available", Status: session.StatusRunning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error": "session not available"}`, string(data))

	data, err = json.Marshal(session.Result{Status: session.StatusCompleted})
	require.NoError(t, err)
	assert.JSONEq(t, `{"current_line": null, "function_name": null, "memory_state": {}, "status": "completed"}`, string(data))
}
