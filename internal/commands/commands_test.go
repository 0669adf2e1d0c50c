package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/logger"
	"github.com/willibrandon/stepscope/pkg/recorder"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, err := NewRootCmd(logger.New("test"))
	require.NoError(t, err)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stepscope v")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version":`)
}

func TestReplayCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.trace")
	fr, err := recorder.NewFileRecorder(path)
	require.NoError(t, err)
	x := extract.Binding{Name: "x", Type: "int", Value: "10", Address: "0x001000"}
	for i, line := range []int{3, 4} {
		snap := recorder.Snapshot{ID: int64(i), Line: line, Function: "main", State: extract.State{"x": x}}
		require.NoError(t, fr.RecordEvent(recorder.Event{ID: int64(i), Type: recorder.Stepped, Snapshot: &snap}))
	}
	require.NoError(t, fr.Close())

	out, err := execute(t, "replay", "--all", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Line 4 in main")
	assert.Contains(t, out, "0x001000")
	assert.Contains(t, out, "Program finished")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	_, err := execute(t, "--address-mode", "psychic", "version")
	assert.ErrorContains(t, err, "unknown address mode 'psychic'")
}
