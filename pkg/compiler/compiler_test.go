package compiler

import (
	"context"
	"errors"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shellToolchain "compiles" by running a shell snippet, so tests need no real compiler
func shellToolchain(t *testing.T, script string) *Toolchain {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	return &Toolchain{
		Path:       "sh",
		Args:       []string{"-c", script},
		SourceName: "prog.c",
		Dir:        t.TempDir(),
		Log:        logr.Discard(),
	}
}

func TestCompileRejectsEmptySource(t *testing.T) {
	tc := shellToolchain(t, "true")
	_, err := tc.Compile(context.Background(), "  \n\t")
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestCompileErrorCarriesDiagnosticsVerbatim(t *testing.T) {
	diag := "prog.c:3:5: error: expected ';' before 'return'"
	tc := shellToolchain(t, "echo \""+diag+"\" >&2; exit 1")

	_, err := tc.Compile(context.Background(), "int main() { return 0 }")
	require.Error(t, err)

	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, 1, compileErr.ExitCode)
	assert.Equal(t, diag+"\n", compileErr.Diagnostics)
	assert.Equal(t, diag+"\n", err.Error())

	entries, err := os.ReadDir(tc.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed builds leave nothing behind")
}

func TestCompileAndRun(t *testing.T) {
	tc := shellToolchain(t, "cp {src} {out} && chmod +x {out}")

	art, err := tc.Compile(context.Background(), "#!/bin/sh\necho hello\necho oops >&2\nexit 3\n")
	require.NoError(t, err)
	assert.FileExists(t, art.Source)
	assert.FileExists(t, art.Binary)

	out, err := Run(context.Background(), art, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.Equal(t, 3, out.ExitCode)
	assert.False(t, out.TimedOut)

	require.NoError(t, art.Cleanup())
	assert.NoDirExists(t, art.Dir)
	require.NoError(t, art.Cleanup())
}

func TestRunTimeout(t *testing.T) {
	tc := shellToolchain(t, "cp {src} {out} && chmod +x {out}")
	art, err := tc.Compile(context.Background(), "#!/bin/sh\nexec sleep 10\n")
	require.NoError(t, err)
	defer art.Cleanup()

	out, err := Run(context.Background(), art, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
}

func TestToolchainArguments(t *testing.T) {
	gcc := NewGCC("", nil, logr.Discard())
	assert.Equal(t, "gcc", gcc.Path)
	assert.Equal(t, []string{"-g", "-O0", "/b/prog.c", "-o", "/b/prog.out"},
		gcc.expand(&Artifact{Source: "/b/prog.c", Binary: "/b/prog.out"}))

	gob := NewGoBuild("", logr.Discard())
	assert.Equal(t, "main.go", gob.SourceName)
	assert.Contains(t, gob.Args, "-gcflags=all=-N -l")
}
