// Package compiler turns submitted source text into a debuggable executable.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-logr/logr"
)

// ErrEmptySource is returned when there is nothing to compile
var ErrEmptySource = errors.New("no source code provided")

// CompileError is a nonzero compiler exit. Diagnostics is the compiler's
// output, unchanged.
type CompileError struct {
	ExitCode    int
	Diagnostics string
}

func (e *CompileError) Error() string {
	return e.Diagnostics
}

// Artifact is a compiled program in its own temporary directory
type Artifact struct {
	Dir    string
	Source string
	Binary string
}

// Cleanup removes the artifact's directory
func (a *Artifact) Cleanup() error {
	if a == nil || a.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(a.Dir); err != nil {
		return fmt.Errorf("failed to remove build directory %s: %w", a.Dir, err)
	}
	return nil
}

// Compiler builds source text into an Artifact
type Compiler interface {
	Compile(ctx context.Context, source string) (*Artifact, error)
}

// Toolchain runs an external compiler. Args may reference {src} and {out},
// which are replaced by the source and binary paths.
type Toolchain struct {
	Path string
	Args []string
	// SourceName is the file name the source is written to
	SourceName string
	// Dir is where temporary build directories are created, os.TempDir() when empty
	Dir string
	Env []string
	Log logr.Logger
}

// NewGCC returns a toolchain compiling C with debug information and no optimization
func NewGCC(path string, flags []string, log logr.Logger) *Toolchain {
	if path == "" {
		path = "gcc"
	}
	if flags == nil {
		flags = []string{"-g", "-O0"}
	}
	args := append(append([]string(nil), flags...), "{src}", "-o", "{out}")
	return &Toolchain{Path: path, Args: args, SourceName: "prog.c", Log: log.WithName("gcc")}
}

// NewGoBuild returns a toolchain building a single-file Go program with
// optimizations and inlining disabled, as delve needs
func NewGoBuild(path string, log logr.Logger) *Toolchain {
	if path == "" {
		path = "go"
	}
	return &Toolchain{
		Path:       path,
		Args:       []string{"build", "-gcflags=all=-N -l", "-o", "{out}", "{src}"},
		SourceName: "main.go",
		Env:        []string{"GO111MODULE=off"},
		Log:        log.WithName("gobuild"),
	}
}

// Compile writes source to a fresh temporary directory and compiles it there.
// A nonzero exit is reported as *CompileError and leaves nothing behind.
func (t *Toolchain) Compile(ctx context.Context, source string) (*Artifact, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}

	dir, err := os.MkdirTemp(t.Dir, "stepscope-")
	if err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}
	art := &Artifact{
		Dir:    dir,
		Source: filepath.Join(dir, t.SourceName),
		Binary: filepath.Join(dir, binaryName()),
	}

	if err := os.WriteFile(art.Source, []byte(source), 0o600); err != nil {
		_ = art.Cleanup()
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.Path, t.expand(art)...)
	cmd.Dir = dir
	if len(t.Env) > 0 {
		cmd.Env = append(os.Environ(), t.Env...)
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	t.Log.V(1).Info("Compiling", "Command", cmd.String())
	if err := cmd.Run(); err != nil {
		_ = art.Cleanup()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CompileError{ExitCode: exitErr.ExitCode(), Diagnostics: output.String()}
		}
		return nil, fmt.Errorf("failed to run compiler %s: %w", t.Path, err)
	}

	t.Log.Info("Compiled", "Binary", art.Binary)
	return art, nil
}

func (t *Toolchain) expand(art *Artifact) []string {
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		a = strings.ReplaceAll(a, "{src}", art.Source)
		args[i] = strings.ReplaceAll(a, "{out}", art.Binary)
	}
	return args
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "prog.exe"
	}
	return "prog.out"
}
