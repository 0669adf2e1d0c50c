// Package session runs one debugging session per submitted program: compile,
// launch the debugger, stop at the entry point and step a line at a time,
// reporting the program state after each stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/willibrandon/stepscope/pkg/compiler"
	"github.com/willibrandon/stepscope/pkg/config"
	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/gdb"
	"github.com/willibrandon/stepscope/pkg/memory"
	"github.com/willibrandon/stepscope/pkg/recorder"
)

// Options control how a session talks to its debugger
type Options struct {
	Language   string
	Prompt     string
	EntryPoint string
	// Breakpoints are extra locations installed after the entry breakpoint
	Breakpoints []string

	CommandTimeout time.Duration
	RunTimeout     time.Duration
	IdleTimeout    time.Duration
	StopTimeout    time.Duration

	AddressMode extract.Mode
	AddressBase uint64
	// MaxElements bounds how many elements of one array are tracked
	MaxElements int
	DelvePath   string
}

// OptionsFromConfig derives session options from the configuration
func OptionsFromConfig(cfg config.Config) (Options, error) {
	mode, err := extract.ParseMode(cfg.AddressMode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Language:       cfg.Language,
		Prompt:         cfg.Prompt,
		EntryPoint:     cfg.EntryPoint,
		CommandTimeout: cfg.CommandTimeout,
		RunTimeout:     cfg.RunTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		StopTimeout:    cfg.StopTimeout,
		AddressMode:    mode,
		AddressBase:    cfg.AddressBase,
		MaxElements:    cfg.MaxElements,
		DelvePath:      cfg.DelvePath,
	}, nil
}

// Session is one program under the debugger. Its operations are serialized.
type Session struct {
	id       string
	opts     Options
	compiler compiler.Compiler
	launcher gdb.Launcher
	rec      recorder.Recorder
	log      logr.Logger

	mu       sync.Mutex
	state    State
	backend  backend
	artifact *compiler.Artifact
	history  []recorder.Snapshot
	events   int64
}

// New creates a session in the NotStarted state. rec may be nil.
func New(id string, comp compiler.Compiler, launcher gdb.Launcher, rec recorder.Recorder, opts Options, log logr.Logger) *Session {
	if opts.MaxElements <= 0 {
		opts.MaxElements = memory.DefaultMaxElements
	}
	return &Session{
		id:       id,
		opts:     opts,
		compiler: comp,
		launcher: launcher,
		rec:      rec,
		log:      log.WithName("session").WithValues("SessionID", id),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of every snapshot taken so far
func (s *Session) History() []recorder.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recorder.Snapshot, len(s.history))
	for i, snap := range s.history {
		out[i] = snap.Clone()
	}
	return out
}

// Start compiles source, launches the debugger and runs to the entry point
func (s *Session) Start(ctx context.Context, source string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != NotStarted {
		return Result{}, fmt.Errorf("%w: cannot start a session that is %s", ErrInvalidTransition, s.state)
	}
	if strings.TrimSpace(source) == "" {
		return Result{}, s.failLocked(ErrInput)
	}

	art, err := s.compiler.Compile(ctx, source)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			s.log.Info("Compilation failed", "ExitCode", ce.ExitCode)
		}
		return Result{}, s.failLocked(err)
	}
	s.artifact = art

	switch s.opts.Language {
	case config.LanguageGo:
		s.backend = newDelveBackend(art.Binary, source, s.opts, s.log)
	default:
		s.backend = newGDBBackend(s.launcher, art.Binary, s.opts, s.log)
	}

	snap, err := s.backend.start(ctx)
	if err != nil {
		return Result{}, s.failLocked(err)
	}
	if snap == nil {
		// the program finished without reaching the entry point
		s.completeLocked()
		return completedResult(s.id), nil
	}

	s.state = Running
	s.log.Info("Session started", "Line", snap.Line, "Function", snap.Function)
	s.appendLocked(recorder.SessionStarted, *snap)
	return snapshotResult(s.id, s.history[len(s.history)-1]), nil
}

// Step executes one source line
func (s *Session) Step(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running, Stepping:
	case Completed:
		return completedResult(s.id), nil
	default:
		return Result{}, fmt.Errorf("%w: cannot step a session that is %s", ErrInvalidTransition, s.state)
	}

	snap, err := s.backend.step(ctx)
	if err != nil {
		return Result{}, s.failLocked(err)
	}
	if snap == nil {
		s.completeLocked()
		return completedResult(s.id), nil
	}

	s.state = Stepping
	s.appendLocked(recorder.Stepped, *snap)
	return snapshotResult(s.id, s.history[len(s.history)-1]), nil
}

// Stop releases the debugger and the compiled program. A second call
// returns ErrNoActiveSession.
func (s *Session) Stop() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped {
		return Result{}, ErrNoActiveSession
	}
	err := s.releaseLocked()
	s.state = Stopped
	s.record(recorder.Event{Type: recorder.SessionStopped})
	s.log.Info("Session stopped", "Snapshots", len(s.history))
	if err != nil {
		s.log.Error(err, "Failed to release session resources")
	}
	return Result{SessionID: s.id, Status: StatusStopped, Message: "Session stopped"}, nil
}

func (s *Session) appendLocked(t recorder.EventType, snap recorder.Snapshot) {
	snap.ID = int64(len(s.history))
	s.history = append(s.history, snap)
	stored := snap.Clone()
	s.record(recorder.Event{Type: t, Snapshot: &stored})
}

func (s *Session) completeLocked() {
	s.state = Completed
	if err := s.releaseBackendLocked(); err != nil {
		s.log.V(1).Info("Error closing debugger", "Error", err.Error())
	}
	s.record(recorder.Event{Type: recorder.SessionCompleted})
	s.log.Info("Program finished", "Snapshots", len(s.history))
}

func (s *Session) failLocked(err error) error {
	s.state = Error
	if releaseErr := s.releaseLocked(); releaseErr != nil {
		s.log.V(1).Info("Error releasing resources", "Error", releaseErr.Error())
	}
	s.record(recorder.Event{Type: recorder.SessionFailed, Details: err.Error()})
	s.log.Error(err, "Session failed")
	return err
}

func (s *Session) releaseBackendLocked() error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.close()
	s.backend = nil
	return err
}

func (s *Session) releaseLocked() error {
	err := s.releaseBackendLocked()
	if s.artifact != nil {
		err = errors.Join(err, s.artifact.Cleanup())
		s.artifact = nil
	}
	return err
}

func (s *Session) record(e recorder.Event) {
	if s.rec == nil {
		return
	}
	e.ID = s.events
	s.events++
	e.SessionID = s.id
	e.Timestamp = time.Now()
	if err := s.rec.RecordEvent(e); err != nil {
		s.log.V(1).Info("Failed to record event", "Type", e.Type.String(), "Error", err.Error())
	}
}
