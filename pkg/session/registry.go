package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/willibrandon/stepscope/pkg/compiler"
	"github.com/willibrandon/stepscope/pkg/config"
	"github.com/willibrandon/stepscope/pkg/gdb"
	"github.com/willibrandon/stepscope/pkg/recorder"
)

// Dependencies are the collaborators every session of a registry shares
type Dependencies struct {
	// Compilers is keyed by language
	Compilers map[string]compiler.Compiler
	Launcher  gdb.Launcher
	// TraceDir receives one trace file per session when set
	TraceDir string
	// HistoryCacheSize is how many finished histories stay available
	HistoryCacheSize int
}

// Registry maps session ids to sessions. Every method converts failures,
// panics included, into a Result carrying only an error.
type Registry struct {
	deps Dependencies
	opts Options
	log  logr.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	traces   map[string]*recorder.FileRecorder
	finished *lru.Cache
}

// NewRegistry creates an empty registry
func NewRegistry(deps Dependencies, opts Options, log logr.Logger) (*Registry, error) {
	size := deps.HistoryCacheSize
	if size <= 0 {
		size = 64
	}
	finished, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create history cache: %w", err)
	}
	if deps.TraceDir != "" {
		if err := os.MkdirAll(deps.TraceDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory %s: %w", deps.TraceDir, err)
		}
	}
	return &Registry{
		deps:     deps,
		opts:     opts,
		log:      log.WithName("registry"),
		sessions: make(map[string]*Session),
		traces:   make(map[string]*recorder.FileRecorder),
		finished: finished,
	}, nil
}

// StartOptions are per-session overrides for Start
type StartOptions struct {
	// ID is generated when empty
	ID          string
	Language    string
	Breakpoints []string
}

// Start creates a session for source and runs it to the entry point. A
// session already registered under the same id is stopped first.
func (r *Registry) Start(ctx context.Context, source string, so StartOptions) (res Result) {
	id := so.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	defer r.recoverInto(id, &res)

	if old := r.remove(id); old != nil {
		r.log.Info("Replacing session", "SessionID", id)
		_, _ = old.Stop()
		r.finish(old)
	}

	opts := r.opts
	if so.Language != "" {
		opts.Language = so.Language
	}
	if opts.Language == "" {
		opts.Language = config.LanguageC
	}
	opts.Breakpoints = append(append([]string(nil), opts.Breakpoints...), so.Breakpoints...)

	comp, ok := r.deps.Compilers[opts.Language]
	if !ok {
		return errorResult(id, fmt.Errorf("%w: unsupported language '%s'", ErrInput, opts.Language))
	}

	var rec recorder.Recorder
	if r.deps.TraceDir != "" {
		fr, err := recorder.NewFileRecorder(filepath.Join(r.deps.TraceDir, id+".trace"))
		if err != nil {
			r.log.Error(err, "Trace recording disabled", "SessionID", id)
		} else {
			rec = fr
			r.mu.Lock()
			r.traces[id] = fr
			r.mu.Unlock()
		}
	}

	s := New(id, comp, r.deps.Launcher, rec, opts, r.log)
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	result, err := s.Start(ctx, source)
	if err != nil {
		r.remove(id)
		r.finish(s)
		return errorResult(id, err)
	}
	return result
}

// Step advances the session one line
func (r *Registry) Step(ctx context.Context, id string) (res Result) {
	defer r.recoverInto(id, &res)

	s := r.get(id)
	if s == nil {
		return errorResult(id, ErrSessionNotFound)
	}
	result, err := s.Step(ctx)
	if err != nil {
		return errorResult(id, err)
	}
	return result
}

// Stop ends the session and forgets it
func (r *Registry) Stop(id string) (res Result) {
	defer r.recoverInto(id, &res)

	s := r.remove(id)
	if s == nil {
		return errorResult(id, ErrNoActiveSession)
	}
	result, err := s.Stop()
	r.finish(s)
	if err != nil {
		return errorResult(id, err)
	}
	return result
}

// History returns the snapshots of a live or recently finished session
func (r *Registry) History(id string) ([]recorder.Snapshot, bool) {
	if s := r.get(id); s != nil {
		return s.History(), true
	}
	if v, ok := r.finished.Get(id); ok {
		history := v.([]recorder.Snapshot)
		out := make([]recorder.Snapshot, len(history))
		for i, snap := range history {
			out[i] = snap.Clone()
		}
		return out, true
	}
	return nil, false
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every session
func (r *Registry) Close() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if res := r.Stop(id); res.Failed() {
			errs = append(errs, fmt.Errorf("session %s: %s", id, res.Error))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *Registry) remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

// finish keeps the history of a session that left the registry and closes its trace
func (r *Registry) finish(s *Session) {
	r.finished.Add(s.ID(), s.History())

	r.mu.Lock()
	fr, ok := r.traces[s.ID()]
	delete(r.traces, s.ID())
	r.mu.Unlock()
	if ok {
		if err := fr.Close(); err != nil {
			r.log.Error(err, "Failed to close trace", "Path", fr.Path())
		}
	}
}

func (r *Registry) recoverInto(id string, res *Result) {
	if p := recover(); p != nil {
		r.log.Error(fmt.Errorf("%v", p), "Recovered from panic", "SessionID", id)
		*res = errorResult(id, fmt.Errorf("internal error: %v", p))
	}
}
