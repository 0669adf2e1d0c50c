// Package server exposes sessions over HTTP. The caller's session id travels
// in a cookie so a browser needs no extra bookkeeping.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/willibrandon/stepscope/pkg/compiler"
	"github.com/willibrandon/stepscope/pkg/config"
	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/memory"
	"github.com/willibrandon/stepscope/pkg/session"
)

// SessionCookie carries the session id between requests
const SessionCookie = "stepscope_session"

const maxBodyBytes = 1 << 20

// StartRequest is the body of POST /start, POST /run and POST /visualize
type StartRequest struct {
	Code        string   `json:"c_code"`
	Language    string   `json:"language,omitempty"`
	Breakpoints []string `json:"breakpoints,omitempty"`
}

// RunResponse is the body returned by POST /run
type RunResponse struct {
	Output   string `json:"output,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VisualizeResponse is the body returned by POST /visualize
type VisualizeResponse struct {
	MemoryState extract.State `json:"memory_state,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Options are the settings for the requests that bypass the session registry
type Options struct {
	// RunTimeout bounds POST /run
	RunTimeout time.Duration
	// AddressBase and MaxElements shape the POST /visualize layout
	AddressBase uint64
	MaxElements int
}

// Server routes HTTP requests to a session registry
type Server struct {
	registry  *session.Registry
	compilers map[string]compiler.Compiler
	opts      Options
	mux       *http.ServeMux
	log       logr.Logger
}

// New creates the HTTP handler
func New(registry *session.Registry, compilers map[string]compiler.Compiler, opts Options, log logr.Logger) *Server {
	s := &Server{
		registry:  registry,
		compilers: compilers,
		opts:      opts,
		mux:       http.NewServeMux(),
		log:       log.WithName("server"),
	}
	s.mux.HandleFunc("POST /start", s.start)
	s.mux.HandleFunc("POST /step", s.step)
	s.mux.HandleFunc("POST /stop", s.stop)
	s.mux.HandleFunc("POST /run", s.run)
	s.mux.HandleFunc("POST /visualize", s.visualize)
	s.mux.HandleFunc("GET /history", s.history)
	s.mux.Handle("/", http.NotFoundHandler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decode(w, r, &req) {
		return
	}

	id := sessionID(r)
	res := s.registry.Start(r.Context(), req.Code, session.StartOptions{
		ID:          id,
		Language:    req.Language,
		Breakpoints: req.Breakpoints,
	})
	if res.SessionID != "" && res.SessionID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    res.SessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	s.log.V(1).Info("Start", "SessionID", res.SessionID, "Error", res.Error)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) step(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Step(r.Context(), sessionID(r)))
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stop(sessionID(r)))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = sessionID(r)
	}
	snaps, ok := s.registry.History(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: session.ErrSessionNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// run compiles the program and runs it without a debugger
func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeJSON(w, http.StatusOK, RunResponse{Error: session.ErrInput.Error()})
		return
	}
	language := req.Language
	if language == "" {
		language = config.LanguageC
	}
	comp, ok := s.compilers[language]
	if !ok {
		writeJSON(w, http.StatusOK, RunResponse{Error: fmt.Sprintf("unsupported language '%s'", language)})
		return
	}

	art, err := comp.Compile(r.Context(), req.Code)
	if err != nil {
		writeJSON(w, http.StatusOK, RunResponse{Error: err.Error()})
		return
	}
	defer func() {
		if err := art.Cleanup(); err != nil {
			s.log.Error(err, "Failed to clean up build")
		}
	}()

	out, err := compiler.Run(r.Context(), art, s.opts.RunTimeout)
	if err != nil {
		writeJSON(w, http.StatusOK, RunResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{
		Output:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		TimedOut: out.TimedOut,
	})
}

// visualize lays out the variables the source declares without compiling or running it
func (s *Server) visualize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeJSON(w, http.StatusOK, VisualizeResponse{Error: session.ErrInput.Error()})
		return
	}

	space := memory.NewAddressSpace(s.opts.AddressBase, s.opts.MaxElements)
	state := extract.FromSource(req.Code, space, s.log)
	s.log.V(1).Info("Visualize", "Variables", len(state))
	writeJSON(w, http.StatusOK, VisualizeResponse{MemoryState: state})
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening", "Address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func sessionID(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid body: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
