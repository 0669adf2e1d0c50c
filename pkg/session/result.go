package session

import (
	"encoding/json"

	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/recorder"
)

// Status is the progress reported with every successful result
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// Result is what every session operation returns to its caller. When Error
// is set nothing else is meaningful and only the error is serialized.
type Result struct {
	SessionID    string        `json:"session_id,omitempty"`
	CurrentLine  *int          `json:"current_line"`
	FunctionName *string       `json:"function_name"`
	MemoryState  extract.State `json:"memory_state"`
	Status       Status        `json:"status,omitempty"`
	Message      string        `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// MarshalJSON writes {"error": ...} alone for failures
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	type plain Result
	p := plain(r)
	if p.MemoryState == nil {
		p.MemoryState = extract.State{}
	}
	return json.Marshal(p)
}

// Failed reports whether the result carries an error
func (r Result) Failed() bool {
	return r.Error != ""
}

func snapshotResult(id string, s recorder.Snapshot) Result {
	r := Result{SessionID: id, MemoryState: s.State, Status: StatusRunning}
	if s.Line > 0 {
		line := s.Line
		r.CurrentLine = &line
	}
	if s.Function != "" {
		fn := s.Function
		r.FunctionName = &fn
	}
	return r
}

func completedResult(id string) Result {
	return Result{SessionID: id, MemoryState: extract.State{}, Status: StatusCompleted}
}

func errorResult(id string, err error) Result {
	return Result{SessionID: id, Error: err.Error()}
}
