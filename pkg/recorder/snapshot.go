package recorder

import (
	"time"

	"github.com/willibrandon/stepscope/pkg/extract"
)

// Snapshot is the program state observed at one stop
type Snapshot struct {
	// ID is the position in the session's history, starting at 0
	ID       int64         `json:"id"`
	Line     int           `json:"line"`
	Function string        `json:"function,omitempty"`
	File     string        `json:"file,omitempty"`
	Source   string        `json:"source,omitempty"`
	State    extract.State `json:"memory_state"`
	Taken    time.Time     `json:"taken"`
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	s.State = s.State.Clone()
	return s
}
