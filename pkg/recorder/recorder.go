package recorder

import "sync"

// Recorder receives the events of a session
type Recorder interface {
	RecordEvent(e Event) error
	GetEvents() []Event
	Clear()
}

// InMemoryRecorder keeps events in memory
type InMemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewInMemoryRecorder creates an empty in-memory recorder
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{events: []Event{}}
}

func (r *InMemoryRecorder) RecordEvent(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *InMemoryRecorder) GetEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *InMemoryRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = []Event{}
}

// Snapshots returns the snapshots carried by events, in order
func Snapshots(events []Event) []Snapshot {
	var out []Snapshot
	for _, e := range events {
		if e.Snapshot != nil {
			out = append(out, *e.Snapshot)
		}
	}
	return out
}
