// Package replay navigates a recorded stepping history without a live debugger.
package replay

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/willibrandon/stepscope/pkg/recorder"
)

var (
	// ErrAtEnd is returned when stepping forward past the last snapshot
	ErrAtEnd = errors.New("already at the end")
	// ErrAtStart is returned when stepping backward past the first snapshot
	ErrAtStart = errors.New("already at the beginning")
)

// Replayer walks a snapshot history in both directions
type Replayer interface {
	// Load replaces the history and rewinds to before the first snapshot
	Load([]recorder.Snapshot) error

	// StepForward moves to the next snapshot
	StepForward() (recorder.Snapshot, error)

	// StepBackward moves to the previous snapshot
	StepBackward() (recorder.Snapshot, error)

	// ReplayUntil moves forward until check accepts a snapshot or the history ends
	ReplayUntil(check func(recorder.Snapshot) bool) (recorder.Snapshot, bool)

	// JumpTo moves to the snapshot at idx
	JumpTo(idx int) (recorder.Snapshot, error)

	// CurrentIndex returns the current position, -1 before the first snapshot
	CurrentIndex() int

	// Snapshots returns the loaded history
	Snapshots() []recorder.Snapshot
}

// BasicReplayer implements the Replayer interface
type BasicReplayer struct {
	snapshots  []recorder.Snapshot
	currentIdx int
}

// NewBasicReplayer creates a new BasicReplayer
func NewBasicReplayer() *BasicReplayer {
	return &BasicReplayer{
		snapshots:  []recorder.Snapshot{},
		currentIdx: -1,
	}
}

// FromEvents creates a replayer over the snapshots carried by a trace
func FromEvents(events []recorder.Event) *BasicReplayer {
	r := NewBasicReplayer()
	_ = r.Load(recorder.Snapshots(events))
	return r
}

// Load loads the given snapshots into the replayer
func (r *BasicReplayer) Load(snapshots []recorder.Snapshot) error {
	r.snapshots = snapshots
	r.currentIdx = -1
	return nil
}

// StepForward moves one snapshot forward
func (r *BasicReplayer) StepForward() (recorder.Snapshot, error) {
	if r.currentIdx+1 >= len(r.snapshots) {
		return recorder.Snapshot{}, ErrAtEnd
	}
	r.currentIdx++
	return r.snapshots[r.currentIdx], nil
}

// StepBackward moves one snapshot backward
func (r *BasicReplayer) StepBackward() (recorder.Snapshot, error) {
	if r.currentIdx <= 0 {
		return recorder.Snapshot{}, ErrAtStart
	}
	r.currentIdx--
	return r.snapshots[r.currentIdx], nil
}

// ReplayUntil replays snapshots until check accepts one. With a nil check it
// replays to the last snapshot. The bool is false when the history ran out.
func (r *BasicReplayer) ReplayUntil(check func(recorder.Snapshot) bool) (recorder.Snapshot, bool) {
	for {
		s, err := r.StepForward()
		if err != nil {
			if r.currentIdx >= 0 && r.currentIdx < len(r.snapshots) {
				return r.snapshots[r.currentIdx], check == nil
			}
			return recorder.Snapshot{}, false
		}
		if check != nil && check(s) {
			return s, true
		}
	}
}

// JumpTo moves to the snapshot at idx
func (r *BasicReplayer) JumpTo(idx int) (recorder.Snapshot, error) {
	if idx < 0 || idx >= len(r.snapshots) {
		return recorder.Snapshot{}, fmt.Errorf("snapshot %d out of range [0, %d)", idx, len(r.snapshots))
	}
	r.currentIdx = idx
	return r.snapshots[idx], nil
}

// CurrentIndex returns the current snapshot index
func (r *BasicReplayer) CurrentIndex() int {
	return r.currentIdx
}

// Snapshots returns all loaded snapshots
func (r *BasicReplayer) Snapshots() []recorder.Snapshot {
	return r.snapshots
}

// ChangeType is how a variable differs between two snapshots
type ChangeType int

const (
	Added ChangeType = iota
	Removed
	Modified
)

// String returns the string representation of the ChangeType
func (c ChangeType) String() string {
	switch c {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "modified"
	}
}

// Change is one variable that differs between two snapshots
type Change struct {
	Name string
	Type ChangeType
}

// Diff lists the variables that differ from prev to cur, sorted by name
func Diff(prev, cur recorder.Snapshot) []Change {
	var changes []Change
	for name, b := range cur.State {
		old, ok := prev.State[name]
		switch {
		case !ok:
			changes = append(changes, Change{Name: name, Type: Added})
		case !reflect.DeepEqual(old, b):
			changes = append(changes, Change{Name: name, Type: Modified})
		}
	}
	for name := range prev.State {
		if _, ok := cur.State[name]; !ok {
			changes = append(changes, Change{Name: name, Type: Removed})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}
