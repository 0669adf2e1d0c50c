package replay

import (
	"errors"
	"testing"

	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/recorder"
)

func history() []recorder.Snapshot {
	return []recorder.Snapshot{
		{ID: 0, Line: 3, Function: "main", State: extract.State{}},
		{ID: 1, Line: 4, Function: "main", State: extract.State{
			"x": {Name: "x", Type: "int", Value: "10", Address: "0x001000"},
		}},
		{ID: 2, Line: 5, Function: "main", State: extract.State{
			"x":   {Name: "x", Type: "int", Value: "11", Address: "0x001000"},
			"arr": {Name: "arr", Type: "int", Kind: extract.Aggregate, Elements: []string{"1"}, Addresses: []string{"0x001004"}},
		}},
		{ID: 3, Line: 2, Function: "square", State: extract.State{
			"n": {Name: "n", Type: "int", Value: "3", Address: "0x001008"},
		}},
	}
}

func TestBasicReplayerLoading(t *testing.T) {
	replayer := NewBasicReplayer()

	if err := replayer.Load(history()); err != nil {
		t.Fatalf("Failed to load snapshots: %v", err)
	}

	if replayer.CurrentIndex() != -1 {
		t.Errorf("Expected current index to be -1, got %d", replayer.CurrentIndex())
	}

	if len(replayer.Snapshots()) != 4 {
		t.Errorf("Expected 4 snapshots, got %d", len(replayer.Snapshots()))
	}
}

func TestStepForwardAndBackward(t *testing.T) {
	replayer := NewBasicReplayer()
	_ = replayer.Load(history())

	if _, err := replayer.StepBackward(); !errors.Is(err, ErrAtStart) {
		t.Errorf("Expected ErrAtStart before the first snapshot, got %v", err)
	}

	for want := 0; want < 4; want++ {
		s, err := replayer.StepForward()
		if err != nil {
			t.Fatalf("Unexpected error at step %d: %v", want, err)
		}
		if int(s.ID) != want {
			t.Errorf("Expected snapshot %d, got %d", want, s.ID)
		}
	}

	if _, err := replayer.StepForward(); !errors.Is(err, ErrAtEnd) {
		t.Errorf("Expected ErrAtEnd, got %v", err)
	}
	if replayer.CurrentIndex() != 3 {
		t.Errorf("Index should stay at 3, got %d", replayer.CurrentIndex())
	}

	s, err := replayer.StepBackward()
	if err != nil {
		t.Fatalf("Unexpected error stepping back: %v", err)
	}
	if s.Line != 5 {
		t.Errorf("Expected line 5, got %d", s.Line)
	}
}

func TestJumpTo(t *testing.T) {
	replayer := NewBasicReplayer()
	_ = replayer.Load(history())

	s, err := replayer.JumpTo(2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.Line != 5 || replayer.CurrentIndex() != 2 {
		t.Errorf("Expected to be at line 5 index 2, got line %d index %d", s.Line, replayer.CurrentIndex())
	}

	for _, idx := range []int{-1, 4} {
		if _, err := replayer.JumpTo(idx); err == nil {
			t.Errorf("Expected an error jumping to %d", idx)
		}
	}
	if replayer.CurrentIndex() != 2 {
		t.Errorf("Failed jumps should not move, got %d", replayer.CurrentIndex())
	}
}

func TestReplayUntil(t *testing.T) {
	replayer := FromEvents([]recorder.Event{
		{ID: 1, Type: recorder.SessionStarted, Snapshot: &history()[0]},
		{ID: 2, Type: recorder.Stepped, Snapshot: &history()[1]},
		{ID: 3, Type: recorder.Stepped, Snapshot: &history()[2]},
		{ID: 4, Type: recorder.Stepped, Snapshot: &history()[3]},
		{ID: 5, Type: recorder.SessionCompleted},
	})

	s, hit := replayer.ReplayUntil(func(s recorder.Snapshot) bool { return s.Function == "square" })
	if !hit || s.ID != 3 {
		t.Errorf("Expected to stop in square at snapshot 3, got %d (hit=%v)", s.ID, hit)
	}

	_, _ = replayer.JumpTo(0)
	_, hit = replayer.ReplayUntil(func(s recorder.Snapshot) bool { return s.Line == 99 })
	if hit {
		t.Error("No snapshot is at line 99")
	}

	_, _ = replayer.JumpTo(0)
	s, hit = replayer.ReplayUntil(nil)
	if !hit || s.ID != 3 {
		t.Errorf("Replaying without a check should reach the end, got %d", s.ID)
	}

	if _, hit := NewBasicReplayer().ReplayUntil(nil); hit {
		t.Error("An empty history has nothing to replay")
	}
}

func TestDiff(t *testing.T) {
	h := history()

	changes := Diff(h[1], h[2])
	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes, got %v", changes)
	}
	if changes[0] != (Change{Name: "arr", Type: Added}) {
		t.Errorf("Unexpected change %v", changes[0])
	}
	if changes[1] != (Change{Name: "x", Type: Modified}) {
		t.Errorf("Unexpected change %v", changes[1])
	}

	changes = Diff(h[2], h[3])
	want := []Change{{Name: "arr", Type: Removed}, {Name: "n", Type: Added}, {Name: "x", Type: Removed}}
	if len(changes) != len(want) {
		t.Fatalf("Expected %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("Change %d: expected %v, got %v", i, want[i], changes[i])
		}
	}

	if len(Diff(h[1], h[1])) != 0 {
		t.Error("A snapshot does not differ from itself")
	}
}
