package session

import (
	"context"

	"github.com/willibrandon/stepscope/pkg/recorder"
)

// backend drives one debugger for one session. step returns nil once the
// program can make no further progress.
type backend interface {
	start(ctx context.Context) (*recorder.Snapshot, error)
	step(ctx context.Context) (*recorder.Snapshot, error)
	close() error
}
