// Package checkpoint persists Conversation State snapshots per thread as an
// append-only log.
package checkpoint

import (
	"context"
	"time"

	"github.com/martinemde/agentgraph/conversation"
)

// Checkpoint is one persisted snapshot of a thread's state taken at a node
// boundary.
type Checkpoint struct {
	ThreadID  string              `json:"thread_id"`
	Seq       int                 `json:"seq"`
	Node      string              `json:"node"`
	CreatedAt time.Time           `json:"created_at"`
	State     *conversation.State `json:"state"`
}

// Store persists and retrieves checkpoints. Implementations copy states on
// the way in and out so callers never share memory with the store.
type Store interface {
	// Save appends a checkpoint for cp.ThreadID, assigning Seq and
	// CreatedAt, and returns the stored value.
	Save(ctx context.Context, cp Checkpoint) (Checkpoint, error)

	// Load returns the latest checkpoint for threadID. found is false when
	// the thread has none.
	Load(ctx context.Context, threadID string) (cp Checkpoint, found bool, err error)

	// History returns every checkpoint for threadID, oldest first.
	History(ctx context.Context, threadID string) ([]Checkpoint, error)
}
