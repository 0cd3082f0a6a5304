package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Checkpoint)}
}

func (s *MemoryStore) Save(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	if cp.ThreadID == "" {
		return Checkpoint{}, errors.New("checkpoint: thread id is required")
	}
	if cp.State == nil {
		return Checkpoint{}, errors.New("checkpoint: state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.threads[cp.ThreadID]
	cp.Seq = len(log) + 1
	cp.CreatedAt = time.Now().UTC()
	cp.State = cp.State.Clone()
	s.threads[cp.ThreadID] = append(log, cp)
	return cloneCheckpoint(cp), nil
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.threads[threadID]
	if len(log) == 0 {
		return Checkpoint{}, false, nil
	}
	return cloneCheckpoint(log[len(log)-1]), true, nil
}

func (s *MemoryStore) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.threads[threadID]
	out := make([]Checkpoint, len(log))
	for i, cp := range log {
		out[i] = cloneCheckpoint(cp)
	}
	return out, nil
}

func cloneCheckpoint(cp Checkpoint) Checkpoint {
	cp.State = cp.State.Clone()
	return cp
}
