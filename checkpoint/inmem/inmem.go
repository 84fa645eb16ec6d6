// Package inmem is a process-local checkpoint.Store.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/becomeliminal/nim-graph/checkpoint"
)

type Store struct {
	mu      sync.RWMutex
	threads map[string]*checkpoint.Checkpoint
}

var _ checkpoint.Store = (*Store)(nil)

func New() *Store {
	return &Store{threads: make(map[string]*checkpoint.Checkpoint)}
}

func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, checkpoint.IOError("load", threadID, err)
	}
	s.mu.RLock()
	cp, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return checkpoint.New(threadID), nil
	}
	return cp.Clone(), nil
}

func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return checkpoint.IOError("save", cp.ThreadID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if cur, ok := s.threads[cp.ThreadID]; ok {
		stored = cur.Version
	}
	switch checkpoint.Decide(stored, cp.Version) {
	case checkpoint.Replay:
		return nil
	case checkpoint.Stale:
		return checkpoint.StaleError(cp.ThreadID, stored, cp.Version)
	}

	c := cp.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	s.threads[cp.ThreadID] = c
	return nil
}

func (s *Store) Close() error {
	return nil
}
