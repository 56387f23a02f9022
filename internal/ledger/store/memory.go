package store

import (
	"context"
	"sync"

	"landledger/internal/ledger"
)

// MemoryStore keeps the log in a slice. Sequence numbers start at 1.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []ledger.Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Seq = int64(len(s.entries)) + 1
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryStore) ListSince(_ context.Context, after int64, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if after < 0 {
		after = 0
	}
	if after >= int64(len(s.entries)) {
		return nil, nil
	}
	tail := s.entries[after:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}
	out := make([]ledger.Entry, len(tail))
	copy(out, tail)
	return out, nil
}
