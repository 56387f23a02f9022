package store

import (
	"context"
	"sort"
	"sync"

	"landledger/internal/identity"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// MemoryStore is the in-process Store used by unit tests and single-node
// deployments. All invariants enforced by the Postgres schema are enforced
// here inside the mutex.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[id.IdentityID]*identity.Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{identities: make(map[id.IdentityID]*identity.Identity)}
}

func (s *MemoryStore) Create(ctx context.Context, ident *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[ident.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *ident
	cp.Version = 1
	cp.UpdatedAt = requestcontext.Now(ctx)
	s.identities[ident.ID] = &cp
	ident.Version = cp.Version
	return nil
}

func (s *MemoryStore) Get(_ context.Context, identityID id.IdentityID) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, ident *identity.Identity, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identities[ident.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	cp := *ident
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = requestcontext.Now(ctx)
	s.identities[ident.ID] = &cp
	ident.Version = cp.Version
	return nil
}

func (s *MemoryStore) AdjustReputation(ctx context.Context, identityID id.IdentityID, delta identity.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[identityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	rep := &ident.Reputation
	rep.Score = clampScore(rep.Score + delta.Score)
	rep.TotalTransactions += delta.TotalTransactions
	rep.SuccessfulTransactions += delta.SuccessfulTransactions
	rep.DisputesWon += delta.DisputesWon
	rep.DisputesLost += delta.DisputesLost
	rep.CommunityVotes += delta.CommunityVotes
	ident.Version++
	ident.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*identity.Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		cp := *ident
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
