package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"landledger/internal/transfer"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// MemoryStore is the in-process transfer store. activeByParcel mirrors the
// partial unique index the Postgres schema uses for the same invariant.
type MemoryStore struct {
	mu             sync.RWMutex
	transfers      map[id.TransferID]*transfer.Transfer
	activeByParcel map[id.ParcelID]id.TransferID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transfers:      make(map[id.TransferID]*transfer.Transfer),
		activeByParcel: make(map[id.ParcelID]id.TransferID),
	}
}

func (s *MemoryStore) Create(ctx context.Context, t *transfer.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transfers[t.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, active := s.activeByParcel[t.ParcelID]; active {
		return sentinel.ErrConflict
	}

	cp := *t
	cp.Version = 1
	cp.UpdatedAt = requestcontext.Now(ctx)
	s.transfers[t.ID] = &cp
	if !cp.State.Terminal() {
		s.activeByParcel[cp.ParcelID] = cp.ID
	}
	t.Version = cp.Version
	return nil
}

func (s *MemoryStore) Get(_ context.Context, transferID id.TransferID) (*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[transferID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, t *transfer.Transfer, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.transfers[t.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}

	cp := *t
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = requestcontext.Now(ctx)
	s.transfers[t.ID] = &cp
	if cp.State.Terminal() {
		if s.activeByParcel[cp.ParcelID] == cp.ID {
			delete(s.activeByParcel, cp.ParcelID)
		}
	}
	t.Version = cp.Version
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter transfer.Filter) ([]*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*transfer.Transfer, 0, len(s.transfers))
	for _, t := range s.transfers {
		if filter.ParcelID != "" && t.ParcelID != filter.ParcelID {
			continue
		}
		if filter.Party != "" && t.SellerID != filter.Party && t.BuyerID != filter.Party {
			continue
		}
		if filter.State != "" && t.State != filter.State {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.After(out[j].InitiatedAt) })
	return out, nil
}

func (s *MemoryStore) ListEscrowExpired(_ context.Context, now time.Time) ([]*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*transfer.Transfer
	for _, t := range s.transfers {
		if t.State != transfer.StateEscrowed || t.EscrowDeadline == nil {
			continue
		}
		if t.EscrowDeadline.Before(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	return out, nil
}
