package store

import (
	"context"
	"sort"
	"sync"

	"landledger/internal/parcel"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// MemoryStore is the in-process parcel store.
type MemoryStore struct {
	mu      sync.RWMutex
	parcels map[id.ParcelID]*parcel.Parcel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{parcels: make(map[id.ParcelID]*parcel.Parcel)}
}

func (s *MemoryStore) Create(ctx context.Context, p *parcel.Parcel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parcels[p.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := clone(p)
	cp.Version = 1
	cp.UpdatedAt = requestcontext.Now(ctx)
	s.parcels[p.ID] = cp
	p.Version = cp.Version
	return nil
}

func (s *MemoryStore) Get(_ context.Context, parcelID id.ParcelID) (*parcel.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parcels[parcelID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) Update(ctx context.Context, p *parcel.Parcel, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.parcels[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	cp := clone(p)
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = requestcontext.Now(ctx)
	s.parcels[p.ID] = cp
	p.Version = cp.Version
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter parcel.Filter) ([]*parcel.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*parcel.Parcel, 0, len(s.parcels))
	for _, p := range s.parcels {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.After(out[j].RegisteredAt) })
	return out, nil
}

func clone(p *parcel.Parcel) *parcel.Parcel {
	cp := *p
	cp.Documents = append([]string(nil), p.Documents...)
	return &cp
}
