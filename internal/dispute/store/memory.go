package store

import (
	"context"
	"sync"
	"time"

	"landledger/internal/dispute"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
)

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[id.DisputeID]*dispute.Dispute
	votes    map[id.DisputeID]map[id.IdentityID]*dispute.Vote
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[id.DisputeID]*dispute.Dispute),
		votes:    make(map[id.DisputeID]map[id.IdentityID]*dispute.Vote),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *dispute.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; ok {
		return sentinel.ErrDuplicate
	}
	d.Version = 1
	d.UpdatedAt = d.FiledAt
	m.disputes[d.ID] = clone(d)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, disputeID id.DisputeID) (*dispute.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[disputeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(d), nil
}

func (m *MemoryStore) Update(ctx context.Context, d *dispute.Dispute, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.disputes[d.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	d.Version = expectedVersion + 1
	d.UpdatedAt = time.Now().UTC()
	// Tally is owned by CastVote; keep the stored counts authoritative.
	d.Tally = current.Tally
	m.disputes[d.ID] = clone(d)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter dispute.Filter) ([]*dispute.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*dispute.Dispute
	for _, d := range m.disputes {
		if filter.ParcelID != "" && d.ParcelID != filter.ParcelID {
			continue
		}
		if filter.Party != "" && d.PlaintiffID != filter.Party && d.DefendantID != filter.Party {
			continue
		}
		if filter.State != "" && d.State != filter.State {
			continue
		}
		out = append(out, clone(d))
	}
	return out, nil
}

func (m *MemoryStore) CastVote(ctx context.Context, v *dispute.Vote) (*dispute.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[v.DisputeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	// Re-checked under the lock: a close racing the caller's own state
	// check must not see its tally move afterwards.
	if d.State != dispute.StateCommunityVoting {
		return nil, sentinel.ErrInvalidState
	}
	ballots := m.votes[v.DisputeID]
	if ballots == nil {
		ballots = make(map[id.IdentityID]*dispute.Vote)
		m.votes[v.DisputeID] = ballots
	}
	if _, voted := ballots[v.VoterID]; voted {
		return nil, sentinel.ErrDuplicate
	}
	ballots[v.VoterID] = v

	switch v.Choice {
	case dispute.VoteSupport:
		d.Tally.Support++
	case dispute.VoteAgainst:
		d.Tally.Against++
	case dispute.VoteAbstain:
		d.Tally.Abstain++
	}
	d.UpdatedAt = time.Now().UTC()
	return clone(d), nil
}

func (m *MemoryStore) OpenCount(ctx context.Context, parcelID id.ParcelID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, d := range m.disputes {
		if d.ParcelID == parcelID && d.State.Open() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListVotingClosed(ctx context.Context, now time.Time) ([]*dispute.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*dispute.Dispute
	for _, d := range m.disputes {
		if d.State == dispute.StateCommunityVoting && d.VotingDeadline != nil && d.VotingDeadline.Before(now) {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

func clone(d *dispute.Dispute) *dispute.Dispute {
	c := *d
	if d.Evidence != nil {
		c.Evidence = append([]string(nil), d.Evidence...)
	}
	if d.VotingDeadline != nil {
		t := *d.VotingDeadline
		c.VotingDeadline = &t
	}
	if d.ClosedAt != nil {
		t := *d.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
