// Package ledger is the append-only record of every state transition across
// the registry and both engines. Components write to it and never mutate
// history; reputation and downstream consumers hang off appends.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"

	"landledger/pkg/requestcontext"
)

// Store persists entries; mirrors internal/ledger/store.Store without the
// import so stores and service stay decoupled.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListSince(ctx context.Context, after int64, limit int) ([]Entry, error)
}

// Reducer reacts to an appended entry. Reducers derive state (reputation
// counters) from the log; they are the only writers of that state.
type Reducer interface {
	Apply(ctx context.Context, entry Entry) error
}

// Service appends entries, fans them out to reducers, and feeds the outbound
// sink for downstream notification/analytics consumers.
type Service struct {
	store    Store
	reducers []Reducer
	sink     chan<- Entry
	logger   *slog.Logger
}

// NewService wires the ledger. sink may be nil when no outbound publisher is
// configured.
func NewService(store Store, sink chan<- Entry, logger *slog.Logger, reducers ...Reducer) *Service {
	return &Service{store: store, reducers: reducers, sink: sink, logger: logger}
}

// Record marshals the entity snapshot and appends one entry for the
// transition. Reducer failures are logged, not surfaced: reducer output is
// derived state and is rebuilt by replaying the log.
func (s *Service) Record(ctx context.Context, entityType EntityType, entityID, priorState, newState string, entity any) (Entry, error) {
	snapshot, err := json.Marshal(entity)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		OccurredAt: requestcontext.Now(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		PriorState: priorState,
		NewState:   newState,
		ActorID:    requestcontext.Actor(ctx),
		Snapshot:   snapshot,
	}
	if err := s.store.Append(ctx, &entry); err != nil {
		return Entry{}, err
	}

	for _, r := range s.reducers {
		if err := r.Apply(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "ledger reducer failed",
				"seq", entry.Seq,
				"entity_type", entry.EntityType,
				"entity_id", entry.EntityID,
				"error", err,
			)
		}
	}

	if s.sink != nil {
		select {
		case s.sink <- entry:
		default:
			s.logger.WarnContext(ctx, "ledger sink full, dropping outbound event", "seq", entry.Seq)
		}
	}
	return entry, nil
}

// ListSince exposes the log for downstream consumers and for state
// reconstruction.
func (s *Service) ListSince(ctx context.Context, after int64, limit int) ([]Entry, error) {
	return s.store.ListSince(ctx, after, limit)
}
