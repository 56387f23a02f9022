// Package store provides dispute persistence. Two implementations share the
// Store contract: an in-memory store for tests and single-node use, and a
// Postgres store for durable deployments.
package store

import (
	"context"
	"time"

	"landledger/internal/dispute"
	id "landledger/pkg/domain"
)

// Store is the dispute persistence contract. Implementations return
// sentinel.ErrNotFound for missing disputes, sentinel.ErrConflict when
// expectedVersion does not match, and sentinel.ErrDuplicate when a voter
// already has a ballot on the dispute.
type Store interface {
	Create(ctx context.Context, d *dispute.Dispute) error
	Get(ctx context.Context, disputeID id.DisputeID) (*dispute.Dispute, error)
	Update(ctx context.Context, d *dispute.Dispute, expectedVersion int64) error
	List(ctx context.Context, filter dispute.Filter) ([]*dispute.Dispute, error)

	// CastVote records the ballot and folds it into the dispute's tally in
	// one atomic step. At most one ballot per voter per dispute is kept,
	// and the dispute must still be in community voting when the write
	// lands (sentinel.ErrInvalidState otherwise).
	CastVote(ctx context.Context, v *dispute.Vote) (*dispute.Dispute, error)

	// OpenCount reports how many non-terminal disputes target the parcel.
	OpenCount(ctx context.Context, parcelID id.ParcelID) (int, error)

	// ListVotingClosed returns disputes in community voting whose deadline
	// has passed.
	ListVotingClosed(ctx context.Context, now time.Time) ([]*dispute.Dispute, error)
}
