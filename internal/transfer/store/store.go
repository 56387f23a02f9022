// Package store defines transfer persistence. The one-non-terminal-transfer-
// per-parcel invariant lives here, inside the store's atomic create, so
// concurrent initiations serialize on the store rather than the service.
package store

import (
	"context"
	"time"

	"landledger/internal/transfer"
	id "landledger/pkg/domain"
)

// Store persists transfers.
type Store interface {
	// Create inserts a new transfer. Returns sentinel.ErrConflict when
	// another non-terminal transfer already references the same parcel.
	Create(ctx context.Context, t *transfer.Transfer) error

	// Get returns the transfer or sentinel.ErrNotFound.
	Get(ctx context.Context, transferID id.TransferID) (*transfer.Transfer, error)

	// Update writes the transfer iff the stored version equals
	// expectedVersion, bumping the version. Returns sentinel.ErrConflict on
	// a version race.
	Update(ctx context.Context, t *transfer.Transfer, expectedVersion int64) error

	// List returns transfers matching the filter, newest first.
	List(ctx context.Context, filter transfer.Filter) ([]*transfer.Transfer, error)

	// ListEscrowExpired returns escrowed transfers whose deadline has passed,
	// for the background sweep.
	ListEscrowExpired(ctx context.Context, now time.Time) ([]*transfer.Transfer, error)
}
