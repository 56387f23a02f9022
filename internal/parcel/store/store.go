// Package store defines parcel persistence with optimistic concurrency.
package store

import (
	"context"

	"landledger/internal/parcel"
	id "landledger/pkg/domain"
)

// Store persists parcels. All writes are version-conditioned.
type Store interface {
	// Create inserts a new parcel. Returns sentinel.ErrConflict when the id
	// already exists.
	Create(ctx context.Context, p *parcel.Parcel) error

	// Get returns the parcel or sentinel.ErrNotFound.
	Get(ctx context.Context, parcelID id.ParcelID) (*parcel.Parcel, error)

	// Update writes the parcel iff the stored version equals expectedVersion,
	// bumping the version. Returns sentinel.ErrConflict on a version race.
	Update(ctx context.Context, p *parcel.Parcel, expectedVersion int64) error

	// List returns parcels matching the filter, newest registration first.
	List(ctx context.Context, filter parcel.Filter) ([]*parcel.Parcel, error)
}
