// Package store defines identity persistence. Implementations must make
// reputation adjustments atomic increments, never read-modify-write from a
// stale snapshot.
package store

import (
	"context"

	"landledger/internal/identity"
	id "landledger/pkg/domain"
)

// Store persists identities.
//
// Errors: implementations return pkg/platform/sentinel errors; services
// translate them into domain errors.
type Store interface {
	// Create inserts a new identity. Returns sentinel.ErrConflict when the
	// id already exists.
	Create(ctx context.Context, ident *identity.Identity) error

	// Get returns the identity or sentinel.ErrNotFound.
	Get(ctx context.Context, identityID id.IdentityID) (*identity.Identity, error)

	// Update writes the identity iff the stored version equals
	// expectedVersion, bumping the version. Returns sentinel.ErrConflict on
	// a version race.
	Update(ctx context.Context, ident *identity.Identity, expectedVersion int64) error

	// AdjustReputation applies the delta as atomic increments, clamping the
	// score to [0, 100]. It deliberately takes no expected version: counter
	// increments commute, so concurrent adjustments must all land.
	AdjustReputation(ctx context.Context, identityID id.IdentityID, delta identity.Delta) error

	// List returns all identities, newest first.
	List(ctx context.Context) ([]*identity.Identity, error)
}
