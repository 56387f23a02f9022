// Package parcel is the authoritative registry of who owns what and whether
// a parcel is free to transact. Status moves only through the transfer and
// dispute engines; ownership moves only on transfer completion.
package parcel

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"landledger/internal/identity"
	"landledger/internal/ledger"
	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// Store is the persistence surface; implemented by internal/parcel/store.
type Store interface {
	Create(ctx context.Context, p *Parcel) error
	Get(ctx context.Context, parcelID id.ParcelID) (*Parcel, error)
	Update(ctx context.Context, p *Parcel, expectedVersion int64) error
	List(ctx context.Context, filter Filter) ([]*Parcel, error)
}

// Service owns parcel registration and the engine-facing status surface.
// SetStatus and TransferOwnership are not routed to external clients; only
// the engines call them.
type Service struct {
	store       Store
	identities  *identity.Service
	log         *ledger.Service
	logger      *slog.Logger
	retryBudget int
}

func NewService(store Store, identities *identity.Service, log *ledger.Service, logger *slog.Logger, retryBudget int) *Service {
	if retryBudget < 1 {
		retryBudget = 1
	}
	return &Service{
		store:       store,
		identities:  identities,
		log:         log,
		logger:      logger,
		retryBudget: retryBudget,
	}
}

// RegisterParams are the caller-supplied fields for a new parcel.
type RegisterParams struct {
	Title         string
	OwnerID       id.IdentityID
	AreaSqM       float64
	DeclaredValue int64
	Documents     []string
}

// Register creates a parcel with status Active. The requester (from context)
// must hold the Landowner or Authority role; the owner must be verified.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*Parcel, error) {
	if _, err := s.identities.RequireVerified(ctx, requestcontext.Actor(ctx), identity.RoleLandowner, identity.RoleAuthority); err != nil {
		return nil, err
	}

	if strings.TrimSpace(params.Title) == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "title is required")
	}
	if params.AreaSqM <= 0 {
		return nil, derrors.New(derrors.CodeInvalidInput, "area must be positive")
	}
	if params.DeclaredValue <= 0 {
		return nil, derrors.New(derrors.CodeInvalidInput, "declared value must be positive")
	}
	owner, err := s.identities.Resolve(ctx, params.OwnerID)
	if err != nil {
		return nil, err
	}
	if !owner.Verified() {
		return nil, derrors.New(derrors.CodeInvalidInput, "owner identity is not verified")
	}

	now := requestcontext.Now(ctx)
	p := &Parcel{
		ID:            id.NewParcelID(),
		Title:         strings.TrimSpace(params.Title),
		OwnerID:       params.OwnerID,
		AreaSqM:       params.AreaSqM,
		DeclaredValue: params.DeclaredValue,
		Status:        StatusActive,
		Documents:     append([]string(nil), params.Documents...),
		RegisteredAt:  now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityParcel, p.ID.String(), "", string(StatusActive), p); err != nil {
		return nil, translate(err)
	}

	s.logger.InfoContext(ctx, "parcel registered",
		"parcel_id", p.ID,
		"owner_id", p.OwnerID,
		"area_sq_m", p.AreaSqM,
	)
	return p, nil
}

// Get returns the parcel.
func (s *Service) Get(ctx context.Context, parcelID id.ParcelID) (*Parcel, error) {
	p, err := s.store.Get(ctx, parcelID)
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

// List returns parcels matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Parcel, error) {
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// SetStatus moves the parcel's status on behalf of an engine. TransferPending
// is only reachable from Active: a disputed parcel rejects it with Conflict,
// disputes take priority. Disputed may overwrite any status for the same
// reason. Reverts to Active are the engines' responsibility to justify.
func (s *Service) SetStatus(ctx context.Context, parcelID id.ParcelID, to Status) (*Parcel, error) {
	return s.mutate(ctx, parcelID, func(p *Parcel) (bool, error) {
		if p.Status == to {
			return false, nil
		}
		if to == StatusTransferPending {
			switch p.Status {
			case StatusDisputed:
				return false, derrors.New(derrors.CodeConflict, "parcel is disputed").
					WithDetail(string(p.Status))
			case StatusActive:
			default:
				return false, derrors.New(derrors.CodeInvalidState, "parcel already has a pending transfer").
					WithDetail(string(p.Status))
			}
		}
		p.Status = to
		return true, nil
	})
}

// TransferOwnership records a completed transfer: new owner plus the status
// the transfer engine computed (Active, or Disputed when a dispute opened
// while escrow was held). Engine-internal.
func (s *Service) TransferOwnership(ctx context.Context, parcelID id.ParcelID, newOwner id.IdentityID, finalStatus Status) (*Parcel, error) {
	return s.mutate(ctx, parcelID, func(p *Parcel) (bool, error) {
		p.OwnerID = newOwner
		p.Status = finalStatus
		return true, nil
	})
}

// mutate runs a read-check-write cycle with optimistic retries. apply
// reports whether it changed anything; no-ops burn neither a version nor a
// ledger seq. Every successful write appends exactly one ledger entry.
func (s *Service) mutate(ctx context.Context, parcelID id.ParcelID, apply func(*Parcel) (bool, error)) (*Parcel, error) {
	var lastErr error
	for range s.retryBudget {
		p, err := s.store.Get(ctx, parcelID)
		if err != nil {
			return nil, translate(err)
		}
		prior := p.Status
		changed, err := apply(p)
		if err != nil {
			return nil, err
		}
		if !changed {
			return p, nil
		}
		if err := s.store.Update(ctx, p, p.Version); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, translate(err)
		}
		if _, err := s.log.Record(ctx, ledger.EntityParcel, p.ID.String(), string(prior), string(p.Status), p); err != nil {
			return nil, translate(err)
		}
		return p, nil
	}
	return nil, derrors.Wrap(derrors.CodeConflict, "parcel was modified concurrently", lastErr)
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return derrors.Wrap(derrors.CodeNotFound, "parcel not found", err)
	case errors.Is(err, sentinel.ErrConflict):
		return derrors.Wrap(derrors.CodeConflict, "parcel was modified concurrently", err)
	default:
		return derrors.Wrap(derrors.CodeInternal, "parcel store failure", err)
	}
}
