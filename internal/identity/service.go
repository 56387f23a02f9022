// Package identity holds verified party identities, roles, and reputation.
// It is the leaf dependency: both engines consult it for role and
// verification checks before any transition.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"landledger/internal/ledger"
	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// Store is the persistence surface the service needs; implemented by
// internal/identity/store and decorated by internal/identity/cache.
type Store interface {
	Create(ctx context.Context, ident *Identity) error
	Get(ctx context.Context, identityID id.IdentityID) (*Identity, error)
	Update(ctx context.Context, ident *Identity, expectedVersion int64) error
	AdjustReputation(ctx context.Context, identityID id.IdentityID, delta Delta) error
	List(ctx context.Context) ([]*Identity, error)
}

// Service registers identities and runs the verification workflow.
type Service struct {
	store  Store
	log    *ledger.Service
	logger *slog.Logger
}

func NewService(store Store, log *ledger.Service, logger *slog.Logger) *Service {
	return &Service{store: store, log: log, logger: logger}
}

// The initial score for a newly registered party; reducers move it from
// here based on outcomes.
const seedScore = 50

// Register creates a new identity with verification pending. Anyone may
// register; an Authority must verify before the identity can transact.
func (s *Service) Register(ctx context.Context, name string, role Role) (*Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "name is required")
	}
	if !validRoles[role] {
		return nil, derrors.New(derrors.CodeInvalidInput, "invalid role: "+string(role))
	}

	now := requestcontext.Now(ctx)
	ident := &Identity{
		ID:           id.NewIdentityID(),
		Name:         name,
		Role:         role,
		Verification: VerificationPending,
		Reputation:   Reputation{Score: seedScore},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, ident); err != nil {
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityIdentity, ident.ID.String(), "", string(VerificationPending), ident); err != nil {
		return nil, translate(err)
	}

	s.logger.InfoContext(ctx, "identity registered",
		"identity_id", ident.ID,
		"role", ident.Role,
	)
	return ident, nil
}

// SetVerification moves a pending identity to verified or rejected. Only a
// verified Authority may decide.
func (s *Service) SetVerification(ctx context.Context, target id.IdentityID, status Verification) (*Identity, error) {
	if status != VerificationVerified && status != VerificationRejected {
		return nil, derrors.New(derrors.CodeInvalidInput, "verification decision must be verified or rejected")
	}
	if _, err := s.RequireVerified(ctx, requestcontext.Actor(ctx), RoleAuthority); err != nil {
		return nil, err
	}

	ident, err := s.store.Get(ctx, target)
	if err != nil {
		return nil, translate(err)
	}
	if ident.Verification != VerificationPending {
		return nil, derrors.New(derrors.CodeInvalidState, "verification already decided").
			WithDetail(string(ident.Verification))
	}

	prior := ident.Verification
	ident.Verification = status
	if err := s.store.Update(ctx, ident, ident.Version); err != nil {
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityIdentity, ident.ID.String(), string(prior), string(status), ident); err != nil {
		return nil, translate(err)
	}

	s.logger.InfoContext(ctx, "identity verification decided",
		"identity_id", ident.ID,
		"decision", status,
	)
	return ident, nil
}

// Resolve returns the identity for external callers.
func (s *Service) Resolve(ctx context.Context, identityID id.IdentityID) (*Identity, error) {
	ident, err := s.store.Get(ctx, identityID)
	if err != nil {
		return nil, translate(err)
	}
	return ident, nil
}

// List returns all identities, newest first.
func (s *Service) List(ctx context.Context) ([]*Identity, error) {
	idents, err := s.store.List(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return idents, nil
}

// RequireVerified loads the identity and enforces verification plus, when
// roles are given, role membership. Engines call this before every
// transition they gate on a party.
func (s *Service) RequireVerified(ctx context.Context, identityID id.IdentityID, roles ...Role) (*Identity, error) {
	if identityID == "" {
		return nil, derrors.New(derrors.CodeUnauthorized, "acting identity required")
	}
	ident, err := s.store.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeUnauthorized, "unknown identity: "+identityID.String())
		}
		return nil, translate(err)
	}
	if !ident.Verified() {
		return nil, derrors.New(derrors.CodeUnauthorized, "identity is not verified")
	}
	if len(roles) == 0 {
		return ident, nil
	}
	for _, role := range roles {
		if ident.Role == role {
			return ident, nil
		}
	}
	return nil, derrors.Newf(derrors.CodeUnauthorized, "role %s may not perform this operation", ident.Role)
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return derrors.Wrap(derrors.CodeNotFound, "identity not found", err)
	case errors.Is(err, sentinel.ErrConflict):
		return derrors.Wrap(derrors.CodeConflict, "identity was modified concurrently", err)
	default:
		return derrors.Wrap(derrors.CodeInternal, "identity store failure", err)
	}
}
