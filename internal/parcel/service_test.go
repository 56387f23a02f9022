package parcel_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landledger/internal/identity"
	identitystore "landledger/internal/identity/store"
	"landledger/internal/ledger"
	ledgerstore "landledger/internal/ledger/store"
	"landledger/internal/parcel"
	parcelstore "landledger/internal/parcel/store"
	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/requestcontext"
)

type env struct {
	ctx     context.Context
	idStore *identitystore.MemoryStore
	svc     *parcel.Service
	ledger  *ledger.Service
	owner   *identity.Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	idStore := identitystore.NewMemoryStore()
	ledgerSvc := ledger.NewService(ledgerstore.NewMemoryStore(), nil, log)
	identitySvc := identity.NewService(idStore, ledgerSvc, log)
	svc := parcel.NewService(parcelstore.NewMemoryStore(), identitySvc, ledgerSvc, log, 3)

	e := &env{ctx: context.Background(), idStore: idStore, svc: svc, ledger: ledgerSvc}
	e.owner = e.seedVerified(t, "owner", identity.RoleLandowner)
	return e
}

func (e *env) seedVerified(t *testing.T, name string, role identity.Role) *identity.Identity {
	t.Helper()
	ident := &identity.Identity{
		ID:           id.NewIdentityID(),
		Name:         name,
		Role:         role,
		Verification: identity.VerificationVerified,
		Reputation:   identity.Reputation{Score: 50},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, e.idStore.Create(context.Background(), ident))
	return ident
}

func (e *env) as(actor id.IdentityID) context.Context {
	return requestcontext.WithActor(e.ctx, actor)
}

func (e *env) register(t *testing.T) *parcel.Parcel {
	t.Helper()
	p, err := e.svc.Register(e.as(e.owner.ID), parcel.RegisterParams{
		Title:         "LP001",
		OwnerID:       e.owner.ID,
		AreaSqM:       1200,
		DeclaredValue: 85000,
		Documents:     []string{"deed-scan"},
	})
	require.NoError(t, err)
	return p
}

func TestRegisterStartsActive(t *testing.T) {
	e := newEnv(t)
	p := e.register(t)

	assert.Equal(t, parcel.StatusActive, p.Status)
	assert.Equal(t, e.owner.ID, p.OwnerID)
	assert.Equal(t, int64(1), p.Version)

	entries, err := e.ledger.ListSince(e.ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntityParcel, entries[0].EntityType)
	assert.Equal(t, "active", entries[0].NewState)
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name   string
		params parcel.RegisterParams
	}{
		{"empty title", parcel.RegisterParams{OwnerID: e.owner.ID, AreaSqM: 10, DeclaredValue: 10}},
		{"zero area", parcel.RegisterParams{Title: "x", OwnerID: e.owner.ID, DeclaredValue: 10}},
		{"zero value", parcel.RegisterParams{Title: "x", OwnerID: e.owner.ID, AreaSqM: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.Register(e.as(e.owner.ID), tc.params)
			assert.Equal(t, derrors.CodeInvalidInput, derrors.CodeOf(err))
		})
	}
}

func TestRegisterRequiresVerifiedOwner(t *testing.T) {
	e := newEnv(t)
	pending := &identity.Identity{
		ID:           id.NewIdentityID(),
		Name:         "pending",
		Role:         identity.RoleLandowner,
		Verification: identity.VerificationPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, e.idStore.Create(e.ctx, pending))

	_, err := e.svc.Register(e.as(e.owner.ID), parcel.RegisterParams{
		Title:         "LP002",
		OwnerID:       pending.ID,
		AreaSqM:       100,
		DeclaredValue: 1000,
	})
	assert.Equal(t, derrors.CodeInvalidInput, derrors.CodeOf(err))
}

func TestRegisterRequiresLandownerOrAuthorityActor(t *testing.T) {
	e := newEnv(t)
	buyer := e.seedVerified(t, "buyer", identity.RoleBuyer)

	_, err := e.svc.Register(e.as(buyer.ID), parcel.RegisterParams{
		Title:         "LP003",
		OwnerID:       e.owner.ID,
		AreaSqM:       100,
		DeclaredValue: 1000,
	})
	assert.Equal(t, derrors.CodeUnauthorized, derrors.CodeOf(err))
}

func TestSetStatusTransitions(t *testing.T) {
	e := newEnv(t)
	p := e.register(t)

	// Active -> TransferPending is allowed.
	got, err := e.svc.SetStatus(e.ctx, p.ID, parcel.StatusTransferPending)
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusTransferPending, got.Status)

	// A second pending lock is rejected.
	_, err = e.svc.SetStatus(e.ctx, p.ID, parcel.StatusTransferPending)
	assert.Equal(t, derrors.CodeInvalidState, derrors.CodeOf(err))

	// Disputed overrides anything.
	got, err = e.svc.SetStatus(e.ctx, p.ID, parcel.StatusDisputed)
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusDisputed, got.Status)

	// Disputed blocks a transfer lock.
	_, err = e.svc.SetStatus(e.ctx, p.ID, parcel.StatusTransferPending)
	assert.Equal(t, derrors.CodeConflict, derrors.CodeOf(err))
}

func TestSetStatusNoopDoesNotBumpVersion(t *testing.T) {
	e := newEnv(t)
	p := e.register(t)

	got, err := e.svc.SetStatus(e.ctx, p.ID, parcel.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, p.Version, got.Version)

	entries, err := e.ledger.ListSince(e.ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no-op writes no ledger entry")
}

func TestTransferOwnership(t *testing.T) {
	e := newEnv(t)
	p := e.register(t)
	buyer := e.seedVerified(t, "buyer", identity.RoleBuyer)

	got, err := e.svc.TransferOwnership(e.ctx, p.ID, buyer.ID, parcel.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, got.OwnerID)
	assert.Equal(t, parcel.StatusActive, got.Status)
	assert.Equal(t, p.Version+1, got.Version)
}

func TestGetMissingParcel(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Get(e.ctx, id.ParcelID("missing"))
	assert.Equal(t, derrors.CodeNotFound, derrors.CodeOf(err))
}

func TestListFilters(t *testing.T) {
	e := newEnv(t)
	p := e.register(t)

	other := e.seedVerified(t, "other", identity.RoleLandowner)
	_, err := e.svc.Register(e.as(other.ID), parcel.RegisterParams{
		Title:         "LP002",
		OwnerID:       other.ID,
		AreaSqM:       500,
		DeclaredValue: 30000,
	})
	require.NoError(t, err)

	mine, err := e.svc.List(e.ctx, parcel.Filter{OwnerID: e.owner.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p.ID, mine[0].ID)

	active, err := e.svc.List(e.ctx, parcel.Filter{Status: parcel.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
