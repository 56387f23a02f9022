package identity_test

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
	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/requestcontext"
)

type env struct {
	ctx     context.Context
	store   *identitystore.MemoryStore
	svc     *identity.Service
	ledger  *ledger.Service
	manager *identity.Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := identitystore.NewMemoryStore()
	ledgerSvc := ledger.NewService(ledgerstore.NewMemoryStore(), nil, log)
	svc := identity.NewService(store, ledgerSvc, log)

	manager := &identity.Identity{
		ID:           id.NewIdentityID(),
		Name:         "registrar",
		Role:         identity.RoleAuthority,
		Verification: identity.VerificationVerified,
		Reputation:   identity.Reputation{Score: 50},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), manager))

	return &env{
		ctx:     context.Background(),
		store:   store,
		svc:     svc,
		ledger:  ledgerSvc,
		manager: manager,
	}
}

func (e *env) as(actor id.IdentityID) context.Context {
	return requestcontext.WithActor(e.ctx, actor)
}

func TestRegisterSeedsPendingIdentity(t *testing.T) {
	e := newEnv(t)

	ident, err := e.svc.Register(e.ctx, "Amina Diallo", identity.RoleLandowner)
	require.NoError(t, err)
	assert.Equal(t, identity.VerificationPending, ident.Verification)
	assert.Equal(t, 50, ident.Reputation.Score)
	assert.Zero(t, ident.Reputation.TotalTransactions)

	entries, err := e.ledger.ListSince(e.ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntityIdentity, entries[0].EntityType)
	assert.Equal(t, "pending", entries[0].NewState)
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Register(e.ctx, "  ", identity.RoleLandowner)
	assert.Equal(t, derrors.CodeInvalidInput, derrors.CodeOf(err))

	_, err = e.svc.Register(e.ctx, "Amina", identity.Role("chancellor"))
	assert.Equal(t, derrors.CodeInvalidInput, derrors.CodeOf(err))
}

func TestVerificationWorkflow(t *testing.T) {
	e := newEnv(t)

	ident, err := e.svc.Register(e.ctx, "Kwame Mensah", identity.RoleBuyer)
	require.NoError(t, err)

	verified, err := e.svc.SetVerification(e.as(e.manager.ID), ident.ID, identity.VerificationVerified)
	require.NoError(t, err)
	assert.True(t, verified.Verified())

	// Decisions are final: a verified identity cannot be re-decided.
	_, err = e.svc.SetVerification(e.as(e.manager.ID), ident.ID, identity.VerificationRejected)
	assert.Equal(t, derrors.CodeInvalidState, derrors.CodeOf(err))
}

func TestSetVerificationRequiresVerifiedAuthority(t *testing.T) {
	e := newEnv(t)

	target, err := e.svc.Register(e.ctx, "target", identity.RoleBuyer)
	require.NoError(t, err)

	// Another pending identity cannot decide.
	outsider, err := e.svc.Register(e.ctx, "outsider", identity.RoleAuthority)
	require.NoError(t, err)
	_, err = e.svc.SetVerification(e.as(outsider.ID), target.ID, identity.VerificationVerified)
	assert.Equal(t, derrors.CodeUnauthorized, derrors.CodeOf(err))

	// A verified non-authority cannot decide either.
	landowner, err := e.svc.Register(e.ctx, "landowner", identity.RoleLandowner)
	require.NoError(t, err)
	_, err = e.svc.SetVerification(e.as(e.manager.ID), landowner.ID, identity.VerificationVerified)
	require.NoError(t, err)
	_, err = e.svc.SetVerification(e.as(landowner.ID), target.ID, identity.VerificationVerified)
	assert.Equal(t, derrors.CodeUnauthorized, derrors.CodeOf(err))
}

func TestRequireVerified(t *testing.T) {
	e := newEnv(t)

	pending, err := e.svc.Register(e.ctx, "pending", identity.RoleLandowner)
	require.NoError(t, err)

	_, err = e.svc.RequireVerified(e.ctx, pending.ID)
	assert.Equal(t, derrors.CodeUnauthorized, derrors.CodeOf(err))

	_, err = e.svc.RequireVerified(e.ctx, e.manager.ID)
	assert.NoError(t, err)

	_, err = e.svc.RequireVerified(e.ctx, e.manager.ID, identity.RoleAuthority)
	assert.NoError(t, err)

	_, err = e.svc.RequireVerified(e.ctx, e.manager.ID, identity.RoleArbitrator)
	assert.Equal(t, derrors.CodeUnauthorized, derrors.CodeOf(err))

	_, err = e.svc.RequireVerified(e.ctx, id.IdentityID("missing"))
	assert.Equal(t, derrors.CodeUnauthorized, derrors.CodeOf(err))
}

func TestReputationScoreClamps(t *testing.T) {
	e := newEnv(t)

	ident, err := e.svc.Register(e.ctx, "clamped", identity.RoleBuyer)
	require.NoError(t, err)

	require.NoError(t, e.store.AdjustReputation(e.ctx, ident.ID, identity.Delta{Score: 90}))
	got, err := e.store.Get(e.ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Reputation.Score)

	require.NoError(t, e.store.AdjustReputation(e.ctx, ident.ID, identity.Delta{Score: -500}))
	got, err = e.store.Get(e.ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Reputation.Score)
}
