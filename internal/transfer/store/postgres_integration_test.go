//go:build integration

package store_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"landledger/internal/identity"
	identitystore "landledger/internal/identity/store"
	"landledger/internal/parcel"
	parcelstore "landledger/internal/parcel/store"
	"landledger/internal/transfer"
	"landledger/internal/transfer/store"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore

	parcelID id.ParcelID
	seller   id.IdentityID
	buyer    id.IdentityID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgresStore(s.pg.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.pg.TruncateTables(ctx,
		"ledger_events", "votes", "disputes", "transfers", "parcels", "identities"))

	ids := identitystore.NewPostgresStore(s.pg.Pool)
	s.seller = id.NewIdentityID()
	s.buyer = id.NewIdentityID()
	for _, pair := range []struct {
		identityID id.IdentityID
		role       identity.Role
	}{{s.seller, identity.RoleLandowner}, {s.buyer, identity.RoleBuyer}} {
		s.Require().NoError(ids.Create(ctx, &identity.Identity{
			ID:           pair.identityID,
			Name:         string(pair.identityID),
			Role:         pair.role,
			Verification: identity.VerificationVerified,
			Reputation:   identity.Reputation{Score: 50},
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}))
	}

	parcels := parcelstore.NewPostgresStore(s.pg.Pool)
	s.parcelID = id.NewParcelID()
	s.Require().NoError(parcels.Create(ctx, &parcel.Parcel{
		ID:            s.parcelID,
		Title:         "LP001",
		OwnerID:       s.seller,
		AreaSqM:       1200,
		DeclaredValue: 85000,
		Status:        parcel.StatusActive,
		RegisteredAt:  time.Now(),
	}))
}

func (s *PostgresStoreSuite) newTransfer() *transfer.Transfer {
	return &transfer.Transfer{
		ID:          id.NewTransferID(),
		ParcelID:    s.parcelID,
		SellerID:    s.seller,
		BuyerID:     s.buyer,
		Amount:      85000,
		State:       transfer.StateInitiated,
		InitiatedAt: time.Now(),
	}
}

func (s *PostgresStoreSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	t := s.newTransfer()
	s.Require().NoError(s.store.Create(ctx, t))
	s.Equal(int64(1), t.Version)

	got, err := s.store.Get(ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(t.ID, got.ID)
	s.Equal(transfer.StateInitiated, got.State)
	s.Nil(got.EscrowDeadline)
}

// TestConcurrentCreateOnePerParcel drives concurrent initiations into the
// partial unique index: exactly one may hold a non-terminal transfer.
func (s *PostgresStoreSuite) TestConcurrentCreateOnePerParcel() {
	ctx := context.Background()
	const goroutines = 20

	var wins atomic.Int32
	var conflicts atomic.Int32
	g := new(errgroup.Group)
	for range goroutines {
		g.Go(func() error {
			err := s.store.Create(ctx, s.newTransfer())
			switch err {
			case nil:
				wins.Add(1)
			case sentinel.ErrConflict:
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestTerminalTransferFreesTheParcelSlot() {
	ctx := context.Background()
	t := s.newTransfer()
	s.Require().NoError(s.store.Create(ctx, t))

	t.State = transfer.StateCancelled
	s.Require().NoError(s.store.Update(ctx, t, 1))

	s.Require().NoError(s.store.Create(ctx, s.newTransfer()))
}

func (s *PostgresStoreSuite) TestUpdateVersionRace() {
	ctx := context.Background()
	t := s.newTransfer()
	s.Require().NoError(s.store.Create(ctx, t))

	deadline := time.Now().Add(time.Hour)
	t.State = transfer.StateEscrowed
	t.EscrowHeld = t.Amount
	t.EscrowDeadline = &deadline
	s.Require().NoError(s.store.Update(ctx, t, 1))
	s.Equal(int64(2), t.Version)

	stale := *t
	stale.State = transfer.StateCompleted
	s.ErrorIs(s.store.Update(ctx, &stale, 1), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestListEscrowExpired() {
	ctx := context.Background()
	t := s.newTransfer()
	s.Require().NoError(s.store.Create(ctx, t))

	past := time.Now().Add(-time.Hour)
	t.State = transfer.StateEscrowed
	t.EscrowHeld = t.Amount
	t.EscrowDeadline = &past
	s.Require().NoError(s.store.Update(ctx, t, 1))

	expired, err := s.store.ListEscrowExpired(ctx, time.Now())
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(t.ID, expired[0].ID)

	none, err := s.store.ListEscrowExpired(ctx, past.Add(-time.Hour))
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *PostgresStoreSuite) TestListByParty() {
	ctx := context.Background()
	t := s.newTransfer()
	s.Require().NoError(s.store.Create(ctx, t))

	byBuyer, err := s.store.List(ctx, transfer.Filter{Party: s.buyer})
	s.Require().NoError(err)
	s.Len(byBuyer, 1)

	byStranger, err := s.store.List(ctx, transfer.Filter{Party: id.NewIdentityID()})
	s.Require().NoError(err)
	s.Empty(byStranger)
}
