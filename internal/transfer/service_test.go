package transfer_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"landledger/internal/dispute"
	disputemetrics "landledger/internal/dispute/metrics"
	disputestore "landledger/internal/dispute/store"
	"landledger/internal/identity"
	identitystore "landledger/internal/identity/store"
	"landledger/internal/ledger"
	ledgerstore "landledger/internal/ledger/store"
	"landledger/internal/parcel"
	parcelstore "landledger/internal/parcel/store"
	"landledger/internal/transfer"
	transfermetrics "landledger/internal/transfer/metrics"
	transferstore "landledger/internal/transfer/store"
	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/keylock"
	"landledger/pkg/requestcontext"
)

const escrowTTL = 72 * time.Hour

type TransferSuite struct {
	suite.Suite
	ctx        context.Context
	idStore    *identitystore.MemoryStore
	identities *identity.Service
	parcels    *parcel.Service
	transfers  *transfer.Service
	disputes   *dispute.Service
	ledger     *ledger.Service
	authority  *identity.Identity
}

func TestTransferSuite(t *testing.T) {
	suite.Run(t, new(TransferSuite))
}

func (s *TransferSuite) SetupTest() {
	s.ctx = context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.idStore = identitystore.NewMemoryStore()
	reducer := identity.NewReducer(s.idStore, identity.Adjustments{
		TransferCompleted: 1,
		DisputeWon:        2,
		DisputeLost:       5,
	})
	s.ledger = ledger.NewService(ledgerstore.NewMemoryStore(), nil, log, reducer)
	s.identities = identity.NewService(s.idStore, s.ledger, log)
	s.parcels = parcel.NewService(parcelstore.NewMemoryStore(), s.identities, s.ledger, log, 3)

	locks := keylock.New()
	s.disputes = dispute.NewService(
		disputestore.NewMemoryStore(), s.parcels, s.identities, nil, s.ledger, locks,
		disputemetrics.New(prometheus.NewRegistry()), log, 7*24*time.Hour, 10,
	)
	s.transfers = transfer.NewService(
		transferstore.NewMemoryStore(), s.parcels, s.identities, s.disputes, s.ledger, locks,
		transfermetrics.New(prometheus.NewRegistry()), log, escrowTTL,
	)
	s.disputes.SetTransferChecker(s.transfers)

	s.authority = s.seedVerified("registrar", identity.RoleAuthority)
}

// seedVerified plants a verified identity directly in the store; the
// verification workflow itself is covered in the identity package tests.
func (s *TransferSuite) seedVerified(name string, role identity.Role) *identity.Identity {
	ident := &identity.Identity{
		ID:           id.NewIdentityID(),
		Name:         name,
		Role:         role,
		Verification: identity.VerificationVerified,
		Reputation:   identity.Reputation{Score: 50},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	s.Require().NoError(s.idStore.Create(s.ctx, ident))
	return ident
}

func (s *TransferSuite) as(actor id.IdentityID) context.Context {
	return requestcontext.WithActor(s.ctx, actor)
}

func (s *TransferSuite) registerParcel(owner *identity.Identity, value int64) *parcel.Parcel {
	p, err := s.parcels.Register(s.as(owner.ID), parcel.RegisterParams{
		Title:         "LP001",
		OwnerID:       owner.ID,
		AreaSqM:       1200,
		DeclaredValue: value,
	})
	s.Require().NoError(err)
	return p
}

func (s *TransferSuite) reputation(identityID id.IdentityID) identity.Reputation {
	ident, err := s.idStore.Get(s.ctx, identityID)
	s.Require().NoError(err)
	return ident.Reputation
}

func (s *TransferSuite) TestFullLifecycle() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 85000)
	s.Equal(parcel.StatusActive, p.Status)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 85000)
	s.Require().NoError(err)
	s.Equal(transfer.StateInitiated, t.State)

	got, err := s.parcels.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(parcel.StatusActive, got.Status, "parcel stays active until escrow locks")

	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionEscrow)
	s.Require().NoError(err)
	s.Equal(transfer.StateEscrowed, t.State)
	s.Equal(int64(85000), t.EscrowHeld)
	s.Require().NotNil(t.EscrowDeadline)

	got, err = s.parcels.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(parcel.StatusTransferPending, got.Status)

	t, err = s.transfers.Advance(s.as(seller.ID), t.ID, transfer.ActionComplete)
	s.Require().NoError(err)
	s.Equal(transfer.StateCompleted, t.State)
	s.Require().NotNil(t.CompletedAt)

	got, err = s.parcels.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(buyer.ID, got.OwnerID)
	s.Equal(parcel.StatusActive, got.Status)

	sellerRep := s.reputation(seller.ID)
	buyerRep := s.reputation(buyer.ID)
	s.Equal(1, sellerRep.TotalTransactions)
	s.Equal(1, sellerRep.SuccessfulTransactions)
	s.Equal(1, buyerRep.TotalTransactions)
	s.Equal(51, buyerRep.Score)
}

func (s *TransferSuite) TestConcurrentInitiateOneWinner() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	const attempts = 16
	var wins atomic.Int32
	var conflicts atomic.Int32

	g := new(errgroup.Group)
	for range attempts {
		g.Go(func() error {
			_, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
			switch {
			case err == nil:
				wins.Add(1)
			case derrors.Is(err, derrors.CodeConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(attempts-1), conflicts.Load())
}

func (s *TransferSuite) TestInitiateRejectsNonOwnerSeller() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	impostor := s.seedVerified("impostor", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	_, err := s.transfers.Initiate(s.as(impostor.ID), p.ID, impostor.ID, buyer.ID, 50000)
	s.Equal(derrors.CodeUnauthorized, derrors.CodeOf(err))
}

func (s *TransferSuite) TestInitiateRejectsUnverifiedBuyer() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	p := s.registerParcel(seller, 50000)

	pending, err := s.identities.Register(s.ctx, "newcomer", identity.RoleBuyer)
	s.Require().NoError(err)

	_, err = s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, pending.ID, 50000)
	s.Equal(derrors.CodeUnauthorized, derrors.CodeOf(err))
}

func (s *TransferSuite) TestEscrowRequiresBuyer() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)

	_, err = s.transfers.Advance(s.as(seller.ID), t.ID, transfer.ActionEscrow)
	s.Equal(derrors.CodeUnauthorized, derrors.CodeOf(err))
}

func (s *TransferSuite) TestCompleteAfterDeadlineExpired() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)
	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionEscrow)
	s.Require().NoError(err)

	late := requestcontext.WithTime(s.as(seller.ID), time.Now().Add(escrowTTL+time.Hour))
	_, err = s.transfers.Advance(late, t.ID, transfer.ActionComplete)
	s.Equal(derrors.CodeExpired, derrors.CodeOf(err))
}

func (s *TransferSuite) TestCancelBeforeEscrowByEitherParty() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)

	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionCancel)
	s.Require().NoError(err)
	s.Equal(transfer.StateCancelled, t.State)

	got, err := s.parcels.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(parcel.StatusActive, got.Status)
	s.Equal(seller.ID, got.OwnerID)
}

func (s *TransferSuite) TestCancelEscrowedReleasesFundsAndParcel() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)
	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionEscrow)
	s.Require().NoError(err)

	// Seller cannot cancel once escrow is locked.
	_, err = s.transfers.Advance(s.as(seller.ID), t.ID, transfer.ActionCancel)
	s.Equal(derrors.CodeUnauthorized, derrors.CodeOf(err))

	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionCancel)
	s.Require().NoError(err)
	s.Equal(transfer.StateCancelled, t.State)
	s.Equal(int64(0), t.EscrowHeld)

	got, err := s.parcels.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(parcel.StatusActive, got.Status)
}

func (s *TransferSuite) TestTerminalTransferRejectsActions() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)
	_, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionCancel)
	s.Require().NoError(err)

	for _, action := range []transfer.Action{transfer.ActionEscrow, transfer.ActionComplete, transfer.ActionCancel} {
		_, err := s.transfers.Advance(s.as(buyer.ID), t.ID, action)
		s.Equal(derrors.CodeInvalidState, derrors.CodeOf(err), "action %s", action)
	}
}

func (s *TransferSuite) TestExpireIsIdempotent() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)
	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionEscrow)
	s.Require().NoError(err)

	late := requestcontext.WithTime(s.ctx, time.Now().Add(escrowTTL+time.Hour))
	t, err = s.transfers.Expire(late, t.ID)
	s.Require().NoError(err)
	s.Equal(transfer.StateExpired, t.State)
	s.Equal(int64(0), t.EscrowHeld)

	// A second pass over the same transfer is a no-op, not an error.
	again, err := s.transfers.Expire(late, t.ID)
	s.Require().NoError(err)
	s.Equal(transfer.StateExpired, again.State)

	got, err := s.parcels.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(parcel.StatusActive, got.Status)

	// Expiry counts the attempt but not a success.
	rep := s.reputation(buyer.ID)
	s.Equal(1, rep.TotalTransactions)
	s.Equal(0, rep.SuccessfulTransactions)
}

func (s *TransferSuite) TestExpireBeforeDeadlineIsNoop() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)
	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionEscrow)
	s.Require().NoError(err)

	t, err = s.transfers.Expire(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(transfer.StateEscrowed, t.State)
}

func (s *TransferSuite) TestCompleteWithOpenDisputeLeavesParcelDisputed() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	claimant := s.seedVerified("claimant", identity.RoleLandowner)
	p := s.registerParcel(seller, 50000)

	t, err := s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Require().NoError(err)
	t, err = s.transfers.Advance(s.as(buyer.ID), t.ID, transfer.ActionEscrow)
	s.Require().NoError(err)

	_, err = s.disputes.File(s.as(claimant.ID), p.ID, "boundary overlap", nil)
	s.Require().NoError(err)

	t, err = s.transfers.Advance(s.as(seller.ID), t.ID, transfer.ActionComplete)
	s.Require().NoError(err)
	s.Equal(transfer.StateCompleted, t.State)

	got, err := s.parcels.Get(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(buyer.ID, got.OwnerID)
	s.Equal(parcel.StatusDisputed, got.Status, "open dispute takes precedence over the revert to active")
}

func (s *TransferSuite) TestInitiateOnDisputedParcelConflicts() {
	seller := s.seedVerified("seller", identity.RoleLandowner)
	buyer := s.seedVerified("buyer", identity.RoleBuyer)
	claimant := s.seedVerified("claimant", identity.RoleLandowner)
	arbitrator := s.seedVerified("arbitrator", identity.RoleArbitrator)
	p := s.registerParcel(seller, 50000)

	d, err := s.disputes.File(s.as(claimant.ID), p.ID, "forged title", nil)
	s.Require().NoError(err)
	_, err = s.disputes.Advance(s.as(arbitrator.ID), d.ID, dispute.ActionReview, "")
	s.Require().NoError(err)

	_, err = s.transfers.Initiate(s.as(seller.ID), p.ID, seller.ID, buyer.ID, 50000)
	s.Equal(derrors.CodeConflict, derrors.CodeOf(err))
}
