// Package transfer orchestrates ownership transfer through an escrow state
// machine. It is the only mutator of Parcel.owner, and it defers to the
// dispute engine: a disputed parcel rejects new activity.
package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"landledger/internal/identity"
	"landledger/internal/ledger"
	"landledger/internal/parcel"
	"landledger/internal/transfer/metrics"
	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/keylock"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// Store is the persistence surface; implemented by internal/transfer/store.
type Store interface {
	Create(ctx context.Context, t *Transfer) error
	Get(ctx context.Context, transferID id.TransferID) (*Transfer, error)
	Update(ctx context.Context, t *Transfer, expectedVersion int64) error
	List(ctx context.Context, filter Filter) ([]*Transfer, error)
	ListEscrowExpired(ctx context.Context, now time.Time) ([]*Transfer, error)
}

// DisputeChecker reports open disputes on a parcel. Implemented by the
// dispute engine; wired in main to keep the engines decoupled.
type DisputeChecker interface {
	OpenDisputes(ctx context.Context, parcelID id.ParcelID) (int, error)
}

// Service is the transfer engine.
type Service struct {
	store      Store
	parcels    *parcel.Service
	identities *identity.Service
	disputes   DisputeChecker
	log        *ledger.Service
	locks      *keylock.KeyLock
	metrics    *metrics.Metrics
	logger     *slog.Logger
	escrowTTL  time.Duration
}

func NewService(
	store Store,
	parcels *parcel.Service,
	identities *identity.Service,
	disputes DisputeChecker,
	log *ledger.Service,
	locks *keylock.KeyLock,
	m *metrics.Metrics,
	logger *slog.Logger,
	escrowTTL time.Duration,
) *Service {
	return &Service{
		store:      store,
		parcels:    parcels,
		identities: identities,
		disputes:   disputes,
		log:        log,
		locks:      locks,
		metrics:    m,
		logger:     logger,
		escrowTTL:  escrowTTL,
	}
}

// Initiate creates a transfer in state Initiated. The parcel stays Active
// until escrow locks; the store's uniqueness guarantee makes exactly one of
// any set of racing initiations win.
func (s *Service) Initiate(ctx context.Context, parcelID id.ParcelID, sellerID, buyerID id.IdentityID, amount int64) (*Transfer, error) {
	if amount <= 0 {
		return nil, derrors.New(derrors.CodeInvalidInput, "amount must be positive")
	}
	if sellerID == buyerID {
		return nil, derrors.New(derrors.CodeInvalidInput, "seller and buyer must differ")
	}
	actor := requestcontext.Actor(ctx)
	if actor != sellerID && actor != buyerID {
		return nil, derrors.New(derrors.CodeUnauthorized, "only a party to the transfer may initiate it")
	}
	if _, err := s.identities.RequireVerified(ctx, sellerID); err != nil {
		return nil, err
	}
	if _, err := s.identities.RequireVerified(ctx, buyerID); err != nil {
		return nil, err
	}

	s.locks.Lock(parcelID.String())
	defer s.locks.Unlock(parcelID.String())

	p, err := s.parcels.Get(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	if p.Status == parcel.StatusDisputed {
		s.metrics.Conflicts.Inc()
		return nil, derrors.New(derrors.CodeConflict, "parcel is disputed").WithDetail(string(p.Status))
	}
	if p.OwnerID != sellerID {
		return nil, derrors.New(derrors.CodeUnauthorized, "seller is not the parcel owner")
	}

	t := &Transfer{
		ID:          id.NewTransferID(),
		ParcelID:    parcelID,
		SellerID:    sellerID,
		BuyerID:     buyerID,
		Amount:      amount,
		State:       StateInitiated,
		InitiatedAt: requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, t); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.Conflicts.Inc()
			return nil, derrors.Wrap(derrors.CodeConflict, "parcel already has a transfer in flight", err)
		}
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityTransfer, t.ID.String(), "", string(StateInitiated), t); err != nil {
		return nil, translate(err)
	}

	s.metrics.Initiated.Inc()
	s.logger.InfoContext(ctx, "transfer initiated",
		"transfer_id", t.ID,
		"parcel_id", parcelID,
		"amount", amount,
	)
	return t, nil
}

// Advance applies a caller-requested action to the transfer.
func (s *Service) Advance(ctx context.Context, transferID id.TransferID, action Action) (*Transfer, error) {
	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, translate(err)
	}

	switch action {
	case ActionEscrow:
		return s.escrow(ctx, t)
	case ActionComplete:
		return s.complete(ctx, t)
	case ActionCancel:
		return s.cancel(ctx, t)
	default:
		return nil, derrors.New(derrors.CodeInvalidInput, "invalid transfer action: "+string(action))
	}
}

// escrow locks the buyer's funds: Initiated -> Escrowed, parcel ->
// TransferPending.
func (s *Service) escrow(ctx context.Context, t *Transfer) (*Transfer, error) {
	if requestcontext.Actor(ctx) != t.BuyerID {
		return nil, derrors.New(derrors.CodeUnauthorized, "only the buyer may lock escrow")
	}

	s.locks.Lock(t.ParcelID.String())
	defer s.locks.Unlock(t.ParcelID.String())

	t, err := s.reload(ctx, t)
	if err != nil {
		return nil, err
	}
	if t.State != StateInitiated {
		return nil, invalidState(t, "escrow requires an initiated transfer")
	}

	// Parcel first: SetStatus enforces Active -> TransferPending and rejects
	// a disputed parcel with Conflict.
	if _, err := s.parcels.SetStatus(ctx, t.ParcelID, parcel.StatusTransferPending); err != nil {
		if derrors.Is(err, derrors.CodeConflict) {
			s.metrics.Conflicts.Inc()
		}
		return nil, err
	}

	now := requestcontext.Now(ctx)
	deadline := now.Add(s.escrowTTL)
	prior := t.State
	t.State = StateEscrowed
	t.EscrowHeld = t.Amount
	t.EscrowDeadline = &deadline
	if err := s.store.Update(ctx, t, t.Version); err != nil {
		s.compensateParcel(ctx, t.ParcelID, parcel.StatusActive)
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityTransfer, t.ID.String(), string(prior), string(t.State), t); err != nil {
		return nil, translate(err)
	}

	s.logger.InfoContext(ctx, "escrow locked",
		"transfer_id", t.ID,
		"parcel_id", t.ParcelID,
		"escrow_held", t.EscrowHeld,
		"deadline", deadline,
	)
	return t, nil
}

// complete finishes the transfer on seller confirmation: ownership moves to
// the buyer and the parcel reverts to Active unless a dispute opened while
// escrow was held, in which case the dispute takes precedence.
func (s *Service) complete(ctx context.Context, t *Transfer) (*Transfer, error) {
	if requestcontext.Actor(ctx) != t.SellerID {
		return nil, derrors.New(derrors.CodeUnauthorized, "only the seller may confirm completion")
	}

	s.locks.Lock(t.ParcelID.String())
	defer s.locks.Unlock(t.ParcelID.String())

	t, err := s.reload(ctx, t)
	if err != nil {
		return nil, err
	}
	if t.State != StateEscrowed {
		return nil, invalidState(t, "completion requires locked escrow")
	}
	now := requestcontext.Now(ctx)
	if t.EscrowDeadline != nil && now.After(*t.EscrowDeadline) {
		return nil, derrors.New(derrors.CodeExpired, "escrow deadline has passed")
	}
	if t.EscrowHeld != t.Amount {
		return nil, invalidState(t, "escrow held does not cover the agreed amount")
	}

	final, err := s.parcelStatusAfter(ctx, t.ParcelID)
	if err != nil {
		return nil, err
	}
	prevOwner := t.SellerID
	if _, err := s.parcels.TransferOwnership(ctx, t.ParcelID, t.BuyerID, final); err != nil {
		return nil, err
	}

	prior := t.State
	t.State = StateCompleted
	t.CompletedAt = &now
	if err := s.store.Update(ctx, t, t.Version); err != nil {
		// Another instance advanced the transfer (e.g. sweep expiry) between
		// our parcel write and here; give the parcel back.
		if _, revErr := s.parcels.TransferOwnership(ctx, t.ParcelID, prevOwner, final); revErr != nil {
			s.logger.ErrorContext(ctx, "ownership compensation failed",
				"transfer_id", t.ID,
				"parcel_id", t.ParcelID,
				"error", revErr,
			)
		}
		s.metrics.Conflicts.Inc()
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityTransfer, t.ID.String(), string(prior), string(t.State), t); err != nil {
		return nil, translate(err)
	}

	s.metrics.Outcomes.WithLabelValues(string(StateCompleted)).Inc()
	s.logger.InfoContext(ctx, "transfer completed",
		"transfer_id", t.ID,
		"parcel_id", t.ParcelID,
		"new_owner", t.BuyerID,
	)
	return t, nil
}

// cancel aborts the transfer. Before escrow, either party may cancel; once
// funds are locked, only the buyer may (the deadline sweep handles the
// seller's side by expiry).
func (s *Service) cancel(ctx context.Context, t *Transfer) (*Transfer, error) {
	actor := requestcontext.Actor(ctx)

	s.locks.Lock(t.ParcelID.String())
	defer s.locks.Unlock(t.ParcelID.String())

	t, err := s.reload(ctx, t)
	if err != nil {
		return nil, err
	}

	switch t.State {
	case StateInitiated:
		if actor != t.SellerID && actor != t.BuyerID {
			return nil, derrors.New(derrors.CodeUnauthorized, "only a party to the transfer may cancel it")
		}
		return s.finishCancel(ctx, t, StateCancelled, false)
	case StateEscrowed:
		if actor != t.BuyerID {
			return nil, derrors.New(derrors.CodeUnauthorized, "only the buyer may cancel a locked escrow")
		}
		return s.finishCancel(ctx, t, StateCancelled, true)
	default:
		return nil, invalidState(t, "transfer is already terminal")
	}
}

// Expire moves an escrowed transfer past its deadline to Expired. It is the
// sweep's entry point and is idempotent: re-evaluating an already-terminal
// transfer is a no-op, not an error.
func (s *Service) Expire(ctx context.Context, transferID id.TransferID) (*Transfer, error) {
	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, translate(err)
	}
	if t.State.Terminal() {
		return t, nil
	}

	s.locks.Lock(t.ParcelID.String())
	defer s.locks.Unlock(t.ParcelID.String())

	t, err = s.reload(ctx, t)
	if err != nil {
		return nil, err
	}
	if t.State != StateEscrowed || t.EscrowDeadline == nil {
		return t, nil
	}
	if !t.EscrowDeadline.Before(requestcontext.Now(ctx)) {
		return t, nil
	}
	return s.finishCancel(ctx, t, StateExpired, true)
}

// finishCancel performs the shared tail of cancel and expiry: release any
// held escrow, revert the parcel, record the terminal state.
func (s *Service) finishCancel(ctx context.Context, t *Transfer, terminal State, revertParcel bool) (*Transfer, error) {
	if revertParcel {
		status, err := s.parcelStatusAfter(ctx, t.ParcelID)
		if err != nil {
			return nil, err
		}
		if _, err := s.parcels.SetStatus(ctx, t.ParcelID, status); err != nil {
			return nil, err
		}
	}

	released := t.EscrowHeld
	prior := t.State
	t.State = terminal
	t.EscrowHeld = 0
	if err := s.store.Update(ctx, t, t.Version); err != nil {
		if revertParcel {
			s.compensateParcel(ctx, t.ParcelID, parcel.StatusTransferPending)
		}
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.Conflicts.Inc()
		}
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityTransfer, t.ID.String(), string(prior), string(t.State), t); err != nil {
		return nil, translate(err)
	}

	s.metrics.Outcomes.WithLabelValues(string(terminal)).Inc()
	s.logger.InfoContext(ctx, "transfer closed",
		"transfer_id", t.ID,
		"parcel_id", t.ParcelID,
		"outcome", terminal,
		"escrow_released", released,
	)
	return t, nil
}

// Get returns the transfer.
func (s *Service) Get(ctx context.Context, transferID id.TransferID) (*Transfer, error) {
	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, translate(err)
	}
	return t, nil
}

// List returns transfers matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Transfer, error) {
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// HasPendingEscrow reports whether a transfer currently holds escrow on the
// parcel. The dispute engine consults this when unfreezing a parcel.
func (s *Service) HasPendingEscrow(ctx context.Context, parcelID id.ParcelID) (bool, error) {
	out, err := s.store.List(ctx, Filter{ParcelID: parcelID, State: StateEscrowed})
	if err != nil {
		return false, translate(err)
	}
	return len(out) > 0, nil
}

// ListEscrowExpired feeds the deadline sweep.
func (s *Service) ListEscrowExpired(ctx context.Context, now time.Time) ([]*Transfer, error) {
	out, err := s.store.ListEscrowExpired(ctx, now)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// parcelStatusAfter computes what the parcel should revert to once this
// transfer stops holding it: Disputed wins whenever a dispute is open.
func (s *Service) parcelStatusAfter(ctx context.Context, parcelID id.ParcelID) (parcel.Status, error) {
	open, err := s.disputes.OpenDisputes(ctx, parcelID)
	if err != nil {
		return "", err
	}
	if open > 0 {
		return parcel.StatusDisputed, nil
	}
	return parcel.StatusActive, nil
}

// reload re-reads the transfer inside the parcel lock so state checks see
// the freshest version.
func (s *Service) reload(ctx context.Context, t *Transfer) (*Transfer, error) {
	fresh, err := s.store.Get(ctx, t.ID)
	if err != nil {
		return nil, translate(err)
	}
	return fresh, nil
}

func (s *Service) compensateParcel(ctx context.Context, parcelID id.ParcelID, status parcel.Status) {
	if _, err := s.parcels.SetStatus(ctx, parcelID, status); err != nil {
		s.logger.ErrorContext(ctx, "parcel status compensation failed",
			"parcel_id", parcelID,
			"status", status,
			"error", err,
		)
	}
}

func invalidState(t *Transfer, msg string) error {
	return derrors.New(derrors.CodeInvalidState, msg).WithDetail(string(t.State))
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return derrors.Wrap(derrors.CodeNotFound, "transfer not found", err)
	case errors.Is(err, sentinel.ErrConflict):
		return derrors.Wrap(derrors.CodeConflict, "transfer was modified concurrently", err)
	default:
		return derrors.Wrap(derrors.CodeInternal, "transfer store failure", err)
	}
}
