// Package dispute manages the dispute lifecycle: filing, arbitrator review,
// community voting with quorum, and resolution. An open dispute freezes its
// parcel; the transfer engine defers to that freeze.
package dispute

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"landledger/internal/dispute/metrics"
	"landledger/internal/identity"
	"landledger/internal/ledger"
	"landledger/internal/parcel"
	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/keylock"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// Store is the persistence surface; implemented by internal/dispute/store.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, disputeID id.DisputeID) (*Dispute, error)
	Update(ctx context.Context, d *Dispute, expectedVersion int64) error
	List(ctx context.Context, filter Filter) ([]*Dispute, error)
	CastVote(ctx context.Context, v *Vote) (*Dispute, error)
	OpenCount(ctx context.Context, parcelID id.ParcelID) (int, error)
	ListVotingClosed(ctx context.Context, now time.Time) ([]*Dispute, error)
}

// TransferChecker reports whether a parcel has escrow locked on it, so a
// closing dispute knows whether to hand the parcel back to the transfer
// that was frozen underneath it.
type TransferChecker interface {
	HasPendingEscrow(ctx context.Context, parcelID id.ParcelID) (bool, error)
}

// Service is the dispute engine.
type Service struct {
	store        Store
	parcels      *parcel.Service
	identities   *identity.Service
	transfers    TransferChecker
	log          *ledger.Service
	locks        *keylock.KeyLock
	metrics      *metrics.Metrics
	logger       *slog.Logger
	votingWindow time.Duration
	quorum       int
}

func NewService(
	store Store,
	parcels *parcel.Service,
	identities *identity.Service,
	transfers TransferChecker,
	log *ledger.Service,
	locks *keylock.KeyLock,
	m *metrics.Metrics,
	logger *slog.Logger,
	votingWindow time.Duration,
	quorum int,
) *Service {
	return &Service{
		store:        store,
		parcels:      parcels,
		identities:   identities,
		transfers:    transfers,
		log:          log,
		locks:        locks,
		metrics:      m,
		logger:       logger,
		votingWindow: votingWindow,
		quorum:       quorum,
	}
}

// SetTransferChecker wires the transfer engine in after construction. The
// two engines reference each other, so one side has to be attached late.
func (s *Service) SetTransferChecker(transfers TransferChecker) {
	s.transfers = transfers
}

// File opens a dispute against the parcel's recorded owner. The parcel is
// not frozen yet; that happens when an authority takes the dispute under
// review.
func (s *Service) File(ctx context.Context, parcelID id.ParcelID, reason string, evidence []string) (*Dispute, error) {
	if reason == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "reason is required")
	}
	plaintiff := requestcontext.Actor(ctx)
	if _, err := s.identities.RequireVerified(ctx, plaintiff); err != nil {
		return nil, err
	}

	s.locks.Lock(parcelID.String())
	defer s.locks.Unlock(parcelID.String())

	p, err := s.parcels.Get(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID == plaintiff {
		return nil, derrors.New(derrors.CodeInvalidInput, "owner cannot dispute their own parcel")
	}

	d := &Dispute{
		ID:          id.NewDisputeID(),
		ParcelID:    parcelID,
		PlaintiffID: plaintiff,
		DefendantID: p.OwnerID,
		Reason:      reason,
		Evidence:    evidence,
		State:       StateFiled,
		FiledAt:     requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityDispute, d.ID.String(), "", string(StateFiled), d); err != nil {
		return nil, translate(err)
	}

	s.metrics.Filed.Inc()
	s.logger.InfoContext(ctx, "dispute filed",
		"dispute_id", d.ID,
		"parcel_id", parcelID,
		"plaintiff_id", plaintiff,
		"defendant_id", d.DefendantID,
	)
	return d, nil
}

// Advance applies a caller-requested lifecycle action.
func (s *Service) Advance(ctx context.Context, disputeID id.DisputeID, action Action, resolution string) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, translate(err)
	}

	switch action {
	case ActionReview:
		return s.review(ctx, d)
	case ActionOpenVoting:
		return s.openVoting(ctx, d)
	case ActionResolve:
		return s.resolve(ctx, d, resolution)
	case ActionReject:
		return s.reject(ctx, d, resolution)
	default:
		return nil, derrors.New(derrors.CodeInvalidInput, "invalid dispute action: "+string(action))
	}
}

// review takes a filed dispute under review. The acting authority or
// arbitrator becomes the assigned arbitrator, and the parcel freezes.
func (s *Service) review(ctx context.Context, d *Dispute) (*Dispute, error) {
	arbitrator, err := s.identities.RequireVerified(ctx, requestcontext.Actor(ctx), identity.RoleAuthority, identity.RoleArbitrator)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(d.ParcelID.String())
	defer s.locks.Unlock(d.ParcelID.String())

	d, err = s.reload(ctx, d)
	if err != nil {
		return nil, err
	}
	if d.State != StateFiled {
		return nil, invalidState(d, "review requires a freshly filed dispute")
	}

	if _, err := s.parcels.SetStatus(ctx, d.ParcelID, parcel.StatusDisputed); err != nil {
		return nil, err
	}

	prior := d.State
	d.State = StateUnderReview
	d.ArbitratorID = arbitrator.ID
	if err := s.store.Update(ctx, d, d.Version); err != nil {
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityDispute, d.ID.String(), string(prior), string(d.State), d); err != nil {
		return nil, translate(err)
	}

	s.logger.InfoContext(ctx, "dispute under review",
		"dispute_id", d.ID,
		"parcel_id", d.ParcelID,
		"arbitrator_id", d.ArbitratorID,
	)
	return d, nil
}

// openVoting opens the community voting window.
func (s *Service) openVoting(ctx context.Context, d *Dispute) (*Dispute, error) {
	if err := s.requireArbitrator(ctx, d); err != nil {
		return nil, err
	}

	s.locks.Lock(d.ParcelID.String())
	defer s.locks.Unlock(d.ParcelID.String())

	d, err := s.reload(ctx, d)
	if err != nil {
		return nil, err
	}
	if d.State != StateUnderReview {
		return nil, invalidState(d, "voting can only open from review")
	}

	deadline := requestcontext.Now(ctx).Add(s.votingWindow)
	prior := d.State
	d.State = StateCommunityVoting
	d.VotingDeadline = &deadline
	if err := s.store.Update(ctx, d, d.Version); err != nil {
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityDispute, d.ID.String(), string(prior), string(d.State), d); err != nil {
		return nil, translate(err)
	}

	s.logger.InfoContext(ctx, "community voting opened",
		"dispute_id", d.ID,
		"parcel_id", d.ParcelID,
		"deadline", deadline,
	)
	return d, nil
}

// resolve upholds the claim from review: the arbitrator's manual decision,
// also the fallback path when voting closes under quorum.
func (s *Service) resolve(ctx context.Context, d *Dispute, resolution string) (*Dispute, error) {
	if err := s.requireArbitrator(ctx, d); err != nil {
		return nil, err
	}
	if resolution == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "resolution is required")
	}

	s.locks.Lock(d.ParcelID.String())
	defer s.locks.Unlock(d.ParcelID.String())

	d, err := s.reload(ctx, d)
	if err != nil {
		return nil, err
	}
	if d.State != StateUnderReview {
		return nil, invalidState(d, "manual resolution requires review")
	}
	return s.close(ctx, d, StateResolved, resolution)
}

// reject dismisses the dispute. Allowed from any open state so an authority
// can summarily dismiss a malformed filing before or during voting.
func (s *Service) reject(ctx context.Context, d *Dispute, resolution string) (*Dispute, error) {
	if err := s.requireArbitrator(ctx, d); err != nil {
		return nil, err
	}
	if resolution == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "resolution is required")
	}

	s.locks.Lock(d.ParcelID.String())
	defer s.locks.Unlock(d.ParcelID.String())

	d, err := s.reload(ctx, d)
	if err != nil {
		return nil, err
	}
	if d.State.Terminal() {
		return nil, invalidState(d, "dispute is already closed")
	}
	return s.close(ctx, d, StateRejected, resolution)
}

// CastVote records a community member's ballot. Exactly one ballot per
// voter per dispute is kept, however many concurrent attempts race.
func (s *Service) CastVote(ctx context.Context, disputeID id.DisputeID, choice VoteChoice) (*Dispute, error) {
	voter := requestcontext.Actor(ctx)
	if _, err := s.identities.RequireVerified(ctx, voter); err != nil {
		return nil, err
	}

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, translate(err)
	}
	if d.State != StateCommunityVoting {
		return nil, invalidState(d, "voting is not open")
	}
	if d.VotingDeadline != nil && requestcontext.Now(ctx).After(*d.VotingDeadline) {
		return nil, derrors.New(derrors.CodeExpired, "voting deadline has passed")
	}
	if voter == d.PlaintiffID || voter == d.DefendantID {
		return nil, derrors.New(derrors.CodeUnauthorized, "parties to the dispute cannot vote")
	}

	v := &Vote{
		DisputeID: disputeID,
		VoterID:   voter,
		Choice:    choice,
		CastAt:    requestcontext.Now(ctx),
	}
	d, err = s.store.CastVote(ctx, v)
	if err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, derrors.Wrap(derrors.CodeDuplicate, "voter has already voted on this dispute", err)
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, derrors.Wrap(derrors.CodeInvalidState, "voting closed before the ballot was recorded", err)
		}
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityDispute, d.ID.String(), string(StateCommunityVoting), string(StateCommunityVoting), d); err != nil {
		return nil, translate(err)
	}

	s.metrics.Votes.WithLabelValues(string(choice)).Inc()
	s.logger.InfoContext(ctx, "vote cast",
		"dispute_id", disputeID,
		"voter_id", voter,
		"choice", choice,
	)
	return d, nil
}

// AddEvidence appends an evidence reference. Only the parties may add, and
// only while the dispute is open.
func (s *Service) AddEvidence(ctx context.Context, disputeID id.DisputeID, ref string) (*Dispute, error) {
	if ref == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "evidence reference is required")
	}
	actor := requestcontext.Actor(ctx)

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, translate(err)
	}
	if actor != d.PlaintiffID && actor != d.DefendantID {
		return nil, derrors.New(derrors.CodeUnauthorized, "only a party to the dispute may add evidence")
	}
	if d.State.Terminal() {
		return nil, invalidState(d, "dispute is already closed")
	}

	d.Evidence = append(d.Evidence, ref)
	if err := s.store.Update(ctx, d, d.Version); err != nil {
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityDispute, d.ID.String(), string(d.State), string(d.State), d); err != nil {
		return nil, translate(err)
	}
	return d, nil
}

// CloseVoting evaluates a dispute whose voting deadline has passed. It is
// the sweep's entry point and is idempotent: a dispute another worker
// already closed is a no-op. Quorum counts non-abstain votes; under quorum
// the dispute returns to review for manual resolution. At quorum, more
// support than against upholds the claim; a tie keeps the status quo and
// rejects.
func (s *Service) CloseVoting(ctx context.Context, disputeID id.DisputeID) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, translate(err)
	}
	if d.State != StateCommunityVoting {
		return d, nil
	}

	s.locks.Lock(d.ParcelID.String())
	defer s.locks.Unlock(d.ParcelID.String())

	d, err = s.reload(ctx, d)
	if err != nil {
		return nil, err
	}
	if d.State != StateCommunityVoting || d.VotingDeadline == nil {
		return d, nil
	}
	if !d.VotingDeadline.Before(requestcontext.Now(ctx)) {
		return d, nil
	}

	if d.Tally.Counted() < s.quorum {
		prior := d.State
		d.State = StateUnderReview
		d.VotingDeadline = nil
		if err := s.store.Update(ctx, d, d.Version); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return d, nil
			}
			return nil, translate(err)
		}
		if _, err := s.log.Record(ctx, ledger.EntityDispute, d.ID.String(), string(prior), string(d.State), d); err != nil {
			return nil, translate(err)
		}
		s.logger.InfoContext(ctx, "voting closed under quorum",
			"dispute_id", d.ID,
			"counted", d.Tally.Counted(),
			"quorum", s.quorum,
		)
		return d, nil
	}

	outcome := StateRejected
	resolution := "community vote kept the recorded owner"
	if d.Tally.Support > d.Tally.Against {
		outcome = StateResolved
		resolution = "community vote upheld the claim"
	}
	closed, err := s.close(ctx, d, outcome, resolution)
	if err != nil {
		if derrors.Is(err, derrors.CodeConflict) {
			return d, nil
		}
		return nil, err
	}
	return closed, nil
}

// Get returns the dispute.
func (s *Service) Get(ctx context.Context, disputeID id.DisputeID) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, translate(err)
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, filter Filter) ([]*Dispute, error) {
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// OpenDisputes reports open disputes on the parcel. Satisfies the transfer
// engine's checker.
func (s *Service) OpenDisputes(ctx context.Context, parcelID id.ParcelID) (int, error) {
	n, err := s.store.OpenCount(ctx, parcelID)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// ListVotingClosed feeds the deadline sweep.
func (s *Service) ListVotingClosed(ctx context.Context, now time.Time) ([]*Dispute, error) {
	out, err := s.store.ListVotingClosed(ctx, now)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// close moves an open dispute to a terminal state and hands the parcel
// back: Active, or TransferPending when escrow is still locked underneath,
// or left Disputed when other open disputes remain. Caller holds the parcel
// lock and has validated the source state.
func (s *Service) close(ctx context.Context, d *Dispute, outcome State, resolution string) (*Dispute, error) {
	others, err := s.store.OpenCount(ctx, d.ParcelID)
	if err != nil {
		return nil, translate(err)
	}
	others-- // this dispute is still counted as open

	reverted := false
	if others == 0 {
		p, err := s.parcels.Get(ctx, d.ParcelID)
		if err != nil {
			return nil, err
		}
		if p.Status == parcel.StatusDisputed {
			if err := s.revertParcel(ctx, d.ParcelID); err != nil {
				return nil, err
			}
			reverted = true
		}
	}

	now := requestcontext.Now(ctx)
	prior := d.State
	d.State = outcome
	d.Resolution = resolution
	d.VotingDeadline = nil
	d.ClosedAt = &now
	if err := s.store.Update(ctx, d, d.Version); err != nil {
		if reverted {
			s.compensateParcel(ctx, d.ParcelID)
		}
		return nil, translate(err)
	}
	if _, err := s.log.Record(ctx, ledger.EntityDispute, d.ID.String(), string(prior), string(d.State), d); err != nil {
		return nil, translate(err)
	}

	s.metrics.Outcomes.WithLabelValues(string(outcome)).Inc()
	s.logger.InfoContext(ctx, "dispute closed",
		"dispute_id", d.ID,
		"parcel_id", d.ParcelID,
		"outcome", outcome,
		"support", d.Tally.Support,
		"against", d.Tally.Against,
	)
	return d, nil
}

// revertParcel unfreezes the parcel. TransferPending is only reachable via
// Active, so a frozen escrow takes two status steps.
func (s *Service) revertParcel(ctx context.Context, parcelID id.ParcelID) error {
	if _, err := s.parcels.SetStatus(ctx, parcelID, parcel.StatusActive); err != nil {
		return err
	}
	if s.transfers == nil {
		return nil
	}
	escrowed, err := s.transfers.HasPendingEscrow(ctx, parcelID)
	if err != nil {
		return err
	}
	if escrowed {
		if _, err := s.parcels.SetStatus(ctx, parcelID, parcel.StatusTransferPending); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) compensateParcel(ctx context.Context, parcelID id.ParcelID) {
	if _, err := s.parcels.SetStatus(ctx, parcelID, parcel.StatusDisputed); err != nil {
		s.logger.ErrorContext(ctx, "parcel status compensation failed",
			"parcel_id", parcelID,
			"error", err,
		)
	}
}

// requireArbitrator admits the assigned arbitrator, or any verified
// authority when none is assigned yet.
func (s *Service) requireArbitrator(ctx context.Context, d *Dispute) error {
	actor := requestcontext.Actor(ctx)
	if d.ArbitratorID != "" {
		if actor == d.ArbitratorID {
			return nil
		}
		// An authority may still step over the assigned arbitrator.
		_, err := s.identities.RequireVerified(ctx, actor, identity.RoleAuthority)
		return err
	}
	_, err := s.identities.RequireVerified(ctx, actor, identity.RoleAuthority, identity.RoleArbitrator)
	return err
}

func (s *Service) reload(ctx context.Context, d *Dispute) (*Dispute, error) {
	fresh, err := s.store.Get(ctx, d.ID)
	if err != nil {
		return nil, translate(err)
	}
	return fresh, nil
}

func invalidState(d *Dispute, msg string) error {
	return derrors.New(derrors.CodeInvalidState, msg).WithDetail(string(d.State))
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return derrors.Wrap(derrors.CodeNotFound, "dispute not found", err)
	case errors.Is(err, sentinel.ErrConflict):
		return derrors.Wrap(derrors.CodeConflict, "dispute was modified concurrently", err)
	case errors.Is(err, sentinel.ErrDuplicate):
		return derrors.Wrap(derrors.CodeDuplicate, "dispute already exists", err)
	default:
		return derrors.Wrap(derrors.CodeInternal, "dispute store failure", err)
	}
}
