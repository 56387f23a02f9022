//go:build integration

package store_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"landledger/internal/dispute"
	"landledger/internal/dispute/store"
	"landledger/internal/identity"
	identitystore "landledger/internal/identity/store"
	"landledger/internal/parcel"
	parcelstore "landledger/internal/parcel/store"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore

	idStore   *identitystore.PostgresStore
	parcelID  id.ParcelID
	plaintiff id.IdentityID
	defendant id.IdentityID
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
	s.idStore = identitystore.NewPostgresStore(s.pg.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.pg.TruncateTables(ctx,
		"ledger_events", "votes", "disputes", "transfers", "parcels", "identities"))

	s.plaintiff = s.seedIdentity(identity.RoleLandowner)
	s.defendant = s.seedIdentity(identity.RoleLandowner)

	parcels := parcelstore.NewPostgresStore(s.pg.Pool)
	s.parcelID = id.NewParcelID()
	s.Require().NoError(parcels.Create(ctx, &parcel.Parcel{
		ID:            s.parcelID,
		Title:         "LP004",
		OwnerID:       s.defendant,
		AreaSqM:       900,
		DeclaredValue: 45000,
		Status:        parcel.StatusActive,
		RegisteredAt:  time.Now(),
	}))
}

func (s *PostgresStoreSuite) seedIdentity(role identity.Role) id.IdentityID {
	identityID := id.NewIdentityID()
	s.Require().NoError(s.idStore.Create(context.Background(), &identity.Identity{
		ID:           identityID,
		Name:         string(identityID),
		Role:         role,
		Verification: identity.VerificationVerified,
		Reputation:   identity.Reputation{Score: 50},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}))
	return identityID
}

func (s *PostgresStoreSuite) createDispute(state dispute.State) *dispute.Dispute {
	d := &dispute.Dispute{
		ID:          id.NewDisputeID(),
		ParcelID:    s.parcelID,
		PlaintiffID: s.plaintiff,
		DefendantID: s.defendant,
		Reason:      "conflicting title deed",
		Evidence:    []string{"doc-1"},
		State:       dispute.StateFiled,
		FiledAt:     time.Now(),
	}
	s.Require().NoError(s.store.Create(context.Background(), d))
	if state != dispute.StateFiled {
		d.State = state
		s.Require().NoError(s.store.Update(context.Background(), d, 1))
	}
	return d
}

func (s *PostgresStoreSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	d := s.createDispute(dispute.StateFiled)

	got, err := s.store.Get(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(d.ID, got.ID)
	s.Equal([]string{"doc-1"}, got.Evidence)
	s.Equal(dispute.Tally{}, got.Tally)
	s.Empty(got.ArbitratorID)
}

// TestConcurrentVotesOneRecorded hammers one voter against the (dispute_id,
// voter_id) primary key: exactly one ballot lands, however many race.
func (s *PostgresStoreSuite) TestConcurrentVotesOneRecorded() {
	ctx := context.Background()
	d := s.createDispute(dispute.StateCommunityVoting)
	voter := s.seedIdentity(identity.RoleBuyer)

	const goroutines = 20
	var recorded atomic.Int32
	var duplicates atomic.Int32
	g := new(errgroup.Group)
	for range goroutines {
		g.Go(func() error {
			_, err := s.store.CastVote(ctx, &dispute.Vote{
				DisputeID: d.ID,
				VoterID:   voter,
				Choice:    dispute.VoteSupport,
				CastAt:    time.Now(),
			})
			switch err {
			case nil:
				recorded.Add(1)
			case sentinel.ErrDuplicate:
				duplicates.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), recorded.Load())
	s.Equal(int32(goroutines-1), duplicates.Load())

	got, err := s.store.Get(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(1, got.Tally.Support)
}

// TestConcurrentVotesFromDistinctVotersAllCount verifies the tally uses
// atomic increments rather than stale read-modify-write.
func (s *PostgresStoreSuite) TestConcurrentVotesFromDistinctVotersAllCount() {
	ctx := context.Background()
	d := s.createDispute(dispute.StateCommunityVoting)

	const voters = 15
	voterIDs := make([]id.IdentityID, voters)
	for i := range voterIDs {
		voterIDs[i] = s.seedIdentity(identity.RoleBuyer)
	}

	g := new(errgroup.Group)
	for i, voterID := range voterIDs {
		choice := dispute.VoteSupport
		if i%3 == 2 {
			choice = dispute.VoteAgainst
		}
		g.Go(func() error {
			_, err := s.store.CastVote(ctx, &dispute.Vote{
				DisputeID: d.ID,
				VoterID:   voterID,
				Choice:    choice,
				CastAt:    time.Now(),
			})
			return err
		})
	}
	s.Require().NoError(g.Wait())

	got, err := s.store.Get(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(10, got.Tally.Support)
	s.Equal(5, got.Tally.Against)
}

// TestVoteOnClosedDisputeRollsBack exercises the state predicate on the
// tally update: once voting is no longer open, the ballot insert must not
// survive either.
func (s *PostgresStoreSuite) TestVoteOnClosedDisputeRollsBack() {
	ctx := context.Background()
	d := s.createDispute(dispute.StateRejected)
	voter := s.seedIdentity(identity.RoleBuyer)

	_, err := s.store.CastVote(ctx, &dispute.Vote{
		DisputeID: d.ID,
		VoterID:   voter,
		Choice:    dispute.VoteSupport,
		CastAt:    time.Now(),
	})
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	got, err := s.store.Get(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(dispute.Tally{}, got.Tally)

	var ballots int
	s.Require().NoError(s.pg.Pool.QueryRow(ctx,
		`SELECT count(*) FROM votes WHERE dispute_id = $1`, d.ID).Scan(&ballots))
	s.Zero(ballots)
}

func (s *PostgresStoreSuite) TestUpdatePreservesTallyOwnership() {
	ctx := context.Background()
	d := s.createDispute(dispute.StateCommunityVoting)
	voter := s.seedIdentity(identity.RoleBuyer)

	_, err := s.store.CastVote(ctx, &dispute.Vote{
		DisputeID: d.ID, VoterID: voter, Choice: dispute.VoteAgainst, CastAt: time.Now(),
	})
	s.Require().NoError(err)

	// A state update written from a snapshot that predates the vote must not
	// roll the counter back.
	d.State = dispute.StateRejected
	d.Resolution = "kept the recorded owner"
	now := time.Now()
	d.ClosedAt = &now
	s.Require().NoError(s.store.Update(ctx, d, 2))

	got, err := s.store.Get(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(1, got.Tally.Against)
	s.Equal(dispute.StateRejected, got.State)
}

func (s *PostgresStoreSuite) TestOpenCount() {
	ctx := context.Background()
	s.createDispute(dispute.StateFiled)
	s.createDispute(dispute.StateCommunityVoting)
	s.createDispute(dispute.StateRejected)

	n, err := s.store.OpenCount(ctx, s.parcelID)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *PostgresStoreSuite) TestListVotingClosed() {
	ctx := context.Background()
	d := s.createDispute(dispute.StateCommunityVoting)
	past := time.Now().Add(-time.Hour)
	d.VotingDeadline = &past
	s.Require().NoError(s.store.Update(ctx, d, d.Version))

	open := s.createDispute(dispute.StateCommunityVoting)
	future := time.Now().Add(time.Hour)
	open.VotingDeadline = &future
	s.Require().NoError(s.store.Update(ctx, open, open.Version))

	closed, err := s.store.ListVotingClosed(ctx, time.Now())
	s.Require().NoError(err)
	s.Require().Len(closed, 1)
	s.Equal(d.ID, closed[0].ID)
}
