package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"landledger/internal/dispute"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// PostgresStore persists disputes and votes in Postgres. The votes table's
// (dispute_id, voter_id) primary key is the duplicate-vote guard; tally
// counters live on the dispute row and are incremented in the same
// transaction as the vote insert.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const disputeColumns = `id, parcel_id, plaintiff_id, defendant_id, reason, evidence, state,
	filed_at, arbitrator_id, voting_deadline, votes_support, votes_against, votes_abstain,
	resolution, closed_at, version, updated_at`

func (s *PostgresStore) Create(ctx context.Context, d *dispute.Dispute) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO disputes (id, parcel_id, plaintiff_id, defendant_id, reason, evidence, state, filed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.ParcelID, d.PlaintiffID, d.DefendantID, d.Reason, evidenceOrEmpty(d.Evidence),
		d.State, d.FiledAt, requestcontext.Now(ctx))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("dispute: create: %w", err)
	}
	d.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, disputeID id.DisputeID) (*dispute.Dispute, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, disputeID)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) Update(ctx context.Context, d *dispute.Dispute, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disputes
		SET evidence = $2, state = $3, arbitrator_id = $4, voting_deadline = $5,
		    resolution = $6, closed_at = $7, version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $9
	`, d.ID, evidenceOrEmpty(d.Evidence), d.State, nullableID(d.ArbitratorID),
		d.VotingDeadline, nullableString(d.Resolution), d.ClosedAt,
		requestcontext.Now(ctx), expectedVersion)
	if err != nil {
		return fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, d.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	d.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter dispute.Filter) ([]*dispute.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE 1=1`
	args := []any{}
	if filter.ParcelID != "" {
		args = append(args, filter.ParcelID)
		query += fmt.Sprintf(" AND parcel_id = $%d", len(args))
	}
	if filter.Party != "" {
		args = append(args, filter.Party)
		query += fmt.Sprintf(" AND (plaintiff_id = $%d OR defendant_id = $%d)", len(args), len(args))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	query += " ORDER BY filed_at DESC"

	return s.query(ctx, query, args...)
}

func (s *PostgresStore) CastVote(ctx context.Context, v *dispute.Vote) (*dispute.Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: cast vote: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO votes (dispute_id, voter_id, choice, cast_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dispute_id, voter_id) DO NOTHING
	`, v.DisputeID, v.VoterID, v.Choice, v.CastAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("dispute: cast vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, sentinel.ErrDuplicate
	}

	column := "votes_abstain"
	switch v.Choice {
	case dispute.VoteSupport:
		column = "votes_support"
	case dispute.VoteAgainst:
		column = "votes_against"
	}
	// The state predicate makes the tally update the commit gate: a close
	// that lands between the caller's state check and this statement zeroes
	// the row count, and the rollback discards the ballot with it.
	row := tx.QueryRow(ctx, `
		UPDATE disputes
		SET `+column+` = `+column+` + 1, updated_at = $2
		WHERE id = $1 AND state = 'community_voting'
		RETURNING `+disputeColumns+`
	`, v.DisputeID, requestcontext.Now(ctx))
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The vote insert's foreign key already proved the dispute
			// exists; zero rows means voting is no longer open.
			return nil, sentinel.ErrInvalidState
		}
		return nil, fmt.Errorf("dispute: tally: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: cast vote: commit: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) OpenCount(ctx context.Context, parcelID id.ParcelID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM disputes
		WHERE parcel_id = $1 AND state IN ('filed', 'under_review', 'community_voting')
	`, parcelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dispute: open count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListVotingClosed(ctx context.Context, now time.Time) ([]*dispute.Dispute, error) {
	return s.query(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE state = 'community_voting' AND voting_deadline < $1
		ORDER BY filed_at
	`, now)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*dispute.Dispute, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: query: %w", err)
	}
	defer rows.Close()

	out := make([]*dispute.Dispute, 0, 16)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (*dispute.Dispute, error) {
	var (
		d          dispute.Dispute
		arbitrator *string
		resolution *string
	)
	err := row.Scan(
		&d.ID, &d.ParcelID, &d.PlaintiffID, &d.DefendantID, &d.Reason, &d.Evidence,
		&d.State, &d.FiledAt, &arbitrator, &d.VotingDeadline,
		&d.Tally.Support, &d.Tally.Against, &d.Tally.Abstain,
		&resolution, &d.ClosedAt, &d.Version, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if arbitrator != nil {
		d.ArbitratorID = id.IdentityID(*arbitrator)
	}
	if resolution != nil {
		d.Resolution = *resolution
	}
	return &d, nil
}

func evidenceOrEmpty(evidence []string) []string {
	if evidence == nil {
		return []string{}
	}
	return evidence
}

func nullableID(v id.IdentityID) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
