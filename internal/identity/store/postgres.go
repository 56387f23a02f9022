package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"landledger/internal/identity"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// PostgresStore persists identities in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const identityColumns = `id, name, role, verification, score, total_transactions,
	successful_transactions, disputes_won, disputes_lost, community_votes,
	version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, ident *identity.Identity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (id, name, role, verification, score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, ident.ID, ident.Name, ident.Role, ident.Verification, ident.Reputation.Score, requestcontext.Now(ctx))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("identity: create: %w", err)
	}
	ident.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, identityID id.IdentityID) (*identity.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, identityID)
	ident, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("identity: get: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) Update(ctx context.Context, ident *identity.Identity, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities
		SET name = $2, role = $3, verification = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $6
	`, ident.ID, ident.Name, ident.Role, ident.Verification, requestcontext.Now(ctx), expectedVersion)
	if err != nil {
		return fmt.Errorf("identity: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, ident.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	ident.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) AdjustReputation(ctx context.Context, identityID id.IdentityID, delta identity.Delta) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities
		SET score = LEAST(100, GREATEST(0, score + $2)),
		    total_transactions = total_transactions + $3,
		    successful_transactions = successful_transactions + $4,
		    disputes_won = disputes_won + $5,
		    disputes_lost = disputes_lost + $6,
		    community_votes = community_votes + $7,
		    version = version + 1,
		    updated_at = $8
		WHERE id = $1
	`, identityID, delta.Score, delta.TotalTransactions, delta.SuccessfulTransactions,
		delta.DisputesWon, delta.DisputesLost, delta.CommunityVotes, requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("identity: adjust reputation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*identity.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("identity: list: %w", err)
	}
	defer rows.Close()

	out := make([]*identity.Identity, 0, 16)
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("identity: scan: %w", err)
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: iterate: %w", err)
	}
	return out, nil
}

func scanIdentity(row pgx.Row) (*identity.Identity, error) {
	var ident identity.Identity
	err := row.Scan(
		&ident.ID, &ident.Name, &ident.Role, &ident.Verification,
		&ident.Reputation.Score, &ident.Reputation.TotalTransactions,
		&ident.Reputation.SuccessfulTransactions, &ident.Reputation.DisputesWon,
		&ident.Reputation.DisputesLost, &ident.Reputation.CommunityVotes,
		&ident.Version, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ident, nil
}
