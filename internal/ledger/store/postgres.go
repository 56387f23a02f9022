package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"landledger/internal/ledger"
)

// PostgresStore appends entries to the ledger_events table; BIGSERIAL
// provides the global sequence.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, entry *ledger.Entry) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ledger_events (occurred_at, entity_type, entity_id, prior_state, new_state, actor_id, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, entry.OccurredAt, entry.EntityType, entry.EntityID, entry.PriorState,
		entry.NewState, entry.ActorID, entry.Snapshot).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSince(ctx context.Context, after int64, limit int) ([]ledger.Entry, error) {
	query := `
		SELECT seq, occurred_at, entity_type, entity_id, prior_state, new_state, actor_id, snapshot
		FROM ledger_events
		WHERE seq > $1
		ORDER BY seq
	`
	args := []any{after}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list since: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Entry, 0, 64)
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.Seq, &e.OccurredAt, &e.EntityType, &e.EntityID,
			&e.PriorState, &e.NewState, &e.ActorID, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate: %w", err)
	}
	return out, nil
}
