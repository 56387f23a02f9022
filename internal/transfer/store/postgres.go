package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"landledger/internal/transfer"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// PostgresStore persists transfers in Postgres. The transfers_active_per_parcel
// partial unique index makes concurrent initiations on one parcel resolve to
// exactly one winner.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const transferColumns = `id, parcel_id, seller_id, buyer_id, amount, escrow_held, state,
	initiated_at, completed_at, escrow_deadline, version, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t *transfer.Transfer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transfers (id, parcel_id, seller_id, buyer_id, amount, escrow_held, state, initiated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.ParcelID, t.SellerID, t.BuyerID, t.Amount, t.EscrowHeld, t.State,
		t.InitiatedAt, requestcontext.Now(ctx))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("transfer: create: %w", err)
	}
	t.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, transferID id.TransferID) (*transfer.Transfer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, transferID)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("transfer: get: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Update(ctx context.Context, t *transfer.Transfer, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transfers
		SET escrow_held = $2, state = $3, completed_at = $4, escrow_deadline = $5,
		    version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $7
	`, t.ID, t.EscrowHeld, t.State, t.CompletedAt, t.EscrowDeadline,
		requestcontext.Now(ctx), expectedVersion)
	if err != nil {
		return fmt.Errorf("transfer: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, t.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	t.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter transfer.Filter) ([]*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE 1=1`
	args := []any{}
	if filter.ParcelID != "" {
		args = append(args, filter.ParcelID)
		query += fmt.Sprintf(" AND parcel_id = $%d", len(args))
	}
	if filter.Party != "" {
		args = append(args, filter.Party)
		query += fmt.Sprintf(" AND (seller_id = $%d OR buyer_id = $%d)", len(args), len(args))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	query += " ORDER BY initiated_at DESC"

	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListEscrowExpired(ctx context.Context, now time.Time) ([]*transfer.Transfer, error) {
	return s.query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE state = 'escrowed' AND escrow_deadline < $1
		ORDER BY initiated_at
	`, now)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*transfer.Transfer, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transfer: query: %w", err)
	}
	defer rows.Close()

	out := make([]*transfer.Transfer, 0, 16)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("transfer: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: iterate: %w", err)
	}
	return out, nil
}

func scanTransfer(row pgx.Row) (*transfer.Transfer, error) {
	var t transfer.Transfer
	err := row.Scan(
		&t.ID, &t.ParcelID, &t.SellerID, &t.BuyerID, &t.Amount, &t.EscrowHeld,
		&t.State, &t.InitiatedAt, &t.CompletedAt, &t.EscrowDeadline,
		&t.Version, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
