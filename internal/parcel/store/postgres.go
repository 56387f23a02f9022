package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"landledger/internal/parcel"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/sentinel"
	"landledger/pkg/requestcontext"
)

// PostgresStore persists parcels in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const parcelColumns = `id, title, owner_id, area_sq_m, declared_value, status, documents,
	registered_at, version, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *parcel.Parcel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parcels (id, title, owner_id, area_sq_m, declared_value, status, documents, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Title, p.OwnerID, p.AreaSqM, p.DeclaredValue, p.Status, p.Documents,
		p.RegisteredAt, requestcontext.Now(ctx))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("parcel: create: %w", err)
	}
	p.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, parcelID id.ParcelID) (*parcel.Parcel, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+parcelColumns+` FROM parcels WHERE id = $1`, parcelID)
	p, err := scanParcel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("parcel: get: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *parcel.Parcel, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE parcels
		SET title = $2, owner_id = $3, status = $4, documents = $5,
		    version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $7
	`, p.ID, p.Title, p.OwnerID, p.Status, p.Documents, requestcontext.Now(ctx), expectedVersion)
	if err != nil {
		return fmt.Errorf("parcel: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, p.ID); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	p.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter parcel.Filter) ([]*parcel.Parcel, error) {
	query := `SELECT ` + parcelColumns + ` FROM parcels WHERE 1=1`
	args := []any{}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY registered_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("parcel: list: %w", err)
	}
	defer rows.Close()

	out := make([]*parcel.Parcel, 0, 16)
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, fmt.Errorf("parcel: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("parcel: iterate: %w", err)
	}
	return out, nil
}

func scanParcel(row pgx.Row) (*parcel.Parcel, error) {
	var p parcel.Parcel
	err := row.Scan(
		&p.ID, &p.Title, &p.OwnerID, &p.AreaSqM, &p.DeclaredValue, &p.Status,
		&p.Documents, &p.RegisteredAt, &p.Version, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
