package store

import (
	"context"
	"errors"

	"autolead.app/crm/core/db"
	"autolead.app/crm/internal/model"
	"github.com/jackc/pgx/v5"
)

type dealershipStore struct {
	conn db.DBTX
}

func newDealershipStore(conn db.DBTX) DealershipStore {
	return &dealershipStore{conn: conn}
}

func (s *dealershipStore) GetByID(ctx context.Context, id string) (*model.Dealership, error) {
	d := &model.Dealership{}
	err := s.conn.QueryRow(ctx, `
SELECT id, name, size, created_at, updated_at FROM dealerships WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Size, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *dealershipStore) Create(ctx context.Context, d *model.Dealership) error {
	return s.conn.QueryRow(ctx, `
INSERT INTO dealerships (id, name, size) VALUES ($1, $2, $3)
RETURNING created_at, updated_at`, d.ID, d.Name, d.Size).
		Scan(&d.CreatedAt, &d.UpdatedAt)
}

// Update returns ErrNotFound when no dealership row has the id, which the
// organization resolver treats like a rejected write.
func (s *dealershipStore) Update(ctx context.Context, id string, fields model.OrganizationUpdate) error {
	var size *string
	if fields.Size != "" {
		size = &fields.Size
	}
	tag, err := s.conn.Exec(ctx, `
UPDATE dealerships
SET name = $2, size = COALESCE($3, size), updated_at = now()
WHERE id = $1`, id, fields.Name, size)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *dealershipStore) Delete(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM dealerships WHERE id = $1`, id)
	return err
}
