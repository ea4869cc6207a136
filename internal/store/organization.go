package store

import (
	"context"
	"errors"

	"autolead.app/crm/core/db"
	"autolead.app/crm/internal/model"
	"github.com/jackc/pgx/v5"
)

type organizationStore struct {
	conn db.DBTX
}

func newOrganizationStore(conn db.DBTX) OrganizationStore {
	return &organizationStore{conn: conn}
}

func (s *organizationStore) GetByID(ctx context.Context, id string) (*model.Organization, error) {
	org := &model.Organization{Source: model.OrganizationSourceCurrent}
	err := s.conn.QueryRow(ctx, `
SELECT id, name, plan, size, created_at, updated_at FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.Plan, &org.Size, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return org, nil
}

func (s *organizationStore) Create(ctx context.Context, org *model.Organization) error {
	org.Source = model.OrganizationSourceCurrent
	return s.conn.QueryRow(ctx, `
INSERT INTO organizations (id, name, plan, size) VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at`, org.ID, org.Name, org.Plan, org.Size).
		Scan(&org.CreatedAt, &org.UpdatedAt)
}

// Update returns ErrNotFound when no organization has the id.
func (s *organizationStore) Update(ctx context.Context, id string, fields model.OrganizationUpdate) error {
	var size *string
	if fields.Size != "" {
		size = &fields.Size
	}
	tag, err := s.conn.Exec(ctx, `
UPDATE organizations
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

func (s *organizationStore) Delete(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	return err
}
