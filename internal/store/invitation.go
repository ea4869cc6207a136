package store

import (
	"context"
	"errors"

	"autolead.app/crm/core/db"
	"autolead.app/crm/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type invitationStore struct {
	conn db.DBTX
}

func newInvitationStore(conn db.DBTX) InvitationStore {
	return &invitationStore{conn: conn}
}

const invitationColumns = `id, organization_id, email, role, department, token, used, invited_by, created_at, expires_at`

func (s *invitationStore) Create(ctx context.Context, inv *model.Invitation) error {
	row := s.conn.QueryRow(ctx, `
INSERT INTO invitations (id, organization_id, email, role, department, token, invited_by, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+invitationColumns,
		inv.ID, inv.OrganizationID, inv.Email, string(inv.Role), inv.Department, inv.Token, inv.InvitedBy,
		pgtype.Timestamptz{Time: inv.ExpiresAt, Valid: true},
	)
	created, err := scanInvitation(row)
	if err != nil {
		return err
	}
	*inv = *created
	return nil
}

func (s *invitationStore) GetByID(ctx context.Context, id int64) (*model.Invitation, error) {
	return notFound(scanInvitation(s.conn.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)))
}

func (s *invitationStore) GetByToken(ctx context.Context, token string) (*model.Invitation, error) {
	return notFound(scanInvitation(s.conn.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token)))
}

func (s *invitationStore) GetPendingByEmail(ctx context.Context, orgID, email string) (*model.Invitation, error) {
	return notFound(scanInvitation(s.conn.QueryRow(ctx, `
SELECT `+invitationColumns+` FROM invitations
WHERE organization_id = $1 AND lower(email) = lower($2) AND used = false AND expires_at > now()
ORDER BY created_at DESC
LIMIT 1`, orgID, email)))
}

func (s *invitationStore) MarkUsed(ctx context.Context, id int64) error {
	tag, err := s.conn.Exec(ctx, `UPDATE invitations SET used = true WHERE id = $1 AND used = false`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *invitationStore) DeleteUnused(ctx context.Context, id int64, orgID string) error {
	tag, err := s.conn.Exec(ctx,
		`DELETE FROM invitations WHERE id = $1 AND organization_id = $2 AND used = false`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *invitationStore) ListByOrganization(ctx context.Context, orgID string, limit, offset int32) ([]model.Invitation, error) {
	rows, err := s.conn.Query(ctx, `
SELECT `+invitationColumns+` FROM invitations
WHERE organization_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	return result, rows.Err()
}

func scanInvitation(row pgx.Row) (*model.Invitation, error) {
	var (
		inv       model.Invitation
		role      string
		createdAt pgtype.Timestamptz
		expiresAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &role, &inv.Department, &inv.Token,
		&inv.Used, &inv.InvitedBy, &createdAt, &expiresAt,
	); err != nil {
		return nil, err
	}
	inv.Role = model.Role(role)
	inv.CreatedAt = createdAt.Time
	inv.ExpiresAt = expiresAt.Time
	return &inv, nil
}

func notFound[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}
