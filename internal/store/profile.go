package store

import (
	"context"
	"fmt"

	"autolead.app/crm/core/db"
	"autolead.app/crm/internal/model"
	"github.com/jackc/pgx/v5/pgtype"
)

type profileStore struct {
	conn db.DBTX
}

func newProfileStore(conn db.DBTX) ProfileStore {
	return &profileStore{conn: conn}
}

const getProfileWithRoles = `
SELECT p.id, p.email, p.full_name, p.avatar_url, p.org_id, p.dealership_id, p.role,
       p.is_admin, p.onboarding_completed, p.role_onboarding_completed,
       p.created_at, p.updated_at,
       r.role, r.created_at
FROM profiles p
LEFT JOIN user_roles r ON r.user_id = p.id
WHERE p.id = $1
ORDER BY r.created_at, r.id`

func (s *profileStore) GetWithRoles(ctx context.Context, userID string) (*model.ProfileRecord, error) {
	rows, err := s.conn.Query(ctx, getProfileWithRoles, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rec *model.ProfileRecord
	for rows.Next() {
		var (
			row           model.ProfileRecord
			roleTag       pgtype.Text
			roleCreatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&row.ID, &row.Email, &row.FullName, &row.AvatarURL, &row.OrgID, &row.DealershipID, &row.Role,
			&row.IsAdmin, &row.OnboardingCompleted, &row.RoleOnboardingCompleted,
			&row.CreatedAt, &row.UpdatedAt,
			&roleTag, &roleCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning profile row: %w", err)
		}
		if rec == nil {
			rec = &row
		}
		if roleTag.Valid {
			rec.Roles = append(rec.Roles, model.RoleAssignment{
				UserID:    rec.ID,
				Role:      model.Role(roleTag.String),
				CreatedAt: roleCreatedAt.Time,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *profileStore) Upsert(ctx context.Context, rec *model.ProfileRecord) error {
	row := s.conn.QueryRow(ctx, `
INSERT INTO profiles (id, email, full_name, avatar_url, org_id, role, is_admin)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
    full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), profiles.full_name),
    avatar_url = COALESCE(EXCLUDED.avatar_url, profiles.avatar_url),
    org_id = COALESCE(EXCLUDED.org_id, profiles.org_id),
    role = COALESCE(EXCLUDED.role, profiles.role),
    updated_at = now()
RETURNING created_at, updated_at`,
		rec.ID, rec.Email, rec.FullName, rec.AvatarURL, rec.OrgID, rec.Role, rec.IsAdmin,
	)
	return row.Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (s *profileStore) LinkOrganization(ctx context.Context, userID, orgID string, isAdmin bool, role model.Role) error {
	tag, err := s.conn.Exec(ctx, `
UPDATE profiles
SET org_id = $2, is_admin = $3, role = $4, updated_at = now()
WHERE id = $1`, userID, orgID, isAdmin, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *profileStore) UnlinkOrganization(ctx context.Context, userID string) error {
	_, err := s.conn.Exec(ctx, `
UPDATE profiles
SET org_id = NULL, is_admin = false, role = NULL, updated_at = now()
WHERE id = $1`, userID)
	return err
}

func (s *profileStore) CompleteOnboarding(ctx context.Context, userID, orgID string) error {
	tag, err := s.conn.Exec(ctx, `
UPDATE profiles
SET onboarding_completed = true, org_id = $2, updated_at = now()
WHERE id = $1`, userID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *profileStore) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	tag, err := s.conn.Exec(ctx, `
UPDATE profiles SET is_admin = $2, updated_at = now() WHERE id = $1`, userID, isAdmin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *profileStore) Delete(ctx context.Context, userID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, userID)
	return err
}
