package store

import (
	"context"

	"autolead.app/crm/core/db"
	"autolead.app/crm/internal/model"
)

type roleStore struct {
	conn db.DBTX
}

func newRoleStore(conn db.DBTX) RoleStore {
	return &roleStore{conn: conn}
}

func (s *roleStore) ListByUser(ctx context.Context, userID string) ([]model.RoleAssignment, error) {
	rows, err := s.conn.Query(ctx, `
SELECT user_id, role, created_at FROM user_roles WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RoleAssignment
	for rows.Next() {
		var ra model.RoleAssignment
		var role string
		if err := rows.Scan(&ra.UserID, &role, &ra.CreatedAt); err != nil {
			return nil, err
		}
		ra.Role = model.Role(role)
		result = append(result, ra)
	}
	return result, rows.Err()
}

func (s *roleStore) Insert(ctx context.Context, userID string, role model.Role) error {
	_, err := s.conn.Exec(ctx, `
INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
ON CONFLICT (user_id, role) DO NOTHING`, userID, string(role))
	return err
}

// Delete returns ErrNotFound when the user did not hold the role.
func (s *roleStore) Delete(ctx context.Context, userID string, role model.Role) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *roleStore) DeleteAll(ctx context.Context, userID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	return err
}

func (s *roleStore) CountByOrganization(ctx context.Context, orgID string, role model.Role) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `
SELECT count(*)
FROM user_roles r
JOIN profiles p ON p.id = r.user_id
WHERE COALESCE(p.org_id, p.dealership_id) = $1 AND r.role = $2`, orgID, string(role)).Scan(&n)
	return n, err
}
