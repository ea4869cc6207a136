package store

import (
	"context"
	"errors"

	"autolead.app/crm/core/db"
	"autolead.app/crm/internal/model"
	"github.com/jackc/pgx/v5"
)

type sessionStore struct {
	conn db.DBTX
}

func newSessionStore(conn db.DBTX) SessionStore {
	return &sessionStore{conn: conn}
}

func (s *sessionStore) Create(ctx context.Context, session *model.Session) error {
	return s.conn.QueryRow(ctx, `
INSERT INTO sessions (id, user_id, workos_session_id, token_hash, expires_at) VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`, session.ID, session.UserID, session.WorkOSSessionID, session.TokenHash, session.ExpiresAt).
		Scan(&session.CreatedAt)
}

func (s *sessionStore) GetValid(ctx context.Context, id int64) (*model.Session, error) {
	session := &model.Session{}
	err := s.conn.QueryRow(ctx, `
SELECT id, user_id, workos_session_id, created_at, expires_at
FROM sessions WHERE id = $1 AND expires_at > now()`, id).
		Scan(&session.ID, &session.UserID, &session.WorkOSSessionID, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *sessionStore) GetValidByTokenHash(ctx context.Context, hash []byte) (*model.Session, error) {
	session := &model.Session{}
	err := s.conn.QueryRow(ctx, `
SELECT id, user_id, workos_session_id, token_hash, created_at, expires_at
FROM sessions WHERE token_hash = $1 AND expires_at > now()`, hash).
		Scan(&session.ID, &session.UserID, &session.WorkOSSessionID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *sessionStore) Delete(ctx context.Context, id int64) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (s *sessionStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}
