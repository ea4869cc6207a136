package model

import "time"

type Session struct {
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	WorkOSSessionID *string   `json:"workos_session_id,omitempty"`
	// Token is the bearer value handed to the client. It is only set when the
	// session is issued; the table keeps its SHA-256 in TokenHash.
	Token     string `json:"-"`
	TokenHash []byte `json:"-"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionEvent names a session-change notification from the backing store.
type SessionEvent string

const (
	SessionEventInitial        SessionEvent = "initial_session"
	SessionEventSignedIn       SessionEvent = "signed_in"
	SessionEventSignedUp       SessionEvent = "signed_up"
	SessionEventSignedOut      SessionEvent = "signed_out"
	SessionEventTokenRefreshed SessionEvent = "token_refreshed"
	SessionEventUserUpdated    SessionEvent = "user_updated"
)

// Resolves reports whether the event requires re-reading profile and organization.
func (e SessionEvent) Resolves() bool {
	switch e {
	case SessionEventSignedIn, SessionEventTokenRefreshed, SessionEventUserUpdated,
		SessionEventInitial, SessionEventSignedUp:
		return true
	}
	return false
}

func (e SessionEvent) IsValid() bool {
	return e.Resolves() || e == SessionEventSignedOut
}

// AuthSession pairs a session with its user. A nil User means no one is signed in.
type AuthSession struct {
	User    *User    `json:"user,omitempty"`
	Session *Session `json:"session,omitempty"`
}
