package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autolead.app/crm/common/id"
	"autolead.app/crm/common/logger"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/queue"
	"autolead.app/crm/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSignUpRejected     = errors.New("sign up rejected")
	ErrSessionExpired     = errors.New("session expired")
	ErrMissingCredentials = errors.New("email and password are required")
)

// SessionTokenLength is the number of random bytes in a session bearer token.
const SessionTokenLength = 32

// CredentialError carries the credential store's message verbatim so it can be
// shown to the user, while still matching its sentinel with errors.Is.
type CredentialError struct {
	Kind    error
	Message string
}

func (e *CredentialError) Error() string {
	return e.Message
}

func (e *CredentialError) Unwrap() error {
	return e.Kind
}

type AuthService interface {
	SignIn(ctx context.Context, email, password string) (*model.AuthSession, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.AuthSession, error)
	SignOut(ctx context.Context, sessionID int64) error
	// GetSession returns an AuthSession with a nil User when the session is
	// missing or expired. Only store failures are errors.
	GetSession(ctx context.Context, sessionID int64) (*model.AuthSession, error)
	Refresh(ctx context.Context, sessionID int64) (*model.AuthSession, error)
	// ResolveToken maps a bearer token to its session id. Unknown and expired
	// tokens return ErrSessionExpired.
	ResolveToken(ctx context.Context, token string) (int64, error)
	// IssueSession opens a CRM session for an already-authenticated user.
	IssueSession(ctx context.Context, user *model.User, event model.SessionEvent) (*model.AuthSession, error)
}

type authService struct {
	identity     IdentityProvider
	profileStore store.ProfileStore
	sessionStore store.SessionStore
	events       queue.Producer
	sessionTTL   time.Duration
}

func NewAuthService(
	identity IdentityProvider,
	profileStore store.ProfileStore,
	sessionStore store.SessionStore,
	events queue.Producer,
	sessionTTL time.Duration,
) AuthService {
	if events == nil {
		events = queue.NewNoopProducer()
	}
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &authService{
		identity:     identity,
		profileStore: profileStore,
		sessionStore: sessionStore,
		events:       events,
		sessionTTL:   sessionTTL,
	}
}

func (s *authService) SignIn(ctx context.Context, email, password string) (*model.AuthSession, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	ident, err := s.identity.AuthenticateWithPassword(ctx, email, password)
	if err != nil {
		slog.WarnContext(ctx, "password authentication failed", "error", err, "email", logger.MaskEmail(email))
		return nil, &CredentialError{Kind: ErrInvalidCredentials, Message: err.Error()}
	}

	if err := s.upsertProfile(ctx, &ident.User); err != nil {
		return nil, err
	}

	return s.openSession(ctx, &ident.User, ident.WorkOSSessionID, model.SessionEventSignedIn)
}

func (s *authService) SignUp(ctx context.Context, email, password, fullName string) (*model.AuthSession, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.identity.CreateUser(ctx, email, password, fullName)
	if err != nil {
		slog.WarnContext(ctx, "sign up rejected", "error", err, "email", logger.MaskEmail(email))
		return nil, &CredentialError{Kind: ErrSignUpRejected, Message: err.Error()}
	}
	if user.FullName == "" || user.FullName == user.Email {
		if name := strings.TrimSpace(fullName); name != "" {
			user.FullName = name
		}
	}

	if err := s.upsertProfile(ctx, user); err != nil {
		s.deleteIdentity(ctx, user.ID)
		return nil, err
	}

	authSession, err := s.openSession(ctx, user, nil, model.SessionEventSignedUp)
	if err != nil {
		s.deleteIdentity(ctx, user.ID)
		if delErr := s.profileStore.Delete(ctx, user.ID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
			slog.ErrorContext(ctx, "failed to remove profile after sign up failure", "error", delErr, "user_id", user.ID)
		}
		return nil, err
	}
	return authSession, nil
}

func (s *authService) SignOut(ctx context.Context, sessionID int64) error {
	sess, err := s.sessionStore.GetValid(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("getting session: %w", err)
	}

	if err := s.sessionStore.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	var userID string
	if sess != nil {
		userID = sess.UserID
		if sess.WorkOSSessionID != nil && *sess.WorkOSSessionID != "" {
			if err := s.identity.RevokeSession(ctx, *sess.WorkOSSessionID); err != nil {
				slog.WarnContext(ctx, "failed to revoke workos session", "error", err, "session_id", sessionID)
			}
		}
	}

	s.publish(ctx, sessionID, userID, model.SessionEventSignedOut)
	return nil
}

func (s *authService) GetSession(ctx context.Context, sessionID int64) (*model.AuthSession, error) {
	sess, err := s.sessionStore.GetValid(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &model.AuthSession{}, nil
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	user, err := s.userFor(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	return &model.AuthSession{User: user, Session: sess}, nil
}

func (s *authService) Refresh(ctx context.Context, sessionID int64) (*model.AuthSession, error) {
	authSession, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if authSession.User == nil {
		return nil, ErrSessionExpired
	}
	s.publish(ctx, sessionID, authSession.User.ID, model.SessionEventTokenRefreshed)
	return authSession, nil
}

func (s *authService) ResolveToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrSessionExpired
	}
	sess, err := s.sessionStore.GetValidByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrSessionExpired
		}
		return 0, fmt.Errorf("resolving session token: %w", err)
	}
	return sess.ID, nil
}

// HashSessionToken is the form a bearer token is stored and looked up in.
func HashSessionToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func (s *authService) IssueSession(ctx context.Context, user *model.User, event model.SessionEvent) (*model.AuthSession, error) {
	return s.openSession(ctx, user, nil, event)
}

func (s *authService) openSession(ctx context.Context, user *model.User, workosSessionID *string, event model.SessionEvent) (*model.AuthSession, error) {
	token, err := generateSecureToken(SessionTokenLength)
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}

	session := &model.Session{
		ID:              id.New(),
		UserID:          user.ID,
		WorkOSSessionID: workosSessionID,
		Token:           token,
		TokenHash:       HashSessionToken(token),
		ExpiresAt:       time.Now().Add(s.sessionTTL),
	}

	if err := s.sessionStore.Create(ctx, session); err != nil {
		slog.ErrorContext(ctx, "failed to create session",
			"error", err,
			"user_id", user.ID,
		)
		return nil, fmt.Errorf("creating session: %w", err)
	}

	slog.InfoContext(ctx, "user authenticated",
		"user_id", user.ID,
		"email", logger.MaskEmail(user.Email),
		"session_id", session.ID,
		"event", event,
	)

	s.publish(ctx, session.ID, user.ID, event)

	return &model.AuthSession{User: user, Session: session}, nil
}

func (s *authService) upsertProfile(ctx context.Context, user *model.User) error {
	rec := &model.ProfileRecord{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
	}
	if err := s.profileStore.Upsert(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "failed to upsert profile", "error", err, "user_id", user.ID)
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

func (s *authService) userFor(ctx context.Context, userID string) (*model.User, error) {
	rec, err := s.profileStore.GetWithRoles(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &model.User{ID: userID}, nil
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &model.User{
		ID:        rec.ID,
		Email:     rec.Email,
		FullName:  rec.FullName,
		AvatarURL: rec.AvatarURL,
	}, nil
}

func (s *authService) deleteIdentity(ctx context.Context, userID string) {
	if err := s.identity.DeleteUser(ctx, userID); err != nil {
		slog.ErrorContext(ctx, "failed to delete workos user during compensation", "error", err, "user_id", userID)
	}
}

func (s *authService) publish(ctx context.Context, sessionID int64, userID string, event model.SessionEvent) {
	msg := queue.EventMessage{
		SessionID: sessionID,
		UserID:    userID,
		Event:     event,
	}
	if traceID := logger.TraceID(ctx); traceID != "" {
		msg.TraceID = &traceID
	}
	if err := s.events.Publish(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to publish session event", "error", err, "event", event, "session_id", sessionID)
	}
}
