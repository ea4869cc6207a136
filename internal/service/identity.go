package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/workos/workos-go/v6/pkg/usermanagement"

	"autolead.app/crm/core/config"
	"autolead.app/crm/internal/model"
)

// Identity is the result of a successful credential check.
type Identity struct {
	User            model.User
	WorkOSSessionID *string
}

// IdentityProvider is the credential store. The WorkOS implementation is the
// only production one; tests substitute a mock.
type IdentityProvider interface {
	AuthenticateWithPassword(ctx context.Context, email, password string) (*Identity, error)
	CreateUser(ctx context.Context, email, password, fullName string) (*model.User, error)
	DeleteUser(ctx context.Context, userID string) error
	RevokeSession(ctx context.Context, workosSessionID string) error
	SendPasswordReset(ctx context.Context, email string) error
}

type workosProvider struct {
	clientID string
}

func NewWorkOSProvider(cfg config.WorkOSConfig) IdentityProvider {
	usermanagement.SetAPIKey(cfg.APIKey)
	return &workosProvider{clientID: cfg.ClientID}
}

func (p *workosProvider) AuthenticateWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	resp, err := usermanagement.AuthenticateWithPassword(ctx, usermanagement.AuthenticateWithPasswordOpts{
		ClientID: p.clientID,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	ident := &Identity{User: toModelUser(resp.User)}
	if sid := sessionIDFromAccessToken(resp.AccessToken); sid != "" {
		ident.WorkOSSessionID = &sid
	}
	return ident, nil
}

func (p *workosProvider) CreateUser(ctx context.Context, email, password, fullName string) (*model.User, error) {
	first, last := splitName(fullName)
	u, err := usermanagement.CreateUser(ctx, usermanagement.CreateUserOpts{
		Email:     email,
		Password:  password,
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		return nil, err
	}
	user := toModelUser(u)
	return &user, nil
}

func (p *workosProvider) DeleteUser(ctx context.Context, userID string) error {
	return usermanagement.DeleteUser(ctx, usermanagement.DeleteUserOpts{User: userID})
}

func (p *workosProvider) RevokeSession(ctx context.Context, workosSessionID string) error {
	return usermanagement.RevokeSession(ctx, usermanagement.RevokeSessionOpts{SessionID: workosSessionID})
}

func (p *workosProvider) SendPasswordReset(ctx context.Context, email string) error {
	if _, err := usermanagement.CreatePasswordReset(ctx, usermanagement.CreatePasswordResetOpts{Email: email}); err != nil {
		return fmt.Errorf("creating password reset: %w", err)
	}
	return nil
}

// sessionIDFromAccessToken reads the sid claim. The token came straight from
// WorkOS over TLS, so the signature is not verified here.
func sessionIDFromAccessToken(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	sid, _ := claims["sid"].(string)
	return sid
}

func toModelUser(u usermanagement.User) model.User {
	user := model.User{
		ID:       u.ID,
		Email:    u.Email,
		FullName: buildUserName(u),
	}
	if u.ProfilePictureURL != "" {
		pic := u.ProfilePictureURL
		user.AvatarURL = &pic
	}
	return user
}

func buildUserName(user usermanagement.User) string {
	if user.FirstName != "" && user.LastName != "" {
		return user.FirstName + " " + user.LastName
	}
	if user.FirstName != "" {
		return user.FirstName
	}
	if user.LastName != "" {
		return user.LastName
	}
	return user.Email
}

func splitName(fullName string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(fullName), " ")
	return first, strings.TrimSpace(last)
}
