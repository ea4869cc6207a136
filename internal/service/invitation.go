package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"autolead.app/crm/common/id"
	"autolead.app/crm/common/logger"
	"autolead.app/crm/core/config"
	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/store"
)

const (
	InviteTokenLength  = 32
	InviteExpiryDays   = 7
	provisionPassBytes = 24
)

var (
	ErrInviteNotFound      = errors.New("invitation not found")
	ErrInviteExpired       = errors.New("invitation has expired")
	ErrInviteAlreadyUsed   = errors.New("invitation has already been used")
	ErrInvitePendingExists = errors.New("a pending invitation already exists for this email")
	ErrInviteDelivery      = errors.New("invitation could not be delivered")
	ErrInvalidEmail        = errors.New("a valid email is required")
	ErrInvalidRole         = errors.New("role is not assignable by invitation")
	ErrNotAdmin            = errors.New("only an organization admin can do this")
	ErrNoOrganization      = errors.New("caller has no organization")
	ErrTransferToSelf      = errors.New("cannot transfer admin to yourself")
	ErrTransferTarget      = errors.New("transfer target is not a member of this organization")
	ErrAdminCount          = errors.New("organization must have exactly one admin")
)

// demotedRole is given to a former admin who holds no other role.
const demotedRole = model.RoleSalesManager

type InvitationService interface {
	InviteUser(ctx context.Context, inviter *model.Profile, email string, role model.Role, department *string) (*model.Invitation, error)
	ValidateInvite(ctx context.Context, token string) (*model.Invitation, error)
	AcceptInvite(ctx context.Context, token, password, fullName string) (*model.AuthSession, *model.Invitation, error)
	TransferAdmin(ctx context.Context, caller *model.Profile, newAdminUserID string) error
	Revoke(ctx context.Context, caller *model.Profile, id int64) error
	List(ctx context.Context, caller *model.Profile, limit, offset int32) ([]model.Invitation, error)
}

type invitationService struct {
	invStore store.InvitationStore
	orgs     OrganizationService
	txRunner TxRunner
	fn       functions.Client
	identity IdentityProvider
	auth     AuthService
	cfg      config.InviteConfig
	now      func() time.Time
}

func NewInvitationService(
	invStore store.InvitationStore,
	orgs OrganizationService,
	txRunner TxRunner,
	fn functions.Client,
	identity IdentityProvider,
	auth AuthService,
	cfg config.InviteConfig,
) InvitationService {
	if cfg.Expiry <= 0 {
		cfg.Expiry = InviteExpiryDays * 24 * time.Hour
	}
	return &invitationService{
		invStore: invStore,
		orgs:     orgs,
		txRunner: txRunner,
		fn:       fn,
		identity: identity,
		auth:     auth,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *invitationService) InviteUser(ctx context.Context, inviter *model.Profile, email string, role model.Role, department *string) (*model.Invitation, error) {
	orgID, err := requireAdmin(inviter)
	if err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if !role.IsKnown() || role == model.RoleAdmin {
		return nil, ErrInvalidRole
	}

	existing, err := s.invStore.GetPendingByEmail(ctx, orgID, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking pending invitations: %w", err)
	}
	if existing != nil && existing.IsConsumable(s.now()) {
		return nil, ErrInvitePendingExists
	}

	token, err := generateSecureToken(InviteTokenLength)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	invitedBy := inviter.ID
	inv := &model.Invitation{
		ID:             id.New(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		Department:     department,
		Token:          token,
		InvitedBy:      &invitedBy,
		ExpiresAt:      s.now().Add(s.cfg.Expiry),
	}

	if err := s.invStore.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("creating invitation: %w", err)
	}

	var orgName string
	if org, err := s.orgs.FetchOrganization(ctx, orgID); err == nil {
		orgName = org.Name
	} else {
		slog.WarnContext(ctx, "organization name unavailable for invitation email", "error", err)
	}

	sendErr := s.fn.SendInvitation(ctx, functions.SendInvitationRequest{
		Email:      email,
		Role:       string(role),
		Department: department,
		Token:      token,
		OrgID:      orgID,
		OrgName:    orgName,
	})
	if sendErr == nil {
		slog.InfoContext(ctx, "invitation created",
			"invitation_id", inv.ID,
			"email", logger.MaskEmail(email),
			"role", role,
			"expires_at", inv.ExpiresAt,
		)
		return inv, nil
	}

	if errors.Is(sendErr, functions.ErrUnreachable) && s.cfg.DirectFallback {
		slog.WarnContext(ctx, "send-invitation unreachable, provisioning invitee directly",
			"error", sendErr,
			"invitation_id", inv.ID,
		)
		if err := s.provisionInvitee(ctx, inv); err != nil {
			return nil, err
		}
		return inv, nil
	}

	s.discardInvitation(ctx, inv)
	return nil, fmt.Errorf("%w: %w", ErrInviteDelivery, sendErr)
}

// provisionInvitee creates the account the invitee would have created, then
// sends a password reset so they can claim it. Every step is undone on failure.
func (s *invitationService) provisionInvitee(ctx context.Context, inv *model.Invitation) error {
	sg := newSaga("invite_provision")
	sg.onFailure("invitation", func(ctx context.Context) error {
		return s.invStore.DeleteUnused(ctx, inv.ID, inv.OrganizationID)
	})

	password, err := generateSecureToken(provisionPassBytes)
	if err != nil {
		return sg.abort(ctx, fmt.Errorf("%w: generating password: %w", ErrInviteDelivery, err))
	}

	user, err := s.identity.CreateUser(ctx, inv.Email, password, "")
	if err != nil {
		return sg.abort(ctx, fmt.Errorf("%w: creating user: %w", ErrInviteDelivery, err))
	}
	sg.onFailure("workos_user", func(ctx context.Context) error {
		return s.identity.DeleteUser(ctx, user.ID)
	})

	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return bindMember(ctx, stores, user, inv)
	}); err != nil {
		return sg.abort(ctx, fmt.Errorf("%w: linking profile: %w", ErrInviteDelivery, err))
	}
	sg.onFailure("profile", func(ctx context.Context) error {
		return s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
			if err := stores.Roles().DeleteAll(ctx, user.ID); err != nil {
				return err
			}
			return stores.Profiles().Delete(ctx, user.ID)
		})
	})

	if err := s.identity.SendPasswordReset(ctx, inv.Email); err != nil {
		return sg.abort(ctx, fmt.Errorf("%w: %w", ErrInviteDelivery, err))
	}

	if err := s.invStore.MarkUsed(ctx, inv.ID); err != nil {
		return sg.abort(ctx, fmt.Errorf("%w: marking invitation used: %w", ErrInviteDelivery, err))
	}
	inv.Used = true

	slog.InfoContext(ctx, "invitee provisioned with password reset",
		"invitation_id", inv.ID,
		"user_id", user.ID,
	)
	return nil
}

func (s *invitationService) discardInvitation(ctx context.Context, inv *model.Invitation) {
	if err := s.invStore.DeleteUnused(context.WithoutCancel(ctx), inv.ID, inv.OrganizationID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(ctx, "failed to discard undelivered invitation", "error", err, "invitation_id", inv.ID)
	}
}

func (s *invitationService) ValidateInvite(ctx context.Context, token string) (*model.Invitation, error) {
	if token == "" {
		return nil, ErrInviteNotFound
	}

	resp, err := s.fn.ValidateInvite(ctx, token)
	if err == nil {
		return s.fromValidation(resp, token), nil
	}

	var fnErr *functions.FunctionError
	if errors.As(err, &fnErr) && fnErr.Status < http.StatusInternalServerError {
		return nil, classifyValidation(fnErr)
	}

	slog.WarnContext(ctx, "validate-invite unavailable, reading invitation row", "error", err)
	return s.validateFromStore(ctx, s.invStore, token)
}

func (s *invitationService) fromValidation(resp *functions.ValidateInviteResponse, token string) *model.Invitation {
	inv := &model.Invitation{
		OrganizationID: resp.OrgID,
		Email:          strings.ToLower(resp.Email),
		Role:           model.Role(resp.Role),
		Department:     resp.Department,
		Token:          token,
	}
	if n, err := resp.InviteID.Int64(); err == nil {
		inv.ID = n
	}
	return inv
}

func classifyValidation(fnErr *functions.FunctionError) error {
	msg := strings.ToLower(fnErr.Message)
	switch {
	case strings.Contains(msg, "expired"):
		return ErrInviteExpired
	case strings.Contains(msg, "used"):
		return ErrInviteAlreadyUsed
	default:
		return ErrInviteNotFound
	}
}

func (s *invitationService) validateFromStore(ctx context.Context, invStore store.InvitationStore, token string) (*model.Invitation, error) {
	inv, err := invStore.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("getting invitation: %w", err)
	}
	// Expiry wins over used.
	if inv.IsExpired(s.now()) {
		return nil, ErrInviteExpired
	}
	if inv.Used {
		return nil, ErrInviteAlreadyUsed
	}
	return inv, nil
}

func (s *invitationService) AcceptInvite(ctx context.Context, token, password, fullName string) (*model.AuthSession, *model.Invitation, error) {
	if password == "" {
		return nil, nil, ErrMissingCredentials
	}

	inv, err := s.ValidateInvite(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.identity.CreateUser(ctx, inv.Email, password, fullName)
	if err != nil {
		slog.WarnContext(ctx, "invitee account rejected", "error", err, "email", logger.MaskEmail(inv.Email))
		return nil, nil, &CredentialError{Kind: ErrSignUpRejected, Message: err.Error()}
	}
	if name := strings.TrimSpace(fullName); name != "" {
		user.FullName = name
	}

	err = s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		row, err := s.validateFromStore(ctx, stores.Invitations(), token)
		if err != nil {
			return err
		}
		if err := bindMember(ctx, stores, user, row); err != nil {
			return err
		}
		if err := stores.Invitations().MarkUsed(ctx, row.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInviteAlreadyUsed
			}
			return fmt.Errorf("marking invitation used: %w", err)
		}
		inv = row
		return nil
	})
	if err != nil {
		if delErr := s.identity.DeleteUser(context.WithoutCancel(ctx), user.ID); delErr != nil {
			slog.ErrorContext(ctx, "failed to delete workos user after accept rollback", "error", delErr, "user_id", user.ID)
			err = errors.Join(err, fmt.Errorf("compensating workos user: %w", delErr))
		}
		return nil, nil, err
	}
	inv.Used = true

	slog.InfoContext(ctx, "invitation accepted",
		"invitation_id", inv.ID,
		"user_id", user.ID,
		"organization_id", inv.OrganizationID,
	)

	authSession, err := s.auth.IssueSession(ctx, user, model.SessionEventSignedIn)
	if err != nil {
		return nil, inv, err
	}
	return authSession, inv, nil
}

// bindMember writes the invitee's profile and role row. The legacy role column
// is kept in step for readers that have not moved to user_roles.
func bindMember(ctx context.Context, stores StoreProvider, user *model.User, inv *model.Invitation) error {
	orgID := inv.OrganizationID
	role := string(inv.Role)
	rec := &model.ProfileRecord{
		ID:        user.ID,
		Email:     inv.Email,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
		OrgID:     &orgID,
		Role:      &role,
	}
	if err := stores.Profiles().Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	if err := stores.Roles().Insert(ctx, user.ID, inv.Role); err != nil {
		return fmt.Errorf("inserting role: %w", err)
	}
	return nil
}

func (s *invitationService) TransferAdmin(ctx context.Context, caller *model.Profile, newAdminUserID string) error {
	orgID, err := requireAdmin(caller)
	if err != nil {
		return err
	}
	if newAdminUserID == "" || newAdminUserID == caller.ID {
		return ErrTransferToSelf
	}

	err = s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		rec, err := stores.Profiles().GetWithRoles(ctx, newAdminUserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTransferTarget
			}
			return fmt.Errorf("loading target profile: %w", err)
		}
		target := NormalizeProfile(rec)
		if !target.HasOrganization() || *target.OrganizationID != orgID {
			return ErrTransferTarget
		}

		if err := stores.Profiles().SetAdmin(ctx, target.ID, true); err != nil {
			return fmt.Errorf("promoting target: %w", err)
		}
		if err := stores.Roles().Insert(ctx, target.ID, model.RoleAdmin); err != nil {
			return fmt.Errorf("granting admin role: %w", err)
		}

		if err := stores.Profiles().SetAdmin(ctx, caller.ID, false); err != nil {
			return fmt.Errorf("demoting caller: %w", err)
		}
		if err := stores.Roles().Delete(ctx, caller.ID, model.RoleAdmin); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("revoking admin role: %w", err)
		}
		remaining, err := stores.Roles().ListByUser(ctx, caller.ID)
		if err != nil {
			return fmt.Errorf("listing caller roles: %w", err)
		}
		if len(remaining) == 0 {
			if err := stores.Roles().Insert(ctx, caller.ID, demotedRole); err != nil {
				return fmt.Errorf("assigning %s to former admin: %w", demotedRole, err)
			}
		}

		admins, err := stores.Roles().CountByOrganization(ctx, orgID, model.RoleAdmin)
		if err != nil {
			return fmt.Errorf("counting admins: %w", err)
		}
		if admins != 1 {
			return fmt.Errorf("%w: found %d", ErrAdminCount, admins)
		}
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "admin transfer rolled back", "error", err, "target_user_id", newAdminUserID)
		return err
	}

	slog.InfoContext(ctx, "admin transferred",
		"organization_id", orgID,
		"from_user_id", caller.ID,
		"to_user_id", newAdminUserID,
	)
	return nil
}

func (s *invitationService) Revoke(ctx context.Context, caller *model.Profile, id int64) error {
	orgID, err := requireAdmin(caller)
	if err != nil {
		return err
	}
	if err := s.invStore.DeleteUnused(ctx, id, orgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInviteNotFound
		}
		return fmt.Errorf("revoking invitation: %w", err)
	}

	slog.InfoContext(ctx, "invitation revoked", "invitation_id", id)
	return nil
}

func (s *invitationService) List(ctx context.Context, caller *model.Profile, limit, offset int32) ([]model.Invitation, error) {
	orgID, err := requireAdmin(caller)
	if err != nil {
		return nil, err
	}
	return s.invStore.ListByOrganization(ctx, orgID, limit, offset)
}

func requireAdmin(p *model.Profile) (string, error) {
	if p == nil || !p.IsAdmin {
		return "", ErrNotAdmin
	}
	if !p.HasOrganization() {
		return "", ErrNoOrganization
	}
	return *p.OrganizationID, nil
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
