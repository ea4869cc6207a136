package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"autolead.app/crm/common/id"
	"autolead.app/crm/common/metrics"
	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/store"
)

var (
	ErrProfileNotFound         = errors.New("profile not found")
	ErrProfileFetch            = errors.New("fetching profile failed")
	ErrProfileUpdate           = errors.New("updating profile failed")
	ErrOrganizationCreate      = errors.New("creating organization failed")
	ErrInvalidOrganizationName = errors.New("organization name is required")
	ErrAlreadyInOrganization   = errors.New("user already belongs to an organization")
)

type ProfileService interface {
	FetchProfile(ctx context.Context, userID string) (*model.Profile, error)
	// CreateOrganization inserts the organization and links the caller as its admin atomically.
	CreateOrganization(ctx context.Context, name, userID string) (string, error)
	// CompleteOnboarding marks admin onboarding done and records the organization link.
	CompleteOnboarding(ctx context.Context, userID, orgID string) error
}

type profileService struct {
	profileStore store.ProfileStore
	txRunner     TxRunner
	fn           functions.Client
}

func NewProfileService(profileStore store.ProfileStore, txRunner TxRunner, fn functions.Client) ProfileService {
	return &profileService{
		profileStore: profileStore,
		txRunner:     txRunner,
		fn:           fn,
	}
}

func (s *profileService) FetchProfile(ctx context.Context, userID string) (*model.Profile, error) {
	rec, err := s.profileStore.GetWithRoles(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrProfileFetch, err)
	}
	return NormalizeProfile(rec), nil
}

// NormalizeProfile folds both schema generations into the canonical shape.
// organization_id: org_id, then dealership_id. roles: role rows, then the
// legacy column, then the default role.
func NormalizeProfile(rec *model.ProfileRecord) *model.Profile {
	if rec == nil {
		return nil
	}

	p := &model.Profile{
		ID:                      rec.ID,
		Email:                   rec.Email,
		FullName:                rec.FullName,
		AvatarURL:               rec.AvatarURL,
		IsAdmin:                 rec.IsAdmin,
		OnboardingCompleted:     rec.OnboardingCompleted,
		RoleOnboardingCompleted: rec.RoleOnboardingCompleted,
	}

	switch {
	case nonEmpty(rec.OrgID):
		org := *rec.OrgID
		p.OrganizationID = &org
	case nonEmpty(rec.DealershipID):
		org := *rec.DealershipID
		p.OrganizationID = &org
	}

	switch {
	case len(rec.Roles) > 0:
		p.Roles = make([]model.Role, 0, len(rec.Roles))
		for _, ra := range rec.Roles {
			p.Roles = append(p.Roles, ra.Role)
		}
	case nonEmpty(rec.Role):
		p.Roles = []model.Role{model.Role(*rec.Role)}
	default:
		p.Roles = []model.Role{model.DefaultRole}
	}

	return p
}

func (s *profileService) CreateOrganization(ctx context.Context, name, userID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidOrganizationName
	}

	orgID := id.NewOrganizationID()

	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		rec, err := stores.Profiles().GetWithRoles(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrProfileNotFound
			}
			return fmt.Errorf("loading profile: %w", err)
		}
		if p := NormalizeProfile(rec); p.HasOrganization() {
			return ErrAlreadyInOrganization
		}

		org := &model.Organization{ID: orgID, Name: name}
		if err := stores.Organizations().Create(ctx, org); err != nil {
			return fmt.Errorf("inserting organization: %w", err)
		}

		if err := stores.Profiles().LinkOrganization(ctx, userID, orgID, true, model.RoleAdmin); err != nil {
			return fmt.Errorf("linking profile: %w", err)
		}

		if err := stores.Roles().Insert(ctx, userID, model.RoleAdmin); err != nil {
			return fmt.Errorf("inserting admin role: %w", err)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrAlreadyInOrganization) {
			return "", err
		}
		slog.ErrorContext(ctx, "organization create rolled back", "error", err, "user_id", userID)
		return "", fmt.Errorf("%w: %w", ErrOrganizationCreate, err)
	}

	slog.InfoContext(ctx, "organization created",
		"organization_id", orgID,
		"user_id", userID,
	)

	return orgID, nil
}

func (s *profileService) CompleteOnboarding(ctx context.Context, userID, orgID string) error {
	directErr := s.profileStore.CompleteOnboarding(ctx, userID, orgID)
	if directErr == nil {
		return nil
	}

	slog.WarnContext(ctx, "direct profile update rejected, trying update-profile",
		"error", directErr,
		"user_id", userID,
	)
	metrics.OrganizationFallbacks.WithLabelValues("update_profile").Inc()

	fnErr := s.fn.UpdateProfile(ctx, functions.UpdateProfileRequest{
		UserID:              userID,
		OnboardingCompleted: true,
		DealershipID:        orgID,
	})
	if fnErr == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrProfileUpdate, errors.Join(directErr, fnErr))
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}
