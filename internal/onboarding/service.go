package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/store"
)

// Store keeps progress for the life of one session's flow.
type Store interface {
	Get(ctx context.Context, sessionID int64) (*model.OnboardingProgress, error)
	Save(ctx context.Context, p *model.OnboardingProgress) error
	Delete(ctx context.Context, sessionID int64) error
}

type Organizations interface {
	UpdateOrganization(ctx context.Context, orgID string, fields model.OrganizationUpdate, userID string) error
	CreateOrganizationDirect(ctx context.Context, name, size, userID string) (string, error)
	DeleteOrganization(ctx context.Context, orgID string) error
}

type Profiles interface {
	CompleteOnboarding(ctx context.Context, userID, orgID string) error
}

// Session is the slice of the session controller that completion drives.
type Session interface {
	redirect.Navigator
	SessionID() int64
	RefreshProfile(ctx context.Context) *model.Profile
}

type Service struct {
	store    Store
	orgs     Organizations
	profiles Profiles
	now      func() time.Time
}

func NewService(store Store, orgs Organizations, profiles Profiles) *Service {
	return &Service{
		store:    store,
		orgs:     orgs,
		profiles: profiles,
		now:      time.Now,
	}
}

// Load returns the stored progress, starting a new flow when there is none.
func (s *Service) Load(ctx context.Context, sessionID int64, org *model.Organization) (*model.OnboardingProgress, error) {
	p, err := s.store.Get(ctx, sessionID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading progress: %w", err)
	}

	p = Begin(sessionID, org, s.now())
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving progress: %w", err)
	}
	return p, nil
}

func (s *Service) Advance(ctx context.Context, sessionID int64, step model.OnboardingStep) (*model.OnboardingProgress, error) {
	return s.update(ctx, sessionID, func(p *model.OnboardingProgress) error {
		return Advance(p, step, s.now())
	})
}

func (s *Service) Back(ctx context.Context, sessionID int64) (*model.OnboardingProgress, error) {
	return s.update(ctx, sessionID, func(p *model.OnboardingProgress) error {
		GoBack(p, s.now())
		return nil
	})
}

func (s *Service) SetDetails(ctx context.Context, sessionID int64, name, size string) (*model.OnboardingProgress, error) {
	return s.update(ctx, sessionID, func(p *model.OnboardingProgress) error {
		return SetDetails(p, name, size, s.now())
	})
}

func (s *Service) update(ctx context.Context, sessionID int64, fn func(p *model.OnboardingProgress) error) (*model.OnboardingProgress, error) {
	p, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving progress: %w", err)
	}
	return p, nil
}

func (s *Service) get(ctx context.Context, sessionID int64) (*model.OnboardingProgress, error) {
	p, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotStarted
		}
		return nil, fmt.Errorf("loading progress: %w", err)
	}
	return p, nil
}

// Complete writes the organization details and the onboarding flag. On failure
// the stored progress is left as it was and an organization created here is
// deleted again.
func (s *Service) Complete(ctx context.Context, sess Session, profile *model.Profile) (*model.OnboardingProgress, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: no profile", ErrOnboardingIncomplete)
	}
	if !profile.CanRunOnboarding() {
		return nil, ErrNotPermitted
	}

	p, err := s.get(ctx, sess.SessionID())
	if err != nil {
		return nil, err
	}
	if p.CurrentStep != model.OnboardingStepTeam {
		return nil, ErrStepOutOfOrder
	}

	fields := model.OrganizationUpdate{Name: p.DealershipName, Size: p.DealershipSize}

	var orgID string
	created := false
	if profile.HasOrganization() {
		orgID = *profile.OrganizationID
		if err := s.orgs.UpdateOrganization(ctx, orgID, fields, profile.ID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOnboardingIncomplete, err)
		}
	} else {
		orgID, err = s.orgs.CreateOrganizationDirect(ctx, fields.Name, fields.Size, profile.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOnboardingIncomplete, err)
		}
		created = true
	}

	if err := s.profiles.CompleteOnboarding(ctx, profile.ID, orgID); err != nil {
		if created {
			if delErr := s.orgs.DeleteOrganization(context.WithoutCancel(ctx), orgID); delErr != nil {
				slog.ErrorContext(ctx, "failed to remove organization after onboarding failure",
					"error", delErr,
					"organization_id", orgID)
				err = errors.Join(err, delErr)
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrOnboardingIncomplete, err)
	}

	setStep(p, model.OnboardingStepComplete, s.now())
	if err := s.store.Delete(ctx, p.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "failed to discard onboarding progress", "error", err, "session_id", p.SessionID)
	}

	sess.RefreshProfile(ctx)
	sess.Navigate(ctx, redirect.RouteAdminDashboard)

	slog.InfoContext(ctx, "onboarding completed",
		"organization_id", orgID,
		"user_id", profile.ID,
		"created_organization", created,
	)
	return p, nil
}
