// Package onboarding drives the admin's five-step setup flow.
package onboarding

import (
	"context"
	"errors"
	"strings"
	"time"

	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/redirect"
)

var (
	ErrInvalidStep          = errors.New("unknown onboarding step")
	ErrStepOutOfOrder       = errors.New("onboarding steps must be taken in order")
	ErrCompleteRequired     = errors.New("the last step is reached by completing onboarding")
	ErrDetailsNotAllowed    = errors.New("dealership details can only be set from the dealership step on")
	ErrInvalidDetails       = errors.New("dealership name is required")
	ErrNotStarted           = errors.New("onboarding has not been started")
	ErrOnboardingIncomplete = errors.New("onboarding could not be completed")
	ErrNotPermitted         = errors.New("only the organization admin can set up the dealership")
)

var lastIndex = len(model.OnboardingSteps) - 1

// Begin starts a fresh flow at welcome, seeded with what the organization
// already records.
func Begin(sessionID int64, org *model.Organization, now time.Time) *model.OnboardingProgress {
	p := &model.OnboardingProgress{
		SessionID:   sessionID,
		CurrentStep: model.OnboardingStepWelcome,
		UpdatedAt:   now,
	}
	if org != nil {
		p.DealershipName = org.Name
		if org.Size != nil {
			p.DealershipSize = *org.Size
		}
	}
	p.ProgressPercent = Percent(p.CurrentStep)
	return p
}

// Percent is the progress bar value for step: 0, 25, 50, 75, 100.
func Percent(step model.OnboardingStep) int {
	i := step.Index()
	if i < 0 {
		return 0
	}
	return i * 100 / lastIndex
}

// Advance moves to step, which must be the one right after the current step.
func Advance(p *model.OnboardingProgress, step model.OnboardingStep, now time.Time) error {
	if !step.IsValid() {
		return ErrInvalidStep
	}
	if step == model.OnboardingStepComplete {
		return ErrCompleteRequired
	}
	if step.Index() != p.CurrentStep.Index()+1 {
		return ErrStepOutOfOrder
	}
	if step.Index() > model.OnboardingStepDealership.Index() && strings.TrimSpace(p.DealershipName) == "" {
		return ErrInvalidDetails
	}
	setStep(p, step, now)
	return nil
}

// GoBack moves to the previous step. It does nothing at welcome or once complete.
func GoBack(p *model.OnboardingProgress, now time.Time) {
	i := p.CurrentStep.Index()
	if i <= 0 || p.CurrentStep == model.OnboardingStepComplete {
		return
	}
	setStep(p, model.OnboardingSteps[i-1], now)
}

func SetDetails(p *model.OnboardingProgress, name, size string, now time.Time) error {
	if p.CurrentStep.Index() < model.OnboardingStepDealership.Index() {
		return ErrDetailsNotAllowed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidDetails
	}
	p.DealershipName = name
	p.DealershipSize = strings.TrimSpace(size)
	p.UpdatedAt = now
	return nil
}

// Watch sends a stale tab to the admin dashboard once another tab has finished
// onboarding. It reports whether it navigated.
func Watch(ctx context.Context, p *model.OnboardingProgress, profile *model.Profile, nav redirect.Navigator) bool {
	if profile == nil || !profile.OnboardingCompleted {
		return false
	}
	if p != nil && p.CurrentStep == model.OnboardingStepComplete {
		return false
	}
	nav.Navigate(ctx, redirect.RouteAdminDashboard)
	return true
}

func setStep(p *model.OnboardingProgress, step model.OnboardingStep, now time.Time) {
	p.CurrentStep = step
	p.ProgressPercent = Percent(step)
	p.UpdatedAt = now
}
