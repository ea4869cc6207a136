package model

import "time"

type OnboardingStep string

const (
	OnboardingStepWelcome    OnboardingStep = "welcome"
	OnboardingStepDealership OnboardingStep = "dealership"
	OnboardingStepInventory  OnboardingStep = "inventory"
	OnboardingStepTeam       OnboardingStep = "team"
	OnboardingStepComplete   OnboardingStep = "complete"
)

// OnboardingSteps is the fixed order of the admin onboarding flow.
var OnboardingSteps = []OnboardingStep{
	OnboardingStepWelcome,
	OnboardingStepDealership,
	OnboardingStepInventory,
	OnboardingStepTeam,
	OnboardingStepComplete,
}

// Index returns the position of the step in OnboardingSteps, or -1.
func (s OnboardingStep) Index() int {
	for i, step := range OnboardingSteps {
		if step == s {
			return i
		}
	}
	return -1
}

func (s OnboardingStep) IsValid() bool {
	return s.Index() >= 0
}

// OnboardingProgress is session-local: it lives only until completion or expiry.
type OnboardingProgress struct {
	SessionID       int64          `json:"session_id"`
	CurrentStep     OnboardingStep `json:"current_step"`
	DealershipName  string         `json:"dealership_name"`
	DealershipSize  string         `json:"dealership_size"`
	ProgressPercent int            `json:"progress_percent"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
