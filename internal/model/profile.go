package model

import "time"

type Role string

const (
	RoleAdmin            Role = "admin"
	RoleSalesManager     Role = "sales_manager"
	RoleSalesRep         Role = "sales_rep"
	RoleFinanceAdmin     Role = "finance_admin"
	RoleServiceManager   Role = "service_manager"
	RoleInventoryManager Role = "inventory_manager"
	RoleMarketing        Role = "marketing"
)

// DefaultRole is assigned when neither role rows nor the legacy column are set.
const DefaultRole = RoleAdmin

var knownRoles = map[Role]struct{}{
	RoleAdmin:            {},
	RoleSalesManager:     {},
	RoleSalesRep:         {},
	RoleFinanceAdmin:     {},
	RoleServiceManager:   {},
	RoleInventoryManager: {},
	RoleMarketing:        {},
}

func (r Role) IsKnown() bool {
	_, ok := knownRoles[r]
	return ok
}

// ProfileRecord is the profiles row as stored, carrying both schema generations.
// Only the profile resolver reads it; everything else works on Profile.
type ProfileRecord struct {
	ID                      string
	Email                   string
	FullName                string
	AvatarURL               *string
	OrgID                   *string // current schema
	DealershipID            *string // legacy schema
	Role                    *string // legacy single role
	IsAdmin                 bool
	OnboardingCompleted     bool
	RoleOnboardingCompleted bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
	Roles                   []RoleAssignment // user_roles rows, insertion order
}

type RoleAssignment struct {
	UserID    string
	Role      Role
	CreatedAt time.Time
}

// Profile is the canonical per-user record.
// Invariant: Roles is never empty.
type Profile struct {
	ID                      string  `json:"id"`
	Email                   string  `json:"email"`
	FullName                string  `json:"full_name"`
	AvatarURL               *string `json:"avatar_url,omitempty"`
	OrganizationID          *string `json:"organization_id"`
	Roles                   []Role  `json:"roles"`
	IsAdmin                 bool    `json:"is_admin"`
	OnboardingCompleted     bool    `json:"onboarding_completed"`
	RoleOnboardingCompleted bool    `json:"role_onboarding_completed"`
}

func (p *Profile) HasOrganization() bool {
	return p != nil && p.OrganizationID != nil && *p.OrganizationID != ""
}

// CanRunOnboarding reports whether the profile may drive the dealership setup
// flow: the organization's admin, or a user who has no organization yet.
func (p *Profile) CanRunOnboarding() bool {
	return p != nil && (p.IsAdmin || !p.HasOrganization())
}

func (p *Profile) HasRole(role Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrimaryRole is the first resolved role; it drives role-specific routing.
func (p *Profile) PrimaryRole() Role {
	if p == nil || len(p.Roles) == 0 {
		return DefaultRole
	}
	return p.Roles[0]
}

// Clone returns a deep copy so callers can't mutate controller-owned state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = append([]Role(nil), p.Roles...)
	if p.OrganizationID != nil {
		org := *p.OrganizationID
		c.OrganizationID = &org
	}
	if p.AvatarURL != nil {
		avatar := *p.AvatarURL
		c.AvatarURL = &avatar
	}
	return &c
}
