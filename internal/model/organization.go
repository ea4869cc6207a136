package model

import "time"

// OrganizationSource records which table produced an Organization. It is kept
// for logging and metrics only; callers must not branch on it.
type OrganizationSource string

const (
	OrganizationSourceCurrent OrganizationSource = "organizations"
	OrganizationSourceLegacy  OrganizationSource = "dealerships"
)

type Organization struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Plan      *string            `json:"plan,omitempty"`
	Size      *string            `json:"size,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Source    OrganizationSource `json:"-"`
}

// Dealership is a row of the legacy dealerships table.
type Dealership struct {
	ID        string
	Name      string
	Size      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Dealership) ToOrganization() *Organization {
	return &Organization{
		ID:        d.ID,
		Name:      d.Name,
		Size:      d.Size,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		Source:    OrganizationSourceLegacy,
	}
}

// OrganizationUpdate carries the fields onboarding may change.
type OrganizationUpdate struct {
	Name string
	Size string
}
