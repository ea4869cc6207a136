package store

import (
	"context"
	"errors"

	"autolead.app/crm/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ProfileStore defines the contract for profile data access.
// It exposes raw records; normalization happens in the profile resolver.
type ProfileStore interface {
	// GetWithRoles loads the profile row joined with its user_roles rows in one query.
	GetWithRoles(ctx context.Context, userID string) (*model.ProfileRecord, error)
	Upsert(ctx context.Context, rec *model.ProfileRecord) error
	LinkOrganization(ctx context.Context, userID, orgID string, isAdmin bool, role model.Role) error
	UnlinkOrganization(ctx context.Context, userID string) error
	CompleteOnboarding(ctx context.Context, userID, orgID string) error
	SetAdmin(ctx context.Context, userID string, isAdmin bool) error
	Delete(ctx context.Context, userID string) error
}

// RoleStore defines the contract for user_roles rows
type RoleStore interface {
	ListByUser(ctx context.Context, userID string) ([]model.RoleAssignment, error)
	Insert(ctx context.Context, userID string, role model.Role) error
	Delete(ctx context.Context, userID string, role model.Role) error
	DeleteAll(ctx context.Context, userID string) error
	CountByOrganization(ctx context.Context, orgID string, role model.Role) (int, error)
}

// OrganizationStore is the current-schema organizations table
type OrganizationStore interface {
	GetByID(ctx context.Context, id string) (*model.Organization, error)
	Create(ctx context.Context, org *model.Organization) error
	Update(ctx context.Context, id string, fields model.OrganizationUpdate) error
	Delete(ctx context.Context, id string) error
}

// DealershipStore is the legacy dealerships table, still the write target in production
type DealershipStore interface {
	GetByID(ctx context.Context, id string) (*model.Dealership, error)
	Create(ctx context.Context, d *model.Dealership) error
	Update(ctx context.Context, id string, fields model.OrganizationUpdate) error
	Delete(ctx context.Context, id string) error
}

// InvitationStore defines the contract for invitation data access
type InvitationStore interface {
	Create(ctx context.Context, inv *model.Invitation) error
	GetByID(ctx context.Context, id int64) (*model.Invitation, error)
	GetByToken(ctx context.Context, token string) (*model.Invitation, error)
	GetPendingByEmail(ctx context.Context, orgID, email string) (*model.Invitation, error)
	// MarkUsed flips used to true only if it is still false; ErrNotFound otherwise.
	MarkUsed(ctx context.Context, id int64) error
	DeleteUnused(ctx context.Context, id int64, orgID string) error
	ListByOrganization(ctx context.Context, orgID string, limit, offset int32) ([]model.Invitation, error)
}

// SessionStore defines the contract for session data access
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	GetValid(ctx context.Context, id int64) (*model.Session, error) // checks expiry
	GetValidByTokenHash(ctx context.Context, hash []byte) (*model.Session, error)
	Delete(ctx context.Context, id int64) error
	DeleteByUser(ctx context.Context, userID string) error
}

// ProgressStore keeps session-local onboarding progress
type ProgressStore interface {
	Get(ctx context.Context, sessionID int64) (*model.OnboardingProgress, error)
	Save(ctx context.Context, p *model.OnboardingProgress) error
	Delete(ctx context.Context, sessionID int64) error
}
