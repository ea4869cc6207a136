package model

import "time"

type Invitation struct {
	ID             int64     `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	Department     *string   `json:"department,omitempty"`
	Token          string    `json:"-"`
	Used           bool      `json:"used"`
	InvitedBy      *string   `json:"invited_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// IsConsumable reports whether the invitation can still produce a bound account.
func (i *Invitation) IsConsumable(now time.Time) bool {
	return !i.Used && now.Before(i.ExpiresAt)
}

func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
