package store

import (
	"autolead.app/crm/core/db"
)

// Stores hands out row stores bound to one connection: the pool, or a
// transaction inside db.WithTx.
type Stores struct {
	conn db.DBTX
}

func NewStores(conn db.DBTX) *Stores {
	return &Stores{conn: conn}
}

func (s *Stores) Profiles() ProfileStore {
	return newProfileStore(s.conn)
}

func (s *Stores) Roles() RoleStore {
	return newRoleStore(s.conn)
}

func (s *Stores) Organizations() OrganizationStore {
	return newOrganizationStore(s.conn)
}

func (s *Stores) Dealerships() DealershipStore {
	return newDealershipStore(s.conn)
}

func (s *Stores) Invitations() InvitationStore {
	return newInvitationStore(s.conn)
}

func (s *Stores) Sessions() SessionStore {
	return newSessionStore(s.conn)
}
