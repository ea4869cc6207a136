package service

import (
	"time"

	"autolead.app/crm/core/config"
	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/queue"
	"autolead.app/crm/internal/store"
)

type Services struct {
	stores     *store.Stores
	txRunner   TxRunner
	fn         functions.Client
	identity   IdentityProvider
	events     queue.Producer
	inviteCfg  config.InviteConfig
	sessionTTL time.Duration
}

func NewServices(
	stores *store.Stores,
	txRunner TxRunner,
	fn functions.Client,
	identity IdentityProvider,
	events queue.Producer,
	inviteCfg config.InviteConfig,
	sessionTTL time.Duration,
) *Services {
	return &Services{
		stores:     stores,
		txRunner:   txRunner,
		fn:         fn,
		identity:   identity,
		events:     events,
		inviteCfg:  inviteCfg,
		sessionTTL: sessionTTL,
	}
}

func (s *Services) Profiles() ProfileService {
	return NewProfileService(s.stores.Profiles(), s.txRunner, s.fn)
}

func (s *Services) Organizations() OrganizationService {
	return NewOrganizationService(s.stores.Organizations(), s.stores.Dealerships(), s.fn)
}

func (s *Services) Auth() AuthService {
	return NewAuthService(
		s.identity,
		s.stores.Profiles(),
		s.stores.Sessions(),
		s.events,
		s.sessionTTL,
	)
}

func (s *Services) Invitations() InvitationService {
	return NewInvitationService(
		s.stores.Invitations(),
		s.Organizations(),
		s.txRunner,
		s.fn,
		s.identity,
		s.Auth(),
		s.inviteCfg,
	)
}
