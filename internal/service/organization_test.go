package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/onboarding"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/store"
)

var _ = Describe("OrganizationService", func() {
	var (
		ctx         context.Context
		log         *callLog
		orgs        *mockOrganizationStore
		dealerships *mockDealershipStore
		fn          *mockFunctions
		svc         service.OrganizationService
	)

	BeforeEach(func() {
		ctx = context.Background()
		log = &callLog{}
		orgs = &mockOrganizationStore{log: log}
		dealerships = &mockDealershipStore{log: log}
		fn = &mockFunctions{log: log}
		svc = service.NewOrganizationService(orgs, dealerships, fn)
	})

	Describe("FetchOrganization", func() {
		It("reads the current table first", func() {
			orgs.getFn = func(_ context.Context, id string) (*model.Organization, error) {
				return &model.Organization{ID: id, Name: "Sunrise"}, nil
			}
			dealerships.getFn = func(context.Context, string) (*model.Dealership, error) {
				Fail("dealerships should not be read")
				return nil, nil
			}

			org, err := svc.FetchOrganization(ctx, "org-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(org.Name).To(Equal("Sunrise"))
		})

		It("falls back to dealerships on a miss", func() {
			dealerships.getFn = func(_ context.Context, id string) (*model.Dealership, error) {
				return &model.Dealership{ID: id, Name: "Legacy Motors"}, nil
			}

			org, err := svc.FetchOrganization(ctx, "org-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(org.Name).To(Equal("Legacy Motors"))
			Expect(org.Source).To(Equal(model.OrganizationSourceLegacy))
		})

		It("falls back to dealerships when the current table errors", func() {
			orgs.getFn = func(context.Context, string) (*model.Organization, error) {
				return nil, errors.New("relation does not exist")
			}
			dealerships.getFn = func(_ context.Context, id string) (*model.Dealership, error) {
				return &model.Dealership{ID: id, Name: "Legacy Motors"}, nil
			}

			org, err := svc.FetchOrganization(ctx, "org-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(org.ID).To(Equal("org-1"))
		})

		It("returns ErrOrganizationNotFound only when both tables miss", func() {
			_, err := svc.FetchOrganization(ctx, "org-1")
			Expect(err).To(MatchError(service.ErrOrganizationNotFound))
		})

		It("returns a fetch error when a miss is paired with a failure", func() {
			orgs.getFn = func(context.Context, string) (*model.Organization, error) {
				return nil, errors.New("timeout")
			}
			_, err := svc.FetchOrganization(ctx, "org-1")
			Expect(errors.Is(err, service.ErrOrganizationFetch)).To(BeTrue())
			Expect(errors.Is(err, service.ErrOrganizationNotFound)).To(BeFalse())
		})
	})

	Describe("UpdateOrganization", func() {
		It("falls back to update-dealership when the direct write fails", func() {
			dealerships.updateFn = func(context.Context, string, model.OrganizationUpdate) error {
				return errors.New("rls violation")
			}
			var req functions.UpdateDealershipRequest
			fn.updateDealershipFn = func(_ context.Context, r functions.UpdateDealershipRequest) error {
				req = r
				return nil
			}

			err := svc.UpdateOrganization(ctx, "org-1", model.OrganizationUpdate{Name: "Sunrise", Size: "11-50"}, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(req).To(Equal(functions.UpdateDealershipRequest{DealershipID: "org-1", Name: "Sunrise", Size: "11-50", UserID: "u1"}))
		})

		It("updates the organizations row when no dealership row matches", func() {
			dealerships.updateFn = func(context.Context, string, model.OrganizationUpdate) error {
				return store.ErrNotFound
			}
			var written model.OrganizationUpdate
			orgs.updateFn = func(_ context.Context, id string, f model.OrganizationUpdate) error {
				Expect(id).To(Equal("org-1"))
				written = f
				return nil
			}

			err := svc.UpdateOrganization(ctx, "org-1", model.OrganizationUpdate{Name: "Sunrise", Size: "11-50"}, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(Equal(model.OrganizationUpdate{Name: "Sunrise", Size: "11-50"}))
			Expect(log.all()).To(Equal([]string{"dealerships.update", "organizations.update"}))
		})

		It("calls update-dealership when neither table has the id", func() {
			dealerships.updateFn = func(context.Context, string, model.OrganizationUpdate) error {
				return store.ErrNotFound
			}
			fn.updateDealershipFn = func(context.Context, functions.UpdateDealershipRequest) error { return nil }

			Expect(svc.UpdateOrganization(ctx, "org-1", model.OrganizationUpdate{Name: "Sunrise"}, "u1")).To(Succeed())
			Expect(log.all()).To(Equal([]string{"dealerships.update", "organizations.update", "fn.update_dealership"}))
		})

		It("fails with ErrOrganizationUpdate when both paths fail", func() {
			dealerships.updateFn = func(context.Context, string, model.OrganizationUpdate) error {
				return errors.New("rls violation")
			}
			err := svc.UpdateOrganization(ctx, "org-1", model.OrganizationUpdate{Name: "Sunrise"}, "u1")
			Expect(errors.Is(err, service.ErrOrganizationUpdate)).To(BeTrue())
		})
	})

	Describe("CreateOrganizationDirect", func() {
		It("returns the id of the legacy row", func() {
			var created *model.Dealership
			dealerships.createFn = func(_ context.Context, d *model.Dealership) error {
				created = d
				return nil
			}

			orgID, err := svc.CreateOrganizationDirect(ctx, "Sunrise", "1-10", "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(orgID).To(Equal(created.ID))
			Expect(*created.Size).To(Equal("1-10"))
		})

		It("uses the function's id when the direct insert fails", func() {
			dealerships.createFn = func(context.Context, *model.Dealership) error {
				return errors.New("rls violation")
			}
			fn.createOrganizationFn = func(context.Context, string, string) (string, error) {
				return "org-from-fn", nil
			}

			orgID, err := svc.CreateOrganizationDirect(ctx, "Sunrise", "", "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(orgID).To(Equal("org-from-fn"))
		})
	})

	Describe("DeleteOrganization", func() {
		It("ignores rows that are already gone", func() {
			dealerships.deleteFn = func(context.Context, string) error { return store.ErrNotFound }
			orgs.deleteFn = func(context.Context, string) error { return store.ErrNotFound }
			Expect(svc.DeleteOrganization(ctx, "org-1")).To(Succeed())
		})
	})
})

type memoryProgress struct {
	rows map[int64]model.OnboardingProgress
}

func (m *memoryProgress) Get(_ context.Context, sessionID int64) (*model.OnboardingProgress, error) {
	p, ok := m.rows[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memoryProgress) Save(_ context.Context, p *model.OnboardingProgress) error {
	m.rows[p.SessionID] = *p
	return nil
}

func (m *memoryProgress) Delete(_ context.Context, sessionID int64) error {
	delete(m.rows, sessionID)
	return nil
}

type stubSession struct {
	routes []redirect.Route
}

func (s *stubSession) Navigate(_ context.Context, route redirect.Route) {
	s.routes = append(s.routes, route)
}
func (s *stubSession) SessionID() int64                              { return 7 }
func (s *stubSession) RefreshProfile(context.Context) *model.Profile { return nil }

var _ = Describe("onboarding an organization created through the current table", func() {
	It("shows the new name and size once completion succeeds with functions unreachable", func() {
		ctx := context.Background()
		log := &callLog{}

		table := map[string]model.Organization{
			"org-1": {ID: "org-1", Name: "My Dealership", Source: model.OrganizationSourceCurrent},
		}
		orgs := &mockOrganizationStore{
			log: log,
			getFn: func(_ context.Context, id string) (*model.Organization, error) {
				org, ok := table[id]
				if !ok {
					return nil, store.ErrNotFound
				}
				return &org, nil
			},
			updateFn: func(_ context.Context, id string, f model.OrganizationUpdate) error {
				org, ok := table[id]
				if !ok {
					return store.ErrNotFound
				}
				org.Name = f.Name
				org.Size = &f.Size
				table[id] = org
				return nil
			},
		}
		dealerships := &mockDealershipStore{
			log: log,
			updateFn: func(context.Context, string, model.OrganizationUpdate) error {
				return store.ErrNotFound
			},
		}
		fn := &mockFunctions{log: log}
		profiles := &mockProfileStore{log: log}

		orgSvc := service.NewOrganizationService(orgs, dealerships, fn)
		profileSvc := service.NewProfileService(profiles, &mockTxRunner{provider: &mockStoreProvider{profiles: profiles}}, fn)
		progress := &memoryProgress{rows: map[int64]model.OnboardingProgress{
			7: {SessionID: 7, CurrentStep: model.OnboardingStepTeam, DealershipName: "Sunrise Motors", DealershipSize: "11-50"},
		}}
		flow := onboarding.NewService(progress, orgSvc, profileSvc)

		orgID := "org-1"
		admin := &model.Profile{ID: "u1", OrganizationID: &orgID, IsAdmin: true, Roles: []model.Role{model.RoleAdmin}}
		sess := &stubSession{}

		_, err := flow.Complete(ctx, sess, admin)
		Expect(err).NotTo(HaveOccurred())
		Expect(log.all()).NotTo(ContainElement("fn.update_dealership"))

		org, err := orgSvc.FetchOrganization(ctx, "org-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(org.Name).To(Equal("Sunrise Motors"))
		Expect(*org.Size).To(Equal("11-50"))
		Expect(sess.routes).To(Equal([]redirect.Route{redirect.RouteAdminDashboard}))
	})
})
