package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autolead.app/crm/common/id"
	"autolead.app/crm/core/config"
	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/store"
)

var _ = Describe("InvitationService", func() {
	var (
		ctx         context.Context
		log         *callLog
		invitations *mockInvitationStore
		profiles    *mockProfileStore
		roles       *mockRoleStore
		orgs        *mockOrganizationStore
		fn          *mockFunctions
		identity    *mockIdentity
		auth        *mockAuthService
		txRunner    *mockTxRunner
		cfg         config.InviteConfig
		admin       *model.Profile
	)

	newService := func() service.InvitationService {
		return service.NewInvitationService(
			invitations,
			service.NewOrganizationService(orgs, &mockDealershipStore{}, fn),
			txRunner,
			fn,
			identity,
			auth,
			cfg,
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		log = &callLog{}
		invitations = &mockInvitationStore{log: log}
		profiles = &mockProfileStore{log: log}
		roles = &mockRoleStore{log: log}
		orgs = &mockOrganizationStore{
			getFn: func(_ context.Context, id string) (*model.Organization, error) {
				return &model.Organization{ID: id, Name: "Sunrise Motors"}, nil
			},
		}
		fn = &mockFunctions{log: log}
		identity = &mockIdentity{log: log}
		auth = &mockAuthService{}
		txRunner = &mockTxRunner{provider: &mockStoreProvider{
			profiles:    profiles,
			roles:       roles,
			invitations: invitations,
		}}
		cfg = config.InviteConfig{DirectFallback: true, Expiry: 7 * 24 * time.Hour}
		admin = &model.Profile{
			ID:             "admin1",
			IsAdmin:        true,
			OrganizationID: strPtr("org-1"),
			Roles:          []model.Role{model.RoleAdmin},
		}
	})

	Describe("InviteUser", func() {
		It("stores the invitation and sends it through the function", func() {
			var sent functions.SendInvitationRequest
			fn.sendInvitationFn = func(_ context.Context, req functions.SendInvitationRequest) error {
				sent = req
				return nil
			}

			inv, err := newService().InviteUser(ctx, admin, " Rep@Example.com ", model.RoleSalesRep, strPtr("Sales"))
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.Email).To(Equal("rep@example.com"))
			Expect(inv.OrganizationID).To(Equal("org-1"))
			Expect(inv.Token).NotTo(BeEmpty())
			Expect(inv.Used).To(BeFalse())
			Expect(*inv.InvitedBy).To(Equal("admin1"))
			Expect(sent.Token).To(Equal(inv.Token))
			Expect(sent.OrgName).To(Equal("Sunrise Motors"))
			Expect(log.all()).To(Equal([]string{"invitations.create", "fn.send_invitation"}))
		})

		It("refuses callers who are not admins", func() {
			admin.IsAdmin = false
			_, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
			Expect(err).To(MatchError(service.ErrNotAdmin))
		})

		It("refuses admins without an organization", func() {
			admin.OrganizationID = nil
			_, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
			Expect(err).To(MatchError(service.ErrNoOrganization))
		})

		It("does not invite into the admin role", func() {
			_, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleAdmin, nil)
			Expect(err).To(MatchError(service.ErrInvalidRole))
		})

		It("rejects a second pending invitation for the same email", func() {
			invitations.getPendingByEmailFn = func(context.Context, string, string) (*model.Invitation, error) {
				return &model.Invitation{ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			_, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
			Expect(err).To(MatchError(service.ErrInvitePendingExists))
		})

		It("discards the row when the function rejects the send", func() {
			fn.sendInvitationFn = func(context.Context, functions.SendInvitationRequest) error {
				return &functions.FunctionError{Name: functions.NameSendInvitation, Status: http.StatusBadRequest, Message: "bad email"}
			}

			_, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
			Expect(errors.Is(err, service.ErrInviteDelivery)).To(BeTrue())
			Expect(log.all()).To(Equal([]string{"invitations.create", "fn.send_invitation", "invitations.delete_unused"}))
		})

		It("discards the row when unreachable and direct provisioning is off", func() {
			cfg.DirectFallback = false
			fn.sendInvitationFn = func(context.Context, functions.SendInvitationRequest) error {
				return functions.ErrUnreachable
			}

			_, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
			Expect(errors.Is(err, service.ErrInviteDelivery)).To(BeTrue())
			Expect(log.all()).NotTo(ContainElement("identity.create_user"))
		})

		Context("when the function is unreachable and direct provisioning is on", func() {
			BeforeEach(func() {
				fn.sendInvitationFn = func(context.Context, functions.SendInvitationRequest) error {
					return functions.ErrUnreachable
				}
			})

			It("creates the account, triggers a password reset and consumes the invitation", func() {
				var resetFor string
				identity.sendPasswordResetFn = func(_ context.Context, email string) error {
					resetFor = email
					return nil
				}

				inv, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(inv.Used).To(BeTrue())
				Expect(resetFor).To(Equal("rep@example.com"))
				Expect(log.all()).To(Equal([]string{
					"invitations.create",
					"fn.send_invitation",
					"identity.create_user",
					"profiles.upsert",
					"roles.insert:user_new:sales_rep",
					"identity.password_reset",
					"invitations.mark_used",
				}))
			})

			It("undoes every step in reverse when the password reset fails", func() {
				identity.sendPasswordResetFn = func(context.Context, string) error {
					return errors.New("smtp down")
				}

				inv, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
				Expect(inv).To(BeNil())
				Expect(errors.Is(err, service.ErrInviteDelivery)).To(BeTrue())
				Expect(log.all()).To(Equal([]string{
					"invitations.create",
					"fn.send_invitation",
					"identity.create_user",
					"profiles.upsert",
					"roles.insert:user_new:sales_rep",
					"identity.password_reset",
					"roles.delete_all",
					"profiles.delete",
					"identity.delete_user",
					"invitations.delete_unused",
				}))
			})

			It("reports a failed compensation alongside the cause", func() {
				identity.createUserFn = func(_ context.Context, email, _, _ string) (*model.User, error) {
					return &model.User{ID: "user_new", Email: email}, nil
				}
				profiles.upsertFn = func(context.Context, *model.ProfileRecord) error {
					return errors.New("profile insert failed")
				}
				undoErr := errors.New("workos delete failed")
				identity.deleteUserFn = func(context.Context, string) error { return undoErr }

				_, err := newService().InviteUser(ctx, admin, "rep@example.com", model.RoleSalesRep, nil)
				Expect(errors.Is(err, service.ErrInviteDelivery)).To(BeTrue())
				Expect(errors.Is(err, undoErr)).To(BeTrue())
				Expect(log.all()).To(ContainElement("invitations.delete_unused"))
				Expect(log.all()).NotTo(ContainElement("identity.password_reset"))
			})
		})
	})

	Describe("ValidateInvite", func() {
		It("returns the function's view of the invitation", func() {
			fn.validateInviteFn = func(context.Context, string) (*functions.ValidateInviteResponse, error) {
				return &functions.ValidateInviteResponse{
					Email:    "Rep@Example.com",
					OrgID:    "org-1",
					Role:     "sales_rep",
					InviteID: json.Number("42"),
				}, nil
			}

			inv, err := newService().ValidateInvite(ctx, "tok")
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.ID).To(Equal(int64(42)))
			Expect(inv.Email).To(Equal("rep@example.com"))
			Expect(inv.Role).To(Equal(model.RoleSalesRep))
		})

		DescribeTable("classifies rejections from the function",
			func(status int, message string, expected error) {
				fn.validateInviteFn = func(context.Context, string) (*functions.ValidateInviteResponse, error) {
					return nil, &functions.FunctionError{Name: functions.NameValidateInvite, Status: status, Message: message}
				}
				_, err := newService().ValidateInvite(ctx, "tok")
				Expect(err).To(MatchError(expected))
			},
			Entry("expired", http.StatusBadRequest, "Invitation has expired", service.ErrInviteExpired),
			Entry("used", http.StatusGone, "Invitation already used", service.ErrInviteAlreadyUsed),
			Entry("unknown token", http.StatusNotFound, "Invalid invitation", service.ErrInviteNotFound),
		)

		Context("when the function cannot answer", func() {
			BeforeEach(func() {
				fn.validateInviteFn = func(context.Context, string) (*functions.ValidateInviteResponse, error) {
					return nil, &functions.FunctionError{Name: functions.NameValidateInvite, Status: http.StatusInternalServerError, Message: "boom"}
				}
			})

			It("reads the invitation row", func() {
				invitations.getByTokenFn = func(_ context.Context, token string) (*model.Invitation, error) {
					return &model.Invitation{ID: 7, Token: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
				}
				inv, err := newService().ValidateInvite(ctx, "tok")
				Expect(err).NotTo(HaveOccurred())
				Expect(inv.ID).To(Equal(int64(7)))
			})

			It("reports expiry before use", func() {
				invitations.getByTokenFn = func(context.Context, string) (*model.Invitation, error) {
					return &model.Invitation{Used: true, ExpiresAt: time.Now().Add(-time.Hour)}, nil
				}
				_, err := newService().ValidateInvite(ctx, "tok")
				Expect(err).To(MatchError(service.ErrInviteExpired))
			})

			It("reports a used invitation", func() {
				invitations.getByTokenFn = func(context.Context, string) (*model.Invitation, error) {
					return &model.Invitation{Used: true, ExpiresAt: time.Now().Add(time.Hour)}, nil
				}
				_, err := newService().ValidateInvite(ctx, "tok")
				Expect(err).To(MatchError(service.ErrInviteAlreadyUsed))
			})

			It("reports an unknown token", func() {
				_, err := newService().ValidateInvite(ctx, "tok")
				Expect(err).To(MatchError(service.ErrInviteNotFound))
			})
		})

		It("rejects an empty token without calling anything", func() {
			fn.validateInviteFn = func(context.Context, string) (*functions.ValidateInviteResponse, error) {
				Fail("validate-invite should not be called")
				return nil, nil
			}
			_, err := newService().ValidateInvite(ctx, "")
			Expect(err).To(MatchError(service.ErrInviteNotFound))
		})
	})

	Describe("AcceptInvite", func() {
		var row *model.Invitation

		BeforeEach(func() {
			row = &model.Invitation{
				ID:             7,
				OrganizationID: "org-1",
				Email:          "rep@example.com",
				Role:           model.RoleSalesRep,
				Token:          "tok",
				ExpiresAt:      time.Now().Add(time.Hour),
			}
			invitations.getByTokenFn = func(context.Context, string) (*model.Invitation, error) {
				copied := *row
				return &copied, nil
			}
		})

		It("binds the member, consumes the invitation and opens a session", func() {
			var boundOrg string
			profiles.upsertFn = func(_ context.Context, rec *model.ProfileRecord) error {
				boundOrg = *rec.OrgID
				return nil
			}
			var issuedEvent model.SessionEvent
			auth.issueSessionFn = func(_ context.Context, user *model.User, event model.SessionEvent) (*model.AuthSession, error) {
				issuedEvent = event
				return &model.AuthSession{User: user, Session: &model.Session{ID: 5, UserID: user.ID}}, nil
			}

			as, inv, err := newService().AcceptInvite(ctx, "tok", "secret", "Rita Rep")
			Expect(err).NotTo(HaveOccurred())
			Expect(as.Session.ID).To(Equal(int64(5)))
			Expect(as.User.FullName).To(Equal("Rita Rep"))
			Expect(inv.Used).To(BeTrue())
			Expect(boundOrg).To(Equal("org-1"))
			Expect(issuedEvent).To(Equal(model.SessionEventSignedIn))
			Expect(txRunner.commits).To(Equal(1))
			Expect(log.all()).To(ContainElement("invitations.mark_used"))
			Expect(log.all()).NotTo(ContainElement("identity.delete_user"))
		})

		It("requires a password", func() {
			_, _, err := newService().AcceptInvite(ctx, "tok", "", "Rita")
			Expect(err).To(MatchError(service.ErrMissingCredentials))
		})

		It("surfaces the credential store's rejection", func() {
			identity.createUserFn = func(context.Context, string, string, string) (*model.User, error) {
				return nil, errors.New("password too weak")
			}
			_, inv, err := newService().AcceptInvite(ctx, "tok", "123", "Rita")
			Expect(inv).To(BeNil())
			Expect(errors.Is(err, service.ErrSignUpRejected)).To(BeTrue())
			Expect(err.Error()).To(Equal("password too weak"))
		})

		It("deletes the new account when another accept consumed the invitation first", func() {
			invitations.markUsedFn = func(context.Context, int64) error { return store.ErrNotFound }

			as, inv, err := newService().AcceptInvite(ctx, "tok", "secret", "Rita")
			Expect(as).To(BeNil())
			Expect(inv).To(BeNil())
			Expect(errors.Is(err, service.ErrInviteAlreadyUsed)).To(BeTrue())
			Expect(txRunner.rollbacks).To(Equal(1))
			Expect(log.all()).To(ContainElement("identity.delete_user"))
		})

		It("returns the invitation without a session when issuing the session fails", func() {
			auth.issueSessionFn = func(context.Context, *model.User, model.SessionEvent) (*model.AuthSession, error) {
				return nil, errors.New("session insert failed")
			}
			as, inv, err := newService().AcceptInvite(ctx, "tok", "secret", "Rita")
			Expect(err).To(HaveOccurred())
			Expect(as).To(BeNil())
			Expect(inv).NotTo(BeNil())
			Expect(inv.Used).To(BeTrue())
		})
	})

	Describe("TransferAdmin", func() {
		BeforeEach(func() {
			profiles.getWithRolesFn = func(_ context.Context, userID string) (*model.ProfileRecord, error) {
				return &model.ProfileRecord{
					ID:    userID,
					OrgID: strPtr("org-1"),
					Roles: []model.RoleAssignment{{UserID: userID, Role: model.RoleSalesRep}},
				}, nil
			}
		})

		It("promotes the target and demotes the caller in one transaction", func() {
			Expect(newService().TransferAdmin(ctx, admin, "u2")).To(Succeed())
			Expect(txRunner.commits).To(Equal(1))
			Expect(log.all()).To(Equal([]string{
				"profiles.promote:u2",
				"roles.insert:u2:admin",
				"profiles.demote:admin1",
				"roles.delete:admin1:admin",
				"roles.insert:admin1:sales_manager",
			}))
		})

		It("keeps the caller's remaining roles instead of assigning the fallback", func() {
			roles.listByUserFn = func(_ context.Context, userID string) ([]model.RoleAssignment, error) {
				return []model.RoleAssignment{{UserID: userID, Role: model.RoleFinanceAdmin}}, nil
			}
			Expect(newService().TransferAdmin(ctx, admin, "u2")).To(Succeed())
			Expect(log.all()).NotTo(ContainElement("roles.insert:admin1:sales_manager"))
		})

		It("refuses a target outside the caller's organization", func() {
			profiles.getWithRolesFn = func(_ context.Context, userID string) (*model.ProfileRecord, error) {
				return &model.ProfileRecord{ID: userID, OrgID: strPtr("org-2")}, nil
			}
			err := newService().TransferAdmin(ctx, admin, "u2")
			Expect(err).To(MatchError(service.ErrTransferTarget))
			Expect(log.all()).To(BeEmpty())
		})

		It("rolls back when the organization would not end with exactly one admin", func() {
			roles.countFn = func(context.Context, string, model.Role) (int, error) { return 2, nil }

			err := newService().TransferAdmin(ctx, admin, "u2")
			Expect(errors.Is(err, service.ErrAdminCount)).To(BeTrue())
			Expect(txRunner.rollbacks).To(Equal(1))
			Expect(txRunner.commits).To(BeZero())
		})

		It("refuses a transfer to the caller", func() {
			Expect(newService().TransferAdmin(ctx, admin, "admin1")).To(MatchError(service.ErrTransferToSelf))
		})

		It("refuses non-admin callers", func() {
			admin.IsAdmin = false
			Expect(newService().TransferAdmin(ctx, admin, "u2")).To(MatchError(service.ErrNotAdmin))
		})
	})

	Describe("Revoke", func() {
		It("maps a missing or already used row to ErrInviteNotFound", func() {
			invitations.deleteUnusedFn = func(context.Context, int64, string) error { return store.ErrNotFound }
			Expect(newService().Revoke(ctx, admin, 7)).To(MatchError(service.ErrInviteNotFound))
		})

		It("scopes the delete to the caller's organization", func() {
			var scopedOrg string
			invitations.deleteUnusedFn = func(_ context.Context, _ int64, orgID string) error {
				scopedOrg = orgID
				return nil
			}
			Expect(newService().Revoke(ctx, admin, 7)).To(Succeed())
			Expect(scopedOrg).To(Equal("org-1"))
		})
	})
})
