package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autolead.app/crm/internal/http/handler"
	"autolead.app/crm/internal/http/middleware"
	"autolead.app/crm/internal/http/router"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/onboarding"
)

type mockOnboarding struct {
	calls      []string
	completeFn func(ctx context.Context, sess onboarding.Session, profile *model.Profile) (*model.OnboardingProgress, error)
}

func (m *mockOnboarding) progress(sessionID int64, step model.OnboardingStep) *model.OnboardingProgress {
	return &model.OnboardingProgress{SessionID: sessionID, CurrentStep: step}
}

func (m *mockOnboarding) Load(_ context.Context, sessionID int64, _ *model.Organization) (*model.OnboardingProgress, error) {
	m.calls = append(m.calls, "load")
	return m.progress(sessionID, model.OnboardingStepWelcome), nil
}

func (m *mockOnboarding) Advance(_ context.Context, sessionID int64, step model.OnboardingStep) (*model.OnboardingProgress, error) {
	m.calls = append(m.calls, "advance")
	return m.progress(sessionID, step), nil
}

func (m *mockOnboarding) Back(_ context.Context, sessionID int64) (*model.OnboardingProgress, error) {
	m.calls = append(m.calls, "back")
	return m.progress(sessionID, model.OnboardingStepWelcome), nil
}

func (m *mockOnboarding) SetDetails(_ context.Context, sessionID int64, _, _ string) (*model.OnboardingProgress, error) {
	m.calls = append(m.calls, "details")
	return m.progress(sessionID, model.OnboardingStepDealership), nil
}

func (m *mockOnboarding) Complete(ctx context.Context, sess onboarding.Session, profile *model.Profile) (*model.OnboardingProgress, error) {
	m.calls = append(m.calls, "complete")
	if m.completeFn != nil {
		return m.completeFn(ctx, sess, profile)
	}
	return m.progress(sess.SessionID(), model.OnboardingStepComplete), nil
}

var _ = Describe("OnboardingHandler", func() {
	var (
		engine  *gin.Engine
		svc     *mockOnboarding
		profile *model.Profile
	)

	send := func(method, path string, body any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(method, path, bytes.NewBuffer(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.SessionTokenHeader, "tok-42")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	walkToComplete := func() []int {
		return []int{
			send(http.MethodGet, "/api/v1/onboarding", nil).Code,
			send(http.MethodPost, "/api/v1/onboarding/advance", map[string]string{"step": "dealership"}).Code,
			send(http.MethodPut, "/api/v1/onboarding/details", map[string]string{"name": "Hijacked Motors", "size": "1-10"}).Code,
			send(http.MethodPost, "/api/v1/onboarding/advance", map[string]string{"step": "team"}).Code,
			send(http.MethodPost, "/api/v1/onboarding/complete", nil).Code,
		}
	}

	BeforeEach(func() {
		svc = &mockOnboarding{}
		profile = adminProfile()
		profile.OnboardingCompleted = false
	})

	JustBeforeEach(func() {
		ctrl := signedInController(42, profile)
		engine = gin.New()
		engine.Use(middleware.LoadSession(controllerRegistry{ctrl: ctrl}))
		v1 := engine.Group("/api/v1")
		v1.Use(middleware.RequireSession())
		group := v1.Group("/onboarding")
		group.Use(middleware.RequireOnboarding())
		router.OnboardingRouter(group, handler.NewOnboardingHandler(svc))
	})

	It("lets the admin walk the flow to completion", func() {
		Expect(walkToComplete()).To(HaveEach(http.StatusOK))
		Expect(svc.calls).To(Equal([]string{"load", "advance", "details", "advance", "complete"}))
	})

	Context("for a user without an organization", func() {
		BeforeEach(func() {
			profile = &model.Profile{ID: "user_1", Roles: []model.Role{model.RoleAdmin}}
		})

		It("allows completion", func() {
			Expect(send(http.MethodPost, "/api/v1/onboarding/complete", nil).Code).To(Equal(http.StatusOK))
		})
	})

	Context("for an invited member", func() {
		BeforeEach(func() {
			orgID := "org-1"
			profile = &model.Profile{
				ID:             "user_1",
				OrganizationID: &orgID,
				Roles:          []model.Role{model.RoleSalesRep},
			}
		})

		It("refuses every step before the service is reached", func() {
			Expect(walkToComplete()).To(HaveEach(http.StatusForbidden))
			Expect(svc.calls).To(BeEmpty())
		})
	})

	It("maps a refused completion to 403", func() {
		svc.completeFn = func(context.Context, onboarding.Session, *model.Profile) (*model.OnboardingProgress, error) {
			return nil, onboarding.ErrNotPermitted
		}
		w := send(http.MethodPost, "/api/v1/onboarding/complete", nil)
		Expect(w.Code).To(Equal(http.StatusForbidden))
		Expect(w.Body.String()).To(ContainSubstring(`"code":"forbidden"`))
	})
})
