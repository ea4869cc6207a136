package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/http/middleware"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/session"
)

type resolver struct {
	profile *model.Profile
	err     error
}

func (r resolver) FetchProfile(context.Context, string) (*model.Profile, error) {
	return r.profile, r.err
}

func (r resolver) FetchOrganization(_ context.Context, orgID string) (*model.Organization, error) {
	return &model.Organization{ID: orgID}, nil
}

func (r resolver) GetSession(context.Context, int64) (*model.AuthSession, error) {
	return &model.AuthSession{}, nil
}

type registry struct {
	ctrl     *session.Controller
	asked    []int64
	tokens   []string
	lookupFn func(token string) (int64, error)
}

func (r *registry) Resolve(_ context.Context, token string) (int64, error) {
	r.tokens = append(r.tokens, token)
	if r.lookupFn != nil {
		return r.lookupFn(token)
	}
	if token == "tok-42" {
		return 42, nil
	}
	return 0, service.ErrSessionExpired
}

func (r *registry) Get(_ context.Context, sessionID int64) *session.Controller {
	r.asked = append(r.asked, sessionID)
	return r.ctrl
}

func controllerFor(res resolver, signedIn bool) *session.Controller {
	ctrl := session.NewController(42, res, res, res, time.Second)
	as := &model.AuthSession{}
	if signedIn {
		as = &model.AuthSession{
			User:    &model.User{ID: "user_1"},
			Session: &model.Session{ID: 42, UserID: "user_1"},
		}
	}
	ctrl.Handle(context.Background(), model.SessionEventTokenRefreshed, as)
	return ctrl
}

var _ = Describe("session middleware", func() {
	var (
		router *gin.Engine
		reg    *registry
	)

	get := func(configure func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		if configure != nil {
			configure(req)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	withHeader := func(req *http.Request) {
		req.Header.Set(middleware.SessionTokenHeader, "tok-42")
	}

	setup := func(ctrl *session.Controller) {
		reg = &registry{ctrl: ctrl}
		router = gin.New()
		router.Use(middleware.LoadSession(reg))
		router.GET("/private", middleware.RequireSession(), middleware.RequireAdmin(), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
	}

	It("rejects a request without a session token", func() {
		setup(nil)
		w := get(nil)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(reg.tokens).To(BeEmpty())
		Expect(reg.asked).To(BeEmpty())
	})

	It("does not accept a bare session id as a token", func() {
		setup(controllerFor(resolver{profile: &model.Profile{ID: "user_1", IsAdmin: true}}, true))
		w := get(func(req *http.Request) { req.Header.Set(middleware.SessionTokenHeader, "42") })
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(reg.tokens).To(Equal([]string{"42"}))
		Expect(reg.asked).To(BeEmpty())
	})

	It("answers 503 when the token cannot be checked", func() {
		setup(nil)
		reg.lookupFn = func(string) (int64, error) { return 0, errors.New("db down") }
		w := get(withHeader)
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(reg.asked).To(BeEmpty())
	})

	It("rejects an anonymous session", func() {
		setup(controllerFor(resolver{}, false))
		Expect(get(withHeader).Code).To(Equal(http.StatusUnauthorized))
	})

	It("answers 503 while the session data is unreachable", func() {
		setup(controllerFor(resolver{err: functions.ErrUnreachable}, true))
		w := get(withHeader)
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(w.Body.String()).To(ContainSubstring(`"code":"unreachable"`))
	})

	It("rejects a non-admin on admin routes", func() {
		orgID := "org-1"
		setup(controllerFor(resolver{profile: &model.Profile{ID: "user_1", OrganizationID: &orgID}}, true))
		Expect(get(withHeader).Code).To(Equal(http.StatusForbidden))
	})

	It("lets an admin through and prefers the cookie", func() {
		orgID := "org-1"
		setup(controllerFor(resolver{profile: &model.Profile{ID: "user_1", OrganizationID: &orgID, IsAdmin: true}}, true))
		w := get(func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok-42"})
			req.Header.Set(middleware.SessionTokenHeader, "tok-7")
		})
		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(reg.tokens).To(Equal([]string{"tok-42"}))
		Expect(reg.asked).To(Equal([]int64{42}))
	})

	Describe("RequireOnboarding", func() {
		onboardingRouter := func(profile *model.Profile) *gin.Engine {
			reg = &registry{ctrl: controllerFor(resolver{profile: profile}, true)}
			r := gin.New()
			r.Use(middleware.LoadSession(reg))
			r.GET("/private", middleware.RequireSession(), middleware.RequireOnboarding(), func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})
			return r
		}

		DescribeTable("admits the admin and users without an organization",
			func(profile *model.Profile, status int) {
				router = onboardingRouter(profile)
				Expect(get(withHeader).Code).To(Equal(status))
			},
			Entry("admin", &model.Profile{ID: "user_1", OrganizationID: strPtr("org-1"), IsAdmin: true}, http.StatusNoContent),
			Entry("no organization yet", &model.Profile{ID: "user_1"}, http.StatusNoContent),
			Entry("invited member", &model.Profile{ID: "user_1", OrganizationID: strPtr("org-1"), Roles: []model.Role{model.RoleSalesRep}}, http.StatusForbidden),
		)
	})

	It("records the client's current path", func() {
		ctrl := controllerFor(resolver{}, false)
		setup(ctrl)
		get(func(req *http.Request) {
			withHeader(req)
			req.Header.Set(middleware.CurrentPathHeader, "/onboarding/team")
		})
		Expect(ctrl.CurrentPath()).To(Equal("/onboarding/team"))
	})
})

var _ = Describe("RateLimit", func() {
	It("answers 429 once the burst is spent", func() {
		router := gin.New()
		router.POST("/auth/sign-in", middleware.RateLimit(0.001, 2), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		codes := make([]int, 0, 3)
		for range 3 {
			req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil)
			req.RemoteAddr = "203.0.113.9:5555"
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}
		Expect(codes).To(Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}))

		req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Recovery", func() {
	It("turns a panic into a 500", func() {
		router := gin.New()
		router.Use(middleware.Recovery())
		router.GET("/boom", func(*gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(ContainSubstring(`"code":"internal"`))
	})
})

func strPtr(s string) *string {
	return &s
}
