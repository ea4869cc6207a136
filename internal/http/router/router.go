package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"autolead.app/crm/common/metrics"
	"autolead.app/crm/internal/http/handler"
	"autolead.app/crm/internal/http/middleware"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/session"
)

type RouterConfig struct {
	Cookies         handler.CookieConfig
	SignInPerSecond float64
	SignInBurst     int
}

// Pinger reports whether the database is reachable for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Services   *service.Services
	Registry   *session.Registry
	Onboarding handler.OnboardingService
	DB         Pinger
}

func SetupRoutes(router *gin.Engine, deps Deps, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		if deps.DB != nil {
			if err := deps.DB.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "live_sessions": deps.Registry.Len()})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.Use(middleware.LoadSession(deps.Registry))

	authHandler := handler.NewAuthHandler(deps.Registry, deps.Services.Auth(), cfg.Cookies)
	AuthRouter(router.Group("/auth"), authHandler, middleware.RateLimit(cfg.SignInPerSecond, cfg.SignInBurst))

	invHandler := handler.NewInvitationHandler(deps.Services.Invitations(), deps.Registry, cfg.Cookies)
	InviteRouter(router.Group("/invites"), invHandler)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireSession())
	{
		orgHandler := handler.NewOrganizationHandler(deps.Services.Profiles())
		OrganizationRouter(v1.Group("/organizations"), orgHandler)

		obHandler := handler.NewOnboardingHandler(deps.Onboarding)
		onboardingGroup := v1.Group("/onboarding")
		onboardingGroup.Use(middleware.RequireOnboarding())
		OnboardingRouter(onboardingGroup, obHandler)

		admin := v1.Group("")
		admin.Use(middleware.RequireAdmin())
		AdminRouter(admin, invHandler)
	}
}
