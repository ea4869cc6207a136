package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/middleware"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/session"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Secure bool
	MaxAge int // seconds
}

func setSessionCookie(c *gin.Context, cfg CookieConfig, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		middleware.SessionCookieName,
		token,
		cfg.MaxAge,
		"/",
		"",
		cfg.Secure,
		true,
	)
}

func clearSessionCookie(c *gin.Context, cfg CookieConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		middleware.SessionCookieName,
		"",
		-1,
		"/",
		"",
		cfg.Secure,
		true,
	)
}

func errorJSON(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": code})
}

// noticeRedirect answers with a toast and a route, the shape every failed
// invite step uses.
func noticeRedirect(c *gin.Context, status int, code string, route redirect.Route, kind session.NoticeKind, msg string) {
	c.JSON(status, gin.H{
		"error":       msg,
		"code":        code,
		"notice":      session.Notice{Kind: kind, Message: msg},
		"redirect_to": route,
	})
}

type sessionResponse struct {
	session.Snapshot
	RedirectTo *redirect.Route `json:"redirect_to"`
}

func snapshotResponse(ctrl *session.Controller) sessionResponse {
	return sessionResponse{
		Snapshot:   ctrl.Snapshot(),
		RedirectTo: ctrl.TakeNavigation(),
	}
}

func requireController(c *gin.Context) (*session.Controller, bool) {
	ctrl, ok := middleware.CurrentController(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":       "not authenticated",
			"code":        "unauthenticated",
			"redirect_to": redirect.RouteSignIn,
		})
		return nil, false
	}
	return ctrl, true
}
