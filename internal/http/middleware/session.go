package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"autolead.app/crm/common/logger"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/session"
)

const (
	SessionCookieName  = "crm_session"
	SessionTokenHeader = "X-Session-Token"
	CurrentPathHeader  = "X-Current-Path"

	controllerKey = "crm.session.controller"
	snapshotKey   = "crm.session.snapshot"
)

// Registry is the part of session.Registry the middleware needs.
type Registry interface {
	Resolve(ctx context.Context, token string) (int64, error)
	Get(ctx context.Context, sessionID int64) *session.Controller
}

// LoadSession attaches the caller's controller when a valid session token is
// present. It aborts only when the token cannot be checked at all.
func LoadSession(reg Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := SessionTokenFrom(c)
		if !ok {
			c.Next()
			return
		}

		sessionID, err := reg.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrSessionExpired) {
				c.Next()
				return
			}
			slog.ErrorContext(c.Request.Context(), "session token lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "session data is temporarily unavailable",
				"code":  "unreachable",
			})
			return
		}

		ctrl := reg.Get(c.Request.Context(), sessionID)
		if path := c.GetHeader(CurrentPathHeader); path != "" {
			ctrl.SetCurrentPath(path)
		}
		snap := ctrl.Snapshot()

		fields := logger.LogFields{SessionID: logger.Ptr(sessionID)}
		if snap.User != nil {
			fields.UserID = logger.Ptr(snap.User.ID)
		}
		if snap.Profile != nil && snap.Profile.OrganizationID != nil {
			fields.OrganizationID = logger.Ptr(*snap.Profile.OrganizationID)
		}
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), fields))

		c.Set(controllerKey, ctrl)
		c.Set(snapshotKey, snap)
		c.Next()
	}
}

// RequireSession aborts unless LoadSession found a signed-in user.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, ok := CurrentSnapshot(c)
		if !ok || snap.State == session.StateAnonymous || snap.State == session.StateUninitialized {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":       "not authenticated",
				"code":        "unauthenticated",
				"redirect_to": redirect.RouteSignIn,
			})
			return
		}
		if snap.State == session.StateUnreachable {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "session data is temporarily unavailable",
				"code":  "unreachable",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin must run after RequireSession.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, _ := CurrentSnapshot(c)
		if snap.Profile == nil || !snap.Profile.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin access required",
				"code":  "forbidden",
			})
			return
		}
		c.Next()
	}
}

// RequireOnboarding must run after RequireSession. It admits the
// organization's admin and users without an organization.
func RequireOnboarding() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, _ := CurrentSnapshot(c)
		if !snap.Profile.CanRunOnboarding() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "only the organization admin can set up the dealership",
				"code":  "forbidden",
			})
			return
		}
		c.Next()
	}
}

func CurrentController(c *gin.Context) (*session.Controller, bool) {
	v, ok := c.Get(controllerKey)
	if !ok {
		return nil, false
	}
	ctrl, ok := v.(*session.Controller)
	return ctrl, ok
}

func CurrentSnapshot(c *gin.Context) (session.Snapshot, bool) {
	v, ok := c.Get(snapshotKey)
	if !ok {
		return session.Snapshot{}, false
	}
	snap, ok := v.(session.Snapshot)
	return snap, ok
}

// SessionTokenFrom reads the session token from the cookie, then the header.
func SessionTokenFrom(c *gin.Context) (string, bool) {
	raw, err := c.Cookie(SessionCookieName)
	if err != nil || raw == "" {
		raw = c.GetHeader(SessionTokenHeader)
	}
	return raw, raw != ""
}
