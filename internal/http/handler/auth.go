package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/middleware"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/session"
)

// SessionRegistry is the credential side of session.Registry.
type SessionRegistry interface {
	SignIn(ctx context.Context, email, password string) session.AuthResult
	SignUp(ctx context.Context, email, password, fullName string) session.AuthResult
	SignOut(ctx context.Context, sessionID int64) session.AuthResult
	Adopt(ctx context.Context, as *model.AuthSession, event model.SessionEvent, message string) session.AuthResult
}

type Refresher interface {
	Refresh(ctx context.Context, sessionID int64) (*model.AuthSession, error)
}

type AuthHandler struct {
	registry  SessionRegistry
	refresher Refresher
	cookies   CookieConfig
}

func NewAuthHandler(registry SessionRegistry, refresher Refresher, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{
		registry:  registry,
		refresher: refresher,
		cookies:   cookies,
	}
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

type navigateRequest struct {
	Path string `json:"path" binding:"required"`
}

func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res := h.registry.SignIn(c.Request.Context(), req.Email, req.Password)
	h.writeResult(c, res)
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res := h.registry.SignUp(c.Request.Context(), req.Email, req.Password, req.FullName)
	h.writeResult(c, res)
}

func (h *AuthHandler) SignOut(c *gin.Context) {
	ctx := c.Request.Context()

	ctrl, ok := middleware.CurrentController(c)
	if !ok {
		clearSessionCookie(c, h.cookies)
		c.JSON(http.StatusOK, session.AuthResult{RedirectTo: routePtr(redirect.RouteHome)})
		return
	}

	res := h.registry.SignOut(ctx, ctrl.SessionID())
	if res.Error != nil {
		slog.WarnContext(ctx, "sign out failed", "error", res.Error)
		c.JSON(http.StatusInternalServerError, res)
		return
	}

	clearSessionCookie(c, h.cookies)
	c.JSON(http.StatusOK, res)
}

// Session reports the caller's controller state and any pending navigation.
func (h *AuthHandler) Session(c *gin.Context) {
	ctrl, ok := middleware.CurrentController(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"state": session.StateAnonymous, "is_loading": false, "redirect_to": nil})
		return
	}
	snap := ctrl.Snapshot()
	if snap.State == session.StateAnonymous {
		clearSessionCookie(c, h.cookies)
	}
	c.JSON(http.StatusOK, snapshotResponse(ctrl))
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	ctrl, ok := requireController(c)
	if !ok {
		return
	}

	as, err := h.refresher.Refresh(ctx, ctrl.SessionID())
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) {
			clearSessionCookie(c, h.cookies)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired", "code": "session_expired", "redirect_to": redirect.RouteSignIn})
			return
		}
		slog.ErrorContext(ctx, "session refresh failed", "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal", "failed to refresh session")
		return
	}

	ctrl.Handle(ctx, model.SessionEventTokenRefreshed, as)
	c.JSON(http.StatusOK, snapshotResponse(ctrl))
}

// Navigate is called by the client on every route change.
func (h *AuthHandler) Navigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}

	ctrl, ok := middleware.CurrentController(c)
	if !ok {
		target := redirect.DetermineRedirectPath(nil, false)
		if redirect.Suppressed(req.Path, target) {
			c.JSON(http.StatusOK, gin.H{"redirect_to": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"redirect_to": target})
		return
	}

	ctrl.Guard(c.Request.Context(), req.Path)
	c.JSON(http.StatusOK, gin.H{"redirect_to": ctrl.TakeNavigation()})
}

func (h *AuthHandler) writeResult(c *gin.Context, res session.AuthResult) {
	if res.Error != nil {
		c.JSON(statusFor(res.Error), res)
		return
	}
	if res.Token != "" {
		setSessionCookie(c, h.cookies, res.Token)
	}
	c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrSignUpRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func routePtr(r redirect.Route) *redirect.Route {
	return &r
}
