package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/onboarding"
)

type OnboardingService interface {
	Load(ctx context.Context, sessionID int64, org *model.Organization) (*model.OnboardingProgress, error)
	Advance(ctx context.Context, sessionID int64, step model.OnboardingStep) (*model.OnboardingProgress, error)
	Back(ctx context.Context, sessionID int64) (*model.OnboardingProgress, error)
	SetDetails(ctx context.Context, sessionID int64, name, size string) (*model.OnboardingProgress, error)
	Complete(ctx context.Context, sess onboarding.Session, profile *model.Profile) (*model.OnboardingProgress, error)
}

type OnboardingHandler struct {
	svc OnboardingService
}

func NewOnboardingHandler(svc OnboardingService) *OnboardingHandler {
	return &OnboardingHandler{svc: svc}
}

type advanceRequest struct {
	Step string `json:"step" binding:"required"`
}

type detailsRequest struct {
	Name string `json:"name" binding:"required"`
	Size string `json:"size"`
}

func (h *OnboardingHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	ctrl, ok := requireController(c)
	if !ok {
		return
	}
	snap := ctrl.Snapshot()

	p, err := h.svc.Load(ctx, ctrl.SessionID(), snap.Organization)
	if err != nil {
		h.writeError(c, err)
		return
	}

	onboarding.Watch(ctx, p, snap.Profile, ctrl)
	c.JSON(http.StatusOK, gin.H{"progress": p, "redirect_to": ctrl.TakeNavigation()})
}

func (h *OnboardingHandler) Advance(c *gin.Context) {
	ctrl, ok := requireController(c)
	if !ok {
		return
	}

	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "step is required")
		return
	}

	p, err := h.svc.Advance(c.Request.Context(), ctrl.SessionID(), model.OnboardingStep(req.Step))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": p})
}

func (h *OnboardingHandler) Back(c *gin.Context) {
	ctrl, ok := requireController(c)
	if !ok {
		return
	}

	p, err := h.svc.Back(c.Request.Context(), ctrl.SessionID())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": p})
}

func (h *OnboardingHandler) Details(c *gin.Context) {
	ctrl, ok := requireController(c)
	if !ok {
		return
	}

	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	p, err := h.svc.SetDetails(c.Request.Context(), ctrl.SessionID(), req.Name, req.Size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": p})
}

func (h *OnboardingHandler) Complete(c *gin.Context) {
	ctx := c.Request.Context()
	ctrl, ok := requireController(c)
	if !ok {
		return
	}

	p, err := h.svc.Complete(ctx, ctrl, ctrl.Snapshot().Profile)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": p, "redirect_to": ctrl.TakeNavigation()})
}

func (h *OnboardingHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, onboarding.ErrInvalidStep),
		errors.Is(err, onboarding.ErrInvalidDetails):
		errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, onboarding.ErrStepOutOfOrder),
		errors.Is(err, onboarding.ErrCompleteRequired),
		errors.Is(err, onboarding.ErrDetailsNotAllowed):
		errorJSON(c, http.StatusConflict, "invalid_step", err.Error())
	case errors.Is(err, onboarding.ErrNotPermitted):
		errorJSON(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, onboarding.ErrNotStarted):
		errorJSON(c, http.StatusNotFound, "not_started", err.Error())
	case errors.Is(err, onboarding.ErrOnboardingIncomplete):
		slog.ErrorContext(c.Request.Context(), "onboarding completion failed", "error", err)
		errorJSON(c, http.StatusBadGateway, "onboarding_incomplete", "we could not save your dealership, please try again")
	default:
		slog.ErrorContext(c.Request.Context(), "onboarding request failed", "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal", "onboarding request failed")
	}
}
