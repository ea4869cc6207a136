package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/middleware"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/service"
)

type OrganizationHandler struct {
	profiles service.ProfileService
}

func NewOrganizationHandler(profiles service.ProfileService) *OrganizationHandler {
	return &OrganizationHandler{profiles: profiles}
}

type createOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create is the /create-organization form: a signed-up user becomes the admin
// of a new organization and continues into onboarding.
func (h *OrganizationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	ctrl, ok := requireController(c)
	if !ok {
		return
	}
	snap := ctrl.Snapshot()

	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	orgID, err := h.profiles.CreateOrganization(ctx, req.Name, snap.User.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOrganizationName):
			errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, service.ErrAlreadyInOrganization):
			errorJSON(c, http.StatusConflict, "already_in_organization", err.Error())
		case errors.Is(err, service.ErrProfileNotFound):
			errorJSON(c, http.StatusNotFound, "profile_not_found", err.Error())
		default:
			slog.ErrorContext(ctx, "failed to create organization", "error", err)
			errorJSON(c, http.StatusInternalServerError, "internal", "failed to create organization")
		}
		return
	}

	profile := ctrl.RefreshProfile(ctx)
	target := redirect.RouteOnboardingWelcome
	if profile != nil {
		target = redirect.DetermineRedirectPath(profile, true)
	}
	ctrl.Navigate(ctx, target)

	c.JSON(http.StatusCreated, gin.H{
		"organization_id": orgID,
		"redirect_to":     ctrl.TakeNavigation(),
	})
}

func (h *OrganizationHandler) Current(c *gin.Context) {
	snap, _ := middleware.CurrentSnapshot(c)
	if snap.Organization == nil {
		errorJSON(c, http.StatusNotFound, "organization_not_found", "no organization")
		return
	}
	c.JSON(http.StatusOK, snap.Organization)
}
