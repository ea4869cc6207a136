package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/middleware"
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/redirect"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/session"
)

type InvitationHandler struct {
	invService service.InvitationService
	registry   SessionRegistry
	cookies    CookieConfig
}

func NewInvitationHandler(invService service.InvitationService, registry SessionRegistry, cookies CookieConfig) *InvitationHandler {
	return &InvitationHandler{
		invService: invService,
		registry:   registry,
		cookies:    cookies,
	}
}

type createInvitationRequest struct {
	Email      string  `json:"email" binding:"required,email"`
	Role       string  `json:"role" binding:"required"`
	Department *string `json:"department"`
}

type invitationResponse struct {
	ID             int64   `json:"id"`
	OrganizationID string  `json:"organization_id"`
	Email          string  `json:"email"`
	Role           string  `json:"role"`
	Department     *string `json:"department,omitempty"`
	Used           bool    `json:"used"`
	ExpiresAt      string  `json:"expires_at,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

type listInvitationsResponse struct {
	Invitations []invitationResponse `json:"invitations"`
}

type revokeInvitationRequest struct {
	ID string `json:"id" binding:"required"`
}

type acceptInvitationRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

type transferAdminRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Create invites a teammate into the caller's organization (admin only).
func (h *InvitationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	snap, _ := middleware.CurrentSnapshot(c)

	var req createInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "email and role are required")
		return
	}

	inv, err := h.invService.InviteUser(ctx, snap.Profile, req.Email, model.Role(req.Role), req.Department)
	if err != nil {
		h.writeServiceError(c, err, "failed to create invitation")
		return
	}

	status := http.StatusCreated
	resp := gin.H{
		"invitation": toInvitationResponse(inv),
		"notice":     session.Notice{Kind: session.NoticeSuccess, Message: "Invitation sent to " + inv.Email},
	}
	if inv.Used {
		resp["notice"] = session.Notice{Kind: session.NoticeSuccess, Message: "Account created for " + inv.Email + ". A password reset email is on its way."}
		resp["provisioned"] = true
	}
	c.JSON(status, resp)
}

func (h *InvitationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	snap, _ := middleware.CurrentSnapshot(c)

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 32)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 32)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	invs, err := h.invService.List(ctx, snap.Profile, int32(limit), int32(offset))
	if err != nil {
		h.writeServiceError(c, err, "failed to list invitations")
		return
	}

	resp := listInvitationsResponse{Invitations: make([]invitationResponse, 0, len(invs))}
	for i := range invs {
		resp.Invitations = append(resp.Invitations, toInvitationResponse(&invs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *InvitationHandler) Revoke(c *gin.Context) {
	ctx := c.Request.Context()
	snap, _ := middleware.CurrentSnapshot(c)

	var req revokeInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	id, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid invitation id")
		return
	}

	if err := h.invService.Revoke(ctx, snap.Profile, id); err != nil {
		h.writeServiceError(c, err, "failed to revoke invitation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invitation revoked"})
}

func (h *InvitationHandler) TransferAdmin(c *gin.Context) {
	ctx := c.Request.Context()
	snap, _ := middleware.CurrentSnapshot(c)

	var req transferAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	if err := h.invService.TransferAdmin(ctx, snap.Profile, req.UserID); err != nil {
		h.writeServiceError(c, err, "failed to transfer admin")
		return
	}

	resp := gin.H{"message": "admin transferred"}
	if ctrl, ok := middleware.CurrentController(c); ok {
		if p := ctrl.RefreshProfile(ctx); p != nil {
			resp["redirect_to"] = redirect.DetermineRedirectPath(p, false)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Validate is public: the accept page calls it before showing the form.
func (h *InvitationHandler) Validate(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.Query("token")
	if token == "" {
		noticeRedirect(c, http.StatusBadRequest, "invite_not_found", redirect.RouteSignIn, session.NoticeError, "Invitation link is missing its token")
		return
	}

	inv, err := h.invService.ValidateInvite(ctx, token)
	if err != nil {
		h.writeInviteFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"invitation": toInvitationResponse(inv),
	})
}

func (h *InvitationHandler) Accept(c *gin.Context) {
	ctx := c.Request.Context()

	var req acceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "token and password are required")
		return
	}

	as, inv, err := h.invService.AcceptInvite(ctx, req.Token, req.Password, req.FullName)
	if err != nil {
		if inv != nil {
			// The account exists; only the session could not be opened.
			noticeRedirect(c, http.StatusOK, "sign_in_required", redirect.RouteSignIn, session.NoticeSuccess, "Your account is ready. Please sign in.")
			return
		}
		h.writeInviteFailure(c, err)
		return
	}

	res := h.registry.Adopt(ctx, as, model.SessionEventSignedIn, "Welcome aboard!")
	if res.Token != "" {
		setSessionCookie(c, h.cookies, res.Token)
	}
	c.JSON(http.StatusOK, res)
}

// writeInviteFailure sends every invalid-invite outcome back to sign-in with a notice.
func (h *InvitationHandler) writeInviteFailure(c *gin.Context, err error) {
	var credErr *service.CredentialError
	switch {
	case errors.Is(err, service.ErrInviteExpired):
		noticeRedirect(c, http.StatusGone, "invite_expired", redirect.RouteSignIn, session.NoticeError, "This invitation has expired")
	case errors.Is(err, service.ErrInviteAlreadyUsed):
		noticeRedirect(c, http.StatusGone, "invite_used", redirect.RouteSignIn, session.NoticeError, "This invitation has already been used")
	case errors.Is(err, service.ErrInviteNotFound):
		noticeRedirect(c, http.StatusNotFound, "invite_not_found", redirect.RouteSignIn, session.NoticeError, "Invitation not found")
	case errors.As(err, &credErr):
		noticeRedirect(c, http.StatusUnprocessableEntity, "sign_up_rejected", redirect.RouteInviteAccept, session.NoticeError, credErr.Message)
	case errors.Is(err, service.ErrMissingCredentials):
		errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		slog.ErrorContext(c.Request.Context(), "invitation step failed", "error", err)
		noticeRedirect(c, http.StatusInternalServerError, "internal", redirect.RouteSignIn, session.NoticeError, "Failed to process invitation")
	}
}

func (h *InvitationHandler) writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNotAdmin):
		errorJSON(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, service.ErrNoOrganization):
		errorJSON(c, http.StatusConflict, "no_organization", err.Error())
	case errors.Is(err, service.ErrInvitePendingExists):
		errorJSON(c, http.StatusConflict, "invite_pending", err.Error())
	case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrInvalidRole):
		errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrInviteNotFound):
		errorJSON(c, http.StatusNotFound, "invite_not_found", err.Error())
	case errors.Is(err, service.ErrTransferToSelf), errors.Is(err, service.ErrTransferTarget):
		errorJSON(c, http.StatusBadRequest, "invalid_transfer", err.Error())
	case errors.Is(err, service.ErrAdminCount):
		errorJSON(c, http.StatusConflict, "admin_count", err.Error())
	case errors.Is(err, service.ErrInviteDelivery):
		slog.ErrorContext(c.Request.Context(), fallback, "error", err)
		errorJSON(c, http.StatusBadGateway, "delivery_failed", "the invitation could not be delivered, nothing was saved")
	default:
		slog.ErrorContext(c.Request.Context(), fallback, "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal", fallback)
	}
}

func toInvitationResponse(inv *model.Invitation) invitationResponse {
	resp := invitationResponse{
		ID:             inv.ID,
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		Role:           string(inv.Role),
		Department:     inv.Department,
		Used:           inv.Used,
	}
	if !inv.ExpiresAt.IsZero() {
		resp.ExpiresAt = inv.ExpiresAt.Format(time.RFC3339)
	}
	if !inv.CreatedAt.IsZero() {
		resp.CreatedAt = inv.CreatedAt.Format(time.RFC3339)
	}
	return resp
}
