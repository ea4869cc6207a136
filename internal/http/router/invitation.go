package router

import (
	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/handler"
)

// InviteRouter sets up the public invitation routes used by the accept page.
func InviteRouter(rg *gin.RouterGroup, h *handler.InvitationHandler) {
	rg.GET("/validate", h.Validate)
	rg.POST("/accept", h.Accept)
}

// AdminRouter expects rg to already require an admin session.
func AdminRouter(rg *gin.RouterGroup, h *handler.InvitationHandler) {
	inv := rg.Group("/invitations")
	{
		inv.POST("", h.Create)
		inv.GET("", h.List)
		inv.POST("/revoke", h.Revoke)
	}
	rg.POST("/admin/transfer", h.TransferAdmin)
}
