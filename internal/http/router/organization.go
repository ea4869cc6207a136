package router

import (
	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/handler"
)

func OrganizationRouter(rg *gin.RouterGroup, h *handler.OrganizationHandler) {
	rg.POST("", h.Create)
	rg.GET("/current", h.Current)
}
