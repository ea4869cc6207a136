package router

import (
	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/handler"
)

func OnboardingRouter(rg *gin.RouterGroup, h *handler.OnboardingHandler) {
	rg.GET("", h.Get)
	rg.POST("/advance", h.Advance)
	rg.POST("/back", h.Back)
	rg.PUT("/details", h.Details)
	rg.POST("/complete", h.Complete)
}
