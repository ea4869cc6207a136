package router

import (
	"github.com/gin-gonic/gin"

	"autolead.app/crm/internal/http/handler"
)

// AuthRouter registers the credential endpoints. limit throttles the two
// password forms only.
func AuthRouter(rg *gin.RouterGroup, h *handler.AuthHandler, limit gin.HandlerFunc) {
	rg.POST("/sign-in", limit, h.SignIn)
	rg.POST("/sign-up", limit, h.SignUp)
	rg.POST("/sign-out", h.SignOut)
	rg.GET("/session", h.Session)
	rg.POST("/refresh", h.Refresh)
	rg.POST("/navigate", h.Navigate)
}
