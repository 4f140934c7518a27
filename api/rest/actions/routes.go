package actions

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/auth"
)

// registers the metered action routes. limit runs after identity is known so
// signed-in callers are limited per account.
func RegisterRoutes(router *gin.RouterGroup, jwtSecret string, svc *Service, limit gin.HandlerFunc) {
	router.POST("/actions/:action", auth.OptionalAuthMiddleware(jwtSecret), limit, Handler(svc))
}
