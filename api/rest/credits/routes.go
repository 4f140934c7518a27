package credits

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/usage"
)

func RegisterRoutes(router *gin.RouterGroup, jwtSecret string, accounts *usage.Accounts) {
	creditsGroup := router.Group("/credits")
	creditsGroup.Use(auth.AuthMiddleware(jwtSecret))
	{
		creditsGroup.GET("", OverviewHandler(accounts))
		creditsGroup.GET("/usage", HistoryHandler(accounts))
		creditsGroup.POST("/daily", DailyClaimHandler(accounts))
	}
}
