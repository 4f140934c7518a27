package payments

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/x402"
)

func RegisterRoutes(router *gin.RouterGroup, jwtSecret string, verifier *settlement.Verifier, pricing *x402.Pricing, limit gin.HandlerFunc) {
	// pricing terms are public
	router.GET("/payments/quote", QuoteHandler(pricing))

	paymentsGroup := router.Group("/payments")
	paymentsGroup.Use(auth.AuthMiddleware(jwtSecret))
	{
		paymentsGroup.POST("/verify", limit, VerifyHandler(verifier, pricing))
		paymentsGroup.GET("/:ref", StatusHandler(verifier))
	}
}
