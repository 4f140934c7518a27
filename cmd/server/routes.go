package main

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/api/rest/actions"
	"codeberg.org/interviewkit/server/api/rest/credits"
	"codeberg.org/interviewkit/server/api/rest/health"
	"codeberg.org/interviewkit/server/api/rest/payments"
)

// sets up all API routes and middleware
func RegisterRoutes(router *gin.Engine, server *Server, limit gin.HandlerFunc) {
	router.Use(CORSMiddleware(server.config.AllowedOrigins))
	router.GET("/health", health.Handler)
	router.GET("/ready", health.ReadyHandler(server.ledger))

	secret := server.config.JWTSecret
	services := server.services

	v1 := router.Group("/api/v1")

	{
		v1.GET("/ping", health.PingHandler)

		actions.RegisterRoutes(v1, secret, &actions.Service{
			Gate:      services.Gate,
			Recorder:  services.Recorder,
			Verifier:  services.Verifier,
			Performer: services.Performer,
			Pricing:   services.Pricing,
		}, limit)

		payments.RegisterRoutes(v1, secret, services.Verifier, services.Pricing, limit)
		credits.RegisterRoutes(v1, secret, services.Accounts)
	}
}
