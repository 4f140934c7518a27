package main

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/config"
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/llm"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/usage"
	"codeberg.org/interviewkit/server/internal/x402"
)

// holds all dependencies and state for the API server
type Server struct {
	config   *config.Config
	ledger   ledger.Store
	services *Services
	router   *gin.Engine
}

// holds the metering core and its external clients
type Services struct {
	Pricing   *x402.Pricing
	Gate      *usage.Gate
	Recorder  *usage.Recorder
	Accounts  *usage.Accounts
	Verifier  *settlement.Verifier
	Performer llm.Performer
}
