package main

import (
	"codeberg.org/interviewkit/server/internal/config"
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/llm"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/usage"
	"codeberg.org/interviewkit/server/internal/x402"
)

// creates the metering core on top of store and the external clients
func InitializeServices(cfg *config.Config, store ledger.Store) *Services {
	pricing := x402.NewPricing(cfg.Payment)
	chain := settlement.NewRPCClient(cfg.Payment.RPCURL, cfg.Payment.RPCRatePerSecond)

	performer := llm.NewAnthropicPerformer(llm.AnthropicConfig{
		APIKey: cfg.AnthropicKey,
		Model:  cfg.AnthropicModel,
	})

	return &Services{
		Pricing:   pricing,
		Gate:      usage.NewGate(store, pricing, cfg.LedgerTimeout),
		Recorder:  usage.NewRecorder(store, cfg.LedgerTimeout),
		Accounts:  usage.NewAccounts(store, cfg.DailyFreeCredits, cfg.LedgerTimeout),
		Verifier:  settlement.NewVerifier(store, chain, pricing, settlement.OptionsFromConfig(cfg)),
		Performer: performer,
	}
}
