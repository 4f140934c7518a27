package usage

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/quota"
	"codeberg.org/interviewkit/server/internal/x402"
)

// combines the quota policy with ledger reads to allow or deny an action
type Gate struct {
	store   ledger.Store
	pricing *x402.Pricing
	timeout time.Duration
}

// creates a gate; timeout bounds each ledger round-trip (0 disables it)
func NewGate(store ledger.Store, pricing *x402.Pricing, timeout time.Duration) *Gate {
	return &Gate{
		store:   store,
		pricing: pricing,
		timeout: timeout,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}

// decides whether userID may run action at cost. a request whose payment was
// just verified is allowed without consulting the balance.
func (g *Gate) Check(ctx context.Context, userID string, action quota.Action, cost int64, paymentJustVerified bool) (*CheckResult, error) {
	if cost < 0 {
		return nil, &quota.PolicyError{Action: action, Reason: "negative cost"}
	}

	if userID == "" {
		return &CheckResult{Allowed: true, Cost: cost, Anonymous: true}, nil
	}

	if paymentJustVerified {
		return &CheckResult{Allowed: true, Cost: cost}, nil
	}

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	acc, err := g.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	res := &CheckResult{
		Cost:             cost,
		CreditsAvailable: acc.CreditBalance,
		Remaining:        acc.CreditBalance,
	}

	switch {
	case cost == 0:
		res.Allowed = true
	case !acc.FreeInterviewUsed:
		// consumed only when the interview flow completes
		res.Allowed = true
		res.FreeInterview = true
	case acc.CreditBalance >= cost:
		res.Allowed = true
		res.Remaining = acc.CreditBalance - cost
	default:
		res.PaymentRequired = g.pricing.Require(string(action), cost)
	}

	return res, nil
}
