package payments

import (
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/x402"
)

const maxPurchaseCredits = x402.MaxCredits

// the operation name written into receipts for standalone purchases
const operationPurchase = "purchase"

// VerifyRequest represents an explicit payment submission. the transaction
// may instead arrive in the X-PAYMENT header.
type VerifyRequest struct {
	Transaction string `json:"transaction"`
	Token       string `json:"token,omitempty"`
	Credits     int64  `json:"credits,omitempty" binding:"omitempty,min=1,max=10000"`
}

// VerifyResponse represents the outcome of crediting a payment
type VerifyResponse struct {
	Success         bool   `json:"success"`
	TransactionRef  string `json:"transactionRef"`
	CreditsAdded    int64  `json:"creditsAdded"`
	AlreadyCredited bool   `json:"alreadyCredited"`
	Balance         int64  `json:"balance"`
}

// StatusResponse represents a stored settlement transaction
type StatusResponse struct {
	Transaction *ledger.SettlementTransaction `json:"transaction"`
}

// QuoteResponse represents the terms for buying credits up front
type QuoteResponse struct {
	PaymentRequired *x402.PaymentRequirement `json:"paymentRequired"`
}

func verifyResponse(ref string, res *settlement.VerifyResult) VerifyResponse {
	return VerifyResponse{
		Success:         res.Success,
		TransactionRef:  ref,
		CreditsAdded:    res.CreditsAdded,
		AlreadyCredited: res.AlreadyCredited,
		Balance:         res.Balance,
	}
}
