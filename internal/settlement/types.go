// package settlement turns a client-submitted payment proof into credits,
// exactly once per transaction reference. the ledger's unique insert decides
// which request verifies a reference; the chain decides whether it is paid.
package settlement

import (
	"context"
	"errors"
	"time"

	"codeberg.org/interviewkit/server/internal/ledger"
)

// human-readable rejection reasons
const (
	ReasonAmountMismatch = "amount mismatch"
	ReasonWrongToken     = "wrong token"
	ReasonWrongRecipient = "wrong recipient"
	ReasonNotFound       = "transaction not found"
	ReasonFailedOnChain  = "transaction failed on-chain"
	ReasonExpired        = "transaction expired"
	ReasonClaimed        = "transaction already claimed by another account"
)

var (
	// payments need a durable identity to credit
	ErrAnonymous = errors.New("settlement: sign in to purchase credits")

	// another request is verifying the same reference; retry shortly
	ErrPaymentPending = errors.New("settlement: payment verification in progress")
)

// a token balance change on one account in a transaction
type TokenTransfer struct {
	Owner  string
	Mint   string
	Amount int64 // base units, negative when sent
}

// what the verifier needs to know about an on-chain transaction
type ChainTransaction struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Failed    bool
	Transfers []TokenTransfer
}

// sum of base units of mint that owner gained
func (t *ChainTransaction) Received(owner, mint string) int64 {
	var total int64
	for _, tr := range t.Transfers {
		if tr.Owner == owner && tr.Mint == mint && tr.Amount > 0 {
			total += tr.Amount
		}
	}

	return total
}

// reports whether owner gained any token at all
func (t *ChainTransaction) receivedAny(owner string) bool {
	for _, tr := range t.Transfers {
		if tr.Owner == owner && tr.Amount > 0 {
			return true
		}
	}

	return false
}

// reads transactions from the settlement network
type ChainClient interface {
	GetTransaction(ctx context.Context, signature string) (*ChainTransaction, error)
}

// input to Verifier.Verify
type VerifyRequest struct {
	TransactionRef string
	UserID         string

	// minimum credits the payment must cover (defaults to 1)
	ExpectedCredits int64

	// symbol or mint the payment must use; empty accepts any allowed token
	ExpectedToken string

	// credits spent right away by the request carrying the proof
	ConsumeCredits int64
}

// outcome of Verifier.Verify
type VerifyResult struct {
	Success      bool
	CreditsAdded int64
	Reason       string

	// the reference had already been credited; nothing new was granted
	AlreadyCredited bool

	// balance after crediting, when known
	Balance int64

	Transaction *ledger.SettlementTransaction
}

// reports whether this call granted new credits
func (r *VerifyResult) FreshlyCredited() bool {
	return r != nil && r.Success && !r.AlreadyCredited
}
