// package usage decides whether a metered action may run (the gate) and
// books it once it has run (the recorder). all state lives in the ledger.
package usage

import (
	"errors"

	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/quota"
	"codeberg.org/interviewkit/server/internal/x402"
)

// the recorder's debit found the balance short; the action already ran
var ErrInsufficientAtDebit = errors.New("usage: balance insufficient at debit")

// the priced action of a single request, never persisted
type PendingActionCost struct {
	Action quota.Action
	Cost   int64
}

// outcome of Gate.Check
type CheckResult struct {
	Allowed bool

	// credits left once this action is paid for
	Remaining int64

	CreditsAvailable int64
	Cost             int64

	// allowance comes from the unused lifetime free interview
	FreeInterview bool

	// no durable identity; nothing is read or written
	Anonymous bool

	// set only when Allowed is false
	PaymentRequired *x402.PaymentRequirement
}

// input to Recorder.Record
type RecordRequest struct {
	UserID string
	Action quota.Action
	Cost   int64

	// the gate allowed the action on the free interview
	FreeInterview bool

	// the cost was already consumed when the request's proof was credited
	PaymentJustVerified bool
}

// outcome of Recorder.Record. Err is informational: the action result is
// returned to the caller regardless.
type RecordResult struct {
	Recorded               bool
	Remaining              int64
	FreeInterviewAvailable bool
	Account                *ledger.Account
	Err                    error

	// the action was booked against the free interview; false when the
	// gate granted it but a concurrent request consumed it first
	FreeInterview bool
}

// balance, free tier and per-action usage for one account
type Overview struct {
	Account                *ledger.Account  `json:"account"`
	FreeInterviewAvailable bool             `json:"free_interview_available"`
	UsageCounts            map[string]int64 `json:"usage_counts"`
	Prices                 map[string]int64 `json:"prices"`
	DailyFreeCredits       int64            `json:"daily_free_credits"`
}
