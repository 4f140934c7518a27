// package ledger owns the per-user credit balance, free-tier counters, the
// settlement transaction table and the usage audit trail. every mutation is a
// single atomic storage operation; the store is the only serialization point
// for concurrent requests touching the same account or transaction.
package ledger

import (
	"context"
	"time"
)

// lifecycle of a submitted payment proof
type TxStatus string

const (
	StatusPending  TxStatus = "pending"
	StatusVerified TxStatus = "verified"
	StatusCredited TxStatus = "credited"
	StatusRejected TxStatus = "rejected"
)

// reports whether no further transition is possible
func (s TxStatus) IsFinal() bool {
	return s == StatusCredited || s == StatusRejected
}

// one per user id, created lazily on first usage check
type Account struct {
	UserID               string     `json:"user_id"`
	CreditBalance        int64      `json:"credit_balance"`
	FreeInterviewUsed    bool       `json:"free_interview_used"`
	DailyFreeClaimedDate *time.Time `json:"daily_free_claimed_date,omitempty"`
	InterviewsCompleted  int64      `json:"interviews_completed"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// one row per distinct transaction reference ever submitted
type SettlementTransaction struct {
	TransactionRef string     `json:"transaction_ref"`
	Status         TxStatus   `json:"status"`
	Token          string     `json:"token,omitempty"`
	AmountPaid     int64      `json:"amount_paid"` // token base units
	CreditsGranted int64      `json:"credits_granted"`
	UserID         string     `json:"user_id"`
	Reason         string     `json:"reason,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	ClaimedAt      time.Time  `json:"claimed_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// append-only audit entry written after an action executes
type UsageRecord struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	Action              string    `json:"action"`
	Cost                int64     `json:"cost"`
	FreeTierUsed        bool      `json:"free_tier_used"`
	PaymentJustVerified bool      `json:"payment_just_verified"`
	Timestamp           time.Time `json:"timestamp"`
}

// outcome of InsertOrFetchTransaction
type ClaimResult struct {
	// true when this caller inserted the row (or re-claimed a stale pending one)
	// and is therefore responsible for verifying it
	IsNew       bool
	Transaction *SettlementTransaction
}

// parameters for the atomic verify-and-credit step
type CreditRequest struct {
	TransactionRef string
	UserID         string
	Token          string
	AmountPaid     int64
	Credits        int64

	// credits spent immediately by the request that carried the proof
	Consume int64
}

// outcome of CreditAndMarkTransaction
type CreditResult struct {
	AlreadyCredited bool
	Credits         int64
	Balance         int64
	Transaction     *SettlementTransaction
}

// the storage contract the metering core depends on
type Store interface {
	GetOrCreateAccount(ctx context.Context, userID string) (*Account, error)

	// subtracts amount only if the balance stays non-negative
	TryDebit(ctx context.Context, userID string, amount int64) (bool, error)

	// gives back credits consumed by a request whose action then failed
	RefundCredits(ctx context.Context, userID string, amount int64) error

	// moves a pending row to credited and increments the balance in one unit
	CreditAndMarkTransaction(ctx context.Context, req CreditRequest) (*CreditResult, error)

	// inserts a pending row keyed by ref, or returns the existing one.
	// a pending row whose claim is older than staleAfter is re-claimed by exactly one caller.
	InsertOrFetchTransaction(ctx context.Context, ref, userID string, staleAfter time.Duration) (*ClaimResult, error)

	// makes a pending claim held by userID re-claimable at once
	ReleaseTransaction(ctx context.Context, ref, userID string) error

	GetTransaction(ctx context.Context, ref string) (*SettlementTransaction, error)
	MarkRejected(ctx context.Context, ref, reason string) (*SettlementTransaction, error)

	AppendUsageRecord(ctx context.Context, record *UsageRecord) error
	UsageCounts(ctx context.Context, userID string) (map[string]int64, error)

	// newest first; also returns the user's total record count
	ListUsageRecords(ctx context.Context, userID string, limit, offset int) ([]UsageRecord, int, error)

	// increments InterviewsCompleted and consumes the lifetime free interview.
	// reports whether this call was the one that consumed it.
	MarkFreeInterviewUsed(ctx context.Context, userID string) (*Account, bool, error)

	// grants credits at most once per calendar day
	ClaimDailyFreeCredits(ctx context.Context, userID string, day time.Time, credits int64) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// truncates t to its UTC calendar day, the daily grant boundary
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
