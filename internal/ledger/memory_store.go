package ledger

import (
	"context"
	"sync"
	"time"
)

// implements Store using in-memory storage. every method is one critical
// section, which gives it the same atomicity contract as the postgres store.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	transactions map[string]*SettlementTransaction
	usage        []UsageRecord
	now          func() time.Time
}

// creates a new in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*Account),
		transactions: make(map[string]*SettlementTransaction),
		now:          time.Now,
	}
}

// must be called with s.mu held
func (s *MemoryStore) account(userID string) *Account {
	acc, ok := s.accounts[userID]
	if !ok {
		now := s.now()
		acc = &Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.accounts[userID] = acc
	}

	return acc
}

func copyAccount(a *Account) *Account {
	out := *a
	if a.DailyFreeClaimedDate != nil {
		d := *a.DailyFreeClaimedDate
		out.DailyFreeClaimedDate = &d
	}

	return &out
}

func copyTransaction(t *SettlementTransaction) *SettlementTransaction {
	out := *t
	if t.VerifiedAt != nil {
		v := *t.VerifiedAt
		out.VerifiedAt = &v
	}

	return &out
}

// returns the account, creating an empty one on first sight
func (s *MemoryStore) GetOrCreateAccount(_ context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return copyAccount(s.account(userID)), nil
}

// subtracts amount if the balance covers it
func (s *MemoryStore) TryDebit(_ context.Context, userID string, amount int64) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}

	if amount < 0 {
		return false, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(userID)
	if acc.CreditBalance < amount {
		return false, nil
	}

	acc.CreditBalance -= amount
	acc.UpdatedAt = s.now()
	return true, nil
}

// adds amount back to the balance
func (s *MemoryStore) RefundCredits(_ context.Context, userID string, amount int64) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	if amount < 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(userID)
	acc.CreditBalance += amount
	acc.UpdatedAt = s.now()
	return nil
}

// verifies and credits a pending transaction in one critical section
func (s *MemoryStore) CreditAndMarkTransaction(_ context.Context, req CreditRequest) (*CreditResult, error) {
	if req.UserID == "" {
		return nil, ErrEmptyUserID
	}

	if req.Credits < 0 || req.Consume < 0 || req.Consume > req.Credits {
		return nil, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[req.TransactionRef]
	if !ok {
		return nil, ErrTransactionNotFound
	}

	if tx.UserID != req.UserID {
		return nil, ErrTransactionOwner
	}

	switch tx.Status {
	case StatusCredited:
		return &CreditResult{
			AlreadyCredited: true,
			Credits:         tx.CreditsGranted,
			Balance:         s.account(req.UserID).CreditBalance,
			Transaction:     copyTransaction(tx),
		}, nil
	case StatusRejected:
		return nil, ErrTransactionRejected
	}

	now := s.now()

	tx.Status = StatusVerified
	tx.VerifiedAt = &now
	tx.Token = req.Token
	tx.AmountPaid = req.AmountPaid

	acc := s.account(req.UserID)
	acc.CreditBalance += req.Credits - req.Consume
	acc.UpdatedAt = now

	tx.Status = StatusCredited
	tx.CreditsGranted = req.Credits

	return &CreditResult{
		Credits:     req.Credits,
		Balance:     acc.CreditBalance,
		Transaction: copyTransaction(tx),
	}, nil
}

// inserts a pending row or returns the existing one
func (s *MemoryStore) InsertOrFetchTransaction(_ context.Context, ref, userID string, staleAfter time.Duration) (*ClaimResult, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	tx, ok := s.transactions[ref]
	if !ok {
		tx = &SettlementTransaction{
			TransactionRef: ref,
			Status:         StatusPending,
			UserID:         userID,
			ClaimedAt:      now,
			CreatedAt:      now,
		}
		s.transactions[ref] = tx

		return &ClaimResult{IsNew: true, Transaction: copyTransaction(tx)}, nil
	}

	// a pending row nobody has touched for staleAfter was left by a transient failure
	if tx.Status == StatusPending && tx.UserID == userID && staleAfter > 0 && now.Sub(tx.ClaimedAt) >= staleAfter {
		tx.ClaimedAt = now
		return &ClaimResult{IsNew: true, Transaction: copyTransaction(tx)}, nil
	}

	return &ClaimResult{IsNew: false, Transaction: copyTransaction(tx)}, nil
}

// backdates a pending claim so the next caller re-claims it
func (s *MemoryStore) ReleaseTransaction(_ context.Context, ref, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.transactions[ref]; ok && tx.Status == StatusPending && tx.UserID == userID {
		tx.ClaimedAt = time.Time{}
	}

	return nil
}

// returns a transaction row by reference
func (s *MemoryStore) GetTransaction(_ context.Context, ref string) (*SettlementTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[ref]
	if !ok {
		return nil, ErrTransactionNotFound
	}

	return copyTransaction(tx), nil
}

// moves a non-final row to rejected; final rows are returned unchanged
func (s *MemoryStore) MarkRejected(_ context.Context, ref, reason string) (*SettlementTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[ref]
	if !ok {
		return nil, ErrTransactionNotFound
	}

	if !tx.Status.IsFinal() {
		tx.Status = StatusRejected
		tx.Reason = reason
	}

	return copyTransaction(tx), nil
}

// appends an audit record
func (s *MemoryStore) AppendUsageRecord(_ context.Context, record *UsageRecord) error {
	if record == nil || record.UserID == "" {
		return ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = append(s.usage, *record)
	return nil
}

// counts usage records per action for a user
func (s *MemoryStore) UsageCounts(_ context.Context, userID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, r := range s.usage {
		if r.UserID == userID {
			counts[r.Action]++
		}
	}

	return counts, nil
}

// returns a copy of every usage record for a user, oldest first
func (s *MemoryStore) UsageRecords(userID string) []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []UsageRecord
	for _, r := range s.usage {
		if r.UserID == userID {
			out = append(out, r)
		}
	}

	return out
}

// pages through a user's usage records, newest first
func (s *MemoryStore) ListUsageRecords(_ context.Context, userID string, limit, offset int) ([]UsageRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []UsageRecord
	for i := len(s.usage) - 1; i >= 0; i-- {
		if s.usage[i].UserID == userID {
			mine = append(mine, s.usage[i])
		}
	}

	total := len(mine)
	if offset >= total {
		return []UsageRecord{}, total, nil
	}

	end := min(offset+limit, total)
	return mine[offset:end], total, nil
}

// records a completed interview flow
func (s *MemoryStore) MarkFreeInterviewUsed(_ context.Context, userID string) (*Account, bool, error) {
	if userID == "" {
		return nil, false, ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(userID)
	consumed := !acc.FreeInterviewUsed

	acc.FreeInterviewUsed = true
	acc.InterviewsCompleted++
	acc.UpdatedAt = s.now()

	return copyAccount(acc), consumed, nil
}

// grants credits once per calendar day
func (s *MemoryStore) ClaimDailyFreeCredits(_ context.Context, userID string, day time.Time, credits int64) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}

	if credits <= 0 {
		return false, ErrInvalidAmount
	}

	day = DayOf(day)

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.account(userID)
	if acc.DailyFreeClaimedDate != nil && !acc.DailyFreeClaimedDate.Before(day) {
		return false, nil
	}

	acc.CreditBalance += credits
	acc.DailyFreeClaimedDate = &day
	acc.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
