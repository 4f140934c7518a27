package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/quota"
)

// returned when the daily grant is turned off
var ErrDailyCreditsDisabled = errors.New("usage: daily free credits are disabled")

// read side of the ledger plus the opt-in daily grant
type Accounts struct {
	store        ledger.Store
	dailyCredits int64
	timeout      time.Duration
	now          func() time.Time
}

// creates the account service; dailyCredits <= 0 disables the daily grant
func NewAccounts(store ledger.Store, dailyCredits int64, timeout time.Duration) *Accounts {
	return &Accounts{
		store:        store,
		dailyCredits: dailyCredits,
		timeout:      timeout,
		now:          time.Now,
	}
}

// credits granted per daily claim, 0 when disabled
func (a *Accounts) DailyCredits() int64 {
	return max(a.dailyCredits, 0)
}

// returns balance, free tier state, usage counts and the price list
func (a *Accounts) Overview(ctx context.Context, userID string) (*Overview, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	acc, err := a.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	counts, err := a.store.UsageCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage counts: %w", err)
	}

	prices := make(map[string]int64)
	for _, action := range quota.Actions() {
		// batch prices are per item
		cost, err := quota.Cost(action, 1)
		if err != nil {
			continue
		}

		prices[string(action)] = cost
	}

	return &Overview{
		Account:                acc,
		FreeInterviewAvailable: !acc.FreeInterviewUsed,
		UsageCounts:            counts,
		Prices:                 prices,
		DailyFreeCredits:       a.dailyCredits,
	}, nil
}

// grants the daily free credits at most once per UTC day. returns whether a
// grant happened and the balance afterwards.
func (a *Accounts) ClaimDaily(ctx context.Context, userID string) (bool, *ledger.Account, error) {
	if a.dailyCredits <= 0 {
		return false, nil, ErrDailyCreditsDisabled
	}

	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	granted, err := a.store.ClaimDailyFreeCredits(ctx, userID, a.now(), a.dailyCredits)
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim daily credits: %w", err)
	}

	acc, err := a.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return granted, nil, fmt.Errorf("failed to load account: %w", err)
	}

	return granted, acc, nil
}

// returns one page of the user's usage records and the total count
func (a *Accounts) History(ctx context.Context, userID string, limit, offset int) ([]ledger.UsageRecord, int, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	records, total, err := a.store.ListUsageRecords(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list usage records: %w", err)
	}

	return records, total, nil
}
