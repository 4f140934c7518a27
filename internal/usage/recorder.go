package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/quota"
)

// books an action after it has run: debit, audit record, interview counters
type Recorder struct {
	store   ledger.Store
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(store ledger.Store, timeout time.Duration) *Recorder {
	return &Recorder{
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// records a successfully executed action. failures never undo the action;
// they are logged and returned in RecordResult.Err.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) *RecordResult {
	if req.UserID == "" {
		return &RecordResult{}
	}

	res := &RecordResult{Recorded: true}
	var errs []error

	free, err := r.settleFreeInterview(ctx, req)
	if err != nil {
		errs = append(errs, err)
	}

	if req.Cost > 0 && !req.PaymentJustVerified && !free {
		ok, err := r.debit(ctx, req.UserID, req.Cost)

		switch {
		case err != nil:
			errs = append(errs, err)
		case !ok:
			errs = append(errs, ErrInsufficientAtDebit)
		}
	}

	record := &ledger.UsageRecord{
		ID:                  uuid.NewString(),
		UserID:              req.UserID,
		Action:              string(req.Action),
		Cost:                req.Cost,
		FreeTierUsed:        free,
		PaymentJustVerified: req.PaymentJustVerified,
		Timestamp:           r.now().UTC(),
	}

	if err := r.append(ctx, record); err != nil {
		errs = append(errs, err)
	}

	acc, err := r.account(ctx, req.UserID)
	if err != nil {
		errs = append(errs, err)
	} else {
		res.Account = acc
		res.Remaining = acc.CreditBalance
		res.FreeInterviewAvailable = !acc.FreeInterviewUsed
	}

	res.FreeInterview = free

	if len(errs) > 0 {
		res.Recorded = false
		res.Err = errors.Join(errs...)

		logger.ErrorErr(res.Err, "failed to record usage",
			"user_id", req.UserID,
			"action", req.Action,
			"cost", req.Cost,
		)
	}

	return res
}

func (r *Recorder) debit(ctx context.Context, userID string, cost int64) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.store.TryDebit(ctx, userID, cost)
	if err != nil {
		return false, fmt.Errorf("failed to debit credits: %w", err)
	}

	return ok, nil
}

func (r *Recorder) append(ctx context.Context, record *ledger.UsageRecord) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.AppendUsageRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	return nil
}

// completes the interview flow and decides whether the free interview the
// gate granted still holds. the gate only read the flag, so of two requests
// that both saw it unused, the one that loses the flip pays.
func (r *Recorder) settleFreeInterview(ctx context.Context, req RecordRequest) (bool, error) {
	if quota.IsInterviewFlow(req.Action) {
		acc, consumed, err := r.completeInterview(ctx, req.UserID)
		if acc != nil && !consumed {
			return false, err
		}

		return req.FreeInterview, err
	}

	if !req.FreeInterview {
		return false, nil
	}

	acc, err := r.account(ctx, req.UserID)
	if err != nil {
		return true, err
	}

	return !acc.FreeInterviewUsed, nil
}

func (r *Recorder) completeInterview(ctx context.Context, userID string) (*ledger.Account, bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	acc, consumed, err := r.store.MarkFreeInterviewUsed(ctx, userID)
	if err != nil {
		return acc, consumed, fmt.Errorf("failed to mark interview completed: %w", err)
	}

	return acc, consumed, nil
}

func (r *Recorder) account(ctx context.Context, userID string) (*ledger.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	acc, err := r.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload account: %w", err)
	}

	return acc, nil
}

// gives back credits a proof-carrying request consumed when its action failed
func (r *Recorder) Refund(ctx context.Context, userID string, credits int64) error {
	if userID == "" || credits <= 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.RefundCredits(ctx, userID, credits); err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}

	return nil
}
