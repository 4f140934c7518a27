package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func claim(t *testing.T, s Store, ref, userID string) *ClaimResult {
	t.Helper()

	res, err := s.InsertOrFetchTransaction(context.Background(), ref, userID, 0)
	if err != nil {
		t.Fatalf("failed to claim %s: %v", ref, err)
	}

	return res
}

func TestMemoryStore_GetOrCreateAccount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	acc, err := store.GetOrCreateAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if acc.CreditBalance != 0 || acc.FreeInterviewUsed {
		t.Errorf("new account = %+v, want zero balance and unused free interview", acc)
	}

	// returned snapshot must not alias store state
	acc.CreditBalance = 100

	again, _ := store.GetOrCreateAccount(ctx, "user1")
	if again.CreditBalance != 0 {
		t.Errorf("CreditBalance = %d, want 0", again.CreditBalance)
	}

	if _, err := store.GetOrCreateAccount(ctx, ""); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("err = %v, want ErrEmptyUserID", err)
	}
}

func TestMemoryStore_TryDebit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.RefundCredits(ctx, "user1", 3); err != nil {
		t.Fatalf("failed to seed balance: %v", err)
	}

	ok, err := store.TryDebit(ctx, "user1", 2)
	if err != nil || !ok {
		t.Fatalf("TryDebit(2) = %v, %v; want true", ok, err)
	}

	ok, err = store.TryDebit(ctx, "user1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected debit beyond balance to fail")
	}

	acc, _ := store.GetOrCreateAccount(ctx, "user1")
	if acc.CreditBalance != 1 {
		t.Errorf("CreditBalance = %d, want 1", acc.CreditBalance)
	}

	if _, err := store.TryDebit(ctx, "user1", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestMemoryStore_TryDebit_ConcurrentNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const balance = 10
	if err := store.RefundCredits(ctx, "user1", balance); err != nil {
		t.Fatalf("failed to seed balance: %v", err)
	}

	var wg sync.WaitGroup
	var succeeded atomic.Int64

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.TryDebit(ctx, "user1", 1); err == nil && ok {
				succeeded.Add(1)
			}
		}()
	}

	wg.Wait()

	if succeeded.Load() != balance {
		t.Errorf("succeeded = %d, want %d", succeeded.Load(), balance)
	}

	acc, _ := store.GetOrCreateAccount(ctx, "user1")
	if acc.CreditBalance != 0 {
		t.Errorf("CreditBalance = %d, want 0", acc.CreditBalance)
	}
}

func TestMemoryStore_CreditAndMarkTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if res := claim(t, store, "sig1", "user1"); !res.IsNew {
		t.Fatal("expected first claim to be new")
	}

	res, err := store.CreditAndMarkTransaction(ctx, CreditRequest{
		TransactionRef: "sig1",
		UserID:         "user1",
		Token:          "USDC",
		AmountPaid:     500_000,
		Credits:        5,
		Consume:        1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.AlreadyCredited {
		t.Error("expected fresh credit")
	}

	if res.Balance != 4 {
		t.Errorf("Balance = %d, want 4", res.Balance)
	}

	tx, _ := store.GetTransaction(ctx, "sig1")
	if tx.Status != StatusCredited || tx.CreditsGranted != 5 || tx.VerifiedAt == nil {
		t.Errorf("transaction = %+v, want credited with 5 credits", tx)
	}

	// replay is a no-op
	res, err = store.CreditAndMarkTransaction(ctx, CreditRequest{
		TransactionRef: "sig1",
		UserID:         "user1",
		Credits:        5,
		Consume:        1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.AlreadyCredited || res.Balance != 4 {
		t.Errorf("replay = %+v, want already credited with balance 4", res)
	}
}

func TestMemoryStore_CreditAndMarkTransaction_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.CreditAndMarkTransaction(ctx, CreditRequest{TransactionRef: "missing", UserID: "user1", Credits: 1})
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("err = %v, want ErrTransactionNotFound", err)
	}

	claim(t, store, "sig1", "user1")

	_, err = store.CreditAndMarkTransaction(ctx, CreditRequest{TransactionRef: "sig1", UserID: "user2", Credits: 1})
	if !errors.Is(err, ErrTransactionOwner) {
		t.Errorf("err = %v, want ErrTransactionOwner", err)
	}

	_, err = store.CreditAndMarkTransaction(ctx, CreditRequest{TransactionRef: "sig1", UserID: "user1", Credits: 1, Consume: 2})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}

	if _, err := store.MarkRejected(ctx, "sig1", "amount mismatch"); err != nil {
		t.Fatalf("failed to reject: %v", err)
	}

	_, err = store.CreditAndMarkTransaction(ctx, CreditRequest{TransactionRef: "sig1", UserID: "user1", Credits: 1})
	if !errors.Is(err, ErrTransactionRejected) {
		t.Errorf("err = %v, want ErrTransactionRejected", err)
	}

	acc, _ := store.GetOrCreateAccount(ctx, "user1")
	if acc.CreditBalance != 0 {
		t.Errorf("CreditBalance = %d, want 0", acc.CreditBalance)
	}
}

func TestMemoryStore_CreditAndMarkTransaction_ConcurrentCreditsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	claim(t, store, "sig1", "user1")

	var wg sync.WaitGroup
	var fresh atomic.Int64

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.CreditAndMarkTransaction(ctx, CreditRequest{
				TransactionRef: "sig1",
				UserID:         "user1",
				Credits:        3,
			})
			if err == nil && !res.AlreadyCredited {
				fresh.Add(1)
			}
		}()
	}

	wg.Wait()

	if fresh.Load() != 1 {
		t.Errorf("fresh credits = %d, want 1", fresh.Load())
	}

	acc, _ := store.GetOrCreateAccount(ctx, "user1")
	if acc.CreditBalance != 3 {
		t.Errorf("CreditBalance = %d, want 3", acc.CreditBalance)
	}
}

func TestMemoryStore_InsertOrFetchTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	first, err := store.InsertOrFetchTransaction(ctx, "sig1", "user1", time.Minute)
	if err != nil || !first.IsNew {
		t.Fatalf("first claim = %+v, %v; want new", first, err)
	}

	second, err := store.InsertOrFetchTransaction(ctx, "sig1", "user1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.IsNew {
		t.Error("expected fresh pending row to stay with its first claimant")
	}

	now = now.Add(2 * time.Minute)

	// another user never re-claims
	other, _ := store.InsertOrFetchTransaction(ctx, "sig1", "user2", time.Minute)
	if other.IsNew {
		t.Error("expected other user not to re-claim")
	}

	stale, _ := store.InsertOrFetchTransaction(ctx, "sig1", "user1", time.Minute)
	if !stale.IsNew {
		t.Error("expected stale pending row to be re-claimed")
	}

	// the re-claim refreshed claimed_at
	again, _ := store.InsertOrFetchTransaction(ctx, "sig1", "user1", time.Minute)
	if again.IsNew {
		t.Error("expected re-claim to happen once")
	}
}

func TestMemoryStore_InsertOrFetchTransaction_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	var winners atomic.Int64

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.InsertOrFetchTransaction(ctx, "sig1", "user1", time.Minute)
			if err == nil && res.IsNew {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("winners = %d, want 1", winners.Load())
	}
}

func TestMemoryStore_MarkRejected_FinalRowsUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	claim(t, store, "sig1", "user1")
	_, err := store.CreditAndMarkTransaction(ctx, CreditRequest{TransactionRef: "sig1", UserID: "user1", Credits: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tx, err := store.MarkRejected(ctx, "sig1", "late rejection")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tx.Status != StatusCredited {
		t.Errorf("Status = %s, want credited", tx.Status)
	}

	if _, err := store.MarkRejected(ctx, "missing", "x"); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestMemoryStore_UsageRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, action := range []string{"analyze_answer", "analyze_answer", "score_cv"} {
		err := store.AppendUsageRecord(ctx, &UsageRecord{ID: action, UserID: "user1", Action: action, Cost: 1})
		if err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	_ = store.AppendUsageRecord(ctx, &UsageRecord{ID: "other", UserID: "user2", Action: "score_cv"})

	counts, err := store.UsageCounts(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if counts["analyze_answer"] != 2 || counts["score_cv"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	if got := len(store.UsageRecords("user1")); got != 3 {
		t.Errorf("len(UsageRecords) = %d, want 3", got)
	}

	page, total, err := store.ListUsageRecords(ctx, "user1", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if total != 3 || len(page) != 2 || page[0].Action != "score_cv" {
		t.Errorf("first page = %v (total %d), want newest first of 3", page, total)
	}

	page, _, _ = store.ListUsageRecords(ctx, "user1", 2, 4)
	if len(page) != 0 {
		t.Errorf("page past the end = %v, want empty", page)
	}
}

func TestMemoryStore_MarkFreeInterviewUsed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	acc, consumed, err := store.MarkFreeInterviewUsed(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !consumed || !acc.FreeInterviewUsed || acc.InterviewsCompleted != 1 {
		t.Errorf("consumed = %v, account = %+v", consumed, acc)
	}

	acc, consumed, _ = store.MarkFreeInterviewUsed(ctx, "user1")
	if consumed || !acc.FreeInterviewUsed || acc.InterviewsCompleted != 2 {
		t.Errorf("consumed = %v, account = %+v", consumed, acc)
	}
}

func TestMemoryStore_MarkFreeInterviewUsed_ConcurrentSingleConsumer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	var consumers atomic.Int32

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if _, consumed, err := store.MarkFreeInterviewUsed(ctx, "user1"); err == nil && consumed {
				consumers.Add(1)
			}
		}()
	}

	wg.Wait()

	if got := consumers.Load(); got != 1 {
		t.Errorf("consumers = %d, want 1", got)
	}
}

func TestMemoryStore_ClaimDailyFreeCredits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	morning := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	nextDay := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)

	ok, err := store.ClaimDailyFreeCredits(ctx, "user1", morning, 2)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want granted", ok, err)
	}

	ok, _ = store.ClaimDailyFreeCredits(ctx, "user1", evening, 2)
	if ok {
		t.Error("expected second claim on the same day to be refused")
	}

	ok, _ = store.ClaimDailyFreeCredits(ctx, "user1", nextDay, 2)
	if !ok {
		t.Error("expected claim on the next day to be granted")
	}

	acc, _ := store.GetOrCreateAccount(ctx, "user1")
	if acc.CreditBalance != 4 {
		t.Errorf("CreditBalance = %d, want 4", acc.CreditBalance)
	}

	if _, err := store.ClaimDailyFreeCredits(ctx, "user1", nextDay, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}
