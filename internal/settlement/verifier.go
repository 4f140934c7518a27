package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeberg.org/interviewkit/server/internal/config"
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/quota"
	"codeberg.org/interviewkit/server/internal/retry"
	"codeberg.org/interviewkit/server/internal/x402"
)

const (
	defaultPollInterval = 200 * time.Millisecond
	defaultPollTimeout  = 5 * time.Second
)

// verifier settings
type Options struct {
	// transactions older than this are rejected (0 disables the check)
	MaxAge time.Duration

	// a pending row claimed longer ago than this may be re-claimed
	StaleAfter time.Duration

	// how long after its first claim a reference the chain cannot find is
	// still treated as not yet confirmed (0 rejects on the first miss)
	NotFoundGrace time.Duration

	// bounds one RPC call; the retry policy bounds the whole confirmation
	AttemptTimeout time.Duration
	LedgerTimeout  time.Duration
	Retry          retry.Policy

	// how a losing caller waits for the winner
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// builds options from payment configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxAge:         cfg.Payment.MaxAge,
		StaleAfter:     cfg.Payment.StaleAfter,
		NotFoundGrace:  cfg.Payment.NotFoundGrace,
		AttemptTimeout: cfg.Payment.SettlementTimeout,
		LedgerTimeout:  cfg.LedgerTimeout,
		Retry:          retry.DefaultPolicy(),
		PollInterval:   defaultPollInterval,
		PollTimeout:    defaultPollTimeout,
	}
}

// confirms payments on chain and credits them through the ledger
type Verifier struct {
	store   ledger.Store
	chain   ChainClient
	pricing *x402.Pricing
	opts    Options
	now     func() time.Time
}

func NewVerifier(store ledger.Store, chain ChainClient, pricing *x402.Pricing, opts Options) *Verifier {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}

	return &Verifier{
		store:   store,
		chain:   chain,
		pricing: pricing,
		opts:    opts,
		now:     time.Now,
	}
}

func (v *Verifier) ledgerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.opts.LedgerTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, v.opts.LedgerTimeout)
}

// verifies a payment proof and credits it at most once. a returned error is
// either a policy error, ErrAnonymous, ErrPaymentPending or a transient
// failure; definitive verdicts come back as a result with a Reason.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.UserID == "" {
		return nil, ErrAnonymous
	}

	if req.TransactionRef == "" {
		return nil, &quota.PolicyError{Reason: "missing transaction reference"}
	}

	if req.ExpectedCredits <= 0 {
		req.ExpectedCredits = 1
	}

	if req.ExpectedCredits > x402.MaxCredits {
		return nil, &quota.PolicyError{Reason: fmt.Sprintf("at most %d credits per payment", x402.MaxCredits)}
	}

	if req.ConsumeCredits < 0 || req.ConsumeCredits > req.ExpectedCredits {
		return nil, &quota.PolicyError{Reason: "consumed credits exceed the purchase"}
	}

	if req.ExpectedToken != "" {
		if _, ok := v.pricing.Token(req.ExpectedToken); !ok {
			return nil, &quota.PolicyError{Reason: fmt.Sprintf("unsupported token %q", req.ExpectedToken)}
		}
	}

	lctx, cancel := v.ledgerCtx(ctx)
	claim, err := v.store.InsertOrFetchTransaction(lctx, req.TransactionRef, req.UserID, v.opts.StaleAfter)
	cancel()

	if err != nil {
		return nil, fmt.Errorf("failed to claim transaction: %w", err)
	}

	if !claim.IsNew {
		return v.awaitExisting(ctx, req, claim.Transaction)
	}

	return v.confirm(ctx, req, claim.Transaction)
}

// resolves a reference some earlier or concurrent request owns
func (v *Verifier) awaitExisting(ctx context.Context, req VerifyRequest, row *ledger.SettlementTransaction) (*VerifyResult, error) {
	deadline := v.now().Add(v.opts.PollTimeout)

	for {
		if row.UserID != req.UserID {
			return &VerifyResult{Reason: ReasonClaimed}, nil
		}

		switch row.Status {
		case ledger.StatusCredited:
			return v.credited(ctx, req.UserID, row), nil
		case ledger.StatusRejected:
			return &VerifyResult{Reason: row.Reason, Transaction: row}, nil
		}

		if !v.now().Before(deadline) {
			return nil, ErrPaymentPending
		}

		select {
		case <-ctx.Done():
			return nil, retry.Transient(ctx.Err())
		case <-time.After(v.opts.PollInterval):
		}

		lctx, cancel := v.ledgerCtx(ctx)
		next, err := v.store.GetTransaction(lctx, req.TransactionRef)
		cancel()

		if err != nil {
			return nil, fmt.Errorf("failed to poll transaction: %w", err)
		}

		row = next
	}
}

func (v *Verifier) credited(ctx context.Context, userID string, row *ledger.SettlementTransaction) *VerifyResult {
	res := &VerifyResult{
		Success:         true,
		AlreadyCredited: true,
		CreditsAdded:    row.CreditsGranted,
		Transaction:     row,
	}

	lctx, cancel := v.ledgerCtx(ctx)
	defer cancel()

	if acc, err := v.store.GetOrCreateAccount(lctx, userID); err == nil {
		res.Balance = acc.CreditBalance
	}

	return res
}

// phase two: only the caller holding a fresh claim gets here
func (v *Verifier) confirm(ctx context.Context, req VerifyRequest, claimed *ledger.SettlementTransaction) (*VerifyResult, error) {
	tx, err := retry.Do(ctx, v.opts.Retry, func(ctx context.Context) (*ChainTransaction, error) {
		if v.opts.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, v.opts.AttemptTimeout)
			defer cancel()
		}

		return v.chain.GetTransaction(ctx, req.TransactionRef)
	})

	var rpcErr *RPCError

	switch {
	case err == nil:
	case errors.Is(err, ErrTxNotFound):
		// both timestamps come from the ledger clock
		if claimed.ClaimedAt.Sub(claimed.CreatedAt) < v.opts.NotFoundGrace {
			v.release(ctx, req)

			return nil, retry.Transient(fmt.Errorf("transaction %s not confirmed yet: %w", req.TransactionRef, err))
		}

		return v.reject(ctx, req, ReasonNotFound)
	case errors.As(err, &rpcErr) && !retry.IsTransient(err):
		// the node refused the reference itself (malformed signature)
		return v.reject(ctx, req, ReasonNotFound)
	default:
		logger.Warn("settlement network unavailable, leaving payment pending",
			"transaction_ref", req.TransactionRef,
			"user_id", req.UserID,
			"error", err,
		)

		v.release(ctx, req)

		return nil, retry.Transient(fmt.Errorf("failed to query settlement network: %w", err))
	}

	token, received, reason := v.evaluate(req, tx)
	if reason != "" {
		return v.reject(ctx, req, reason)
	}

	credits := v.pricing.CreditsFor(token, received)

	lctx, cancel := v.ledgerCtx(ctx)
	res, err := v.store.CreditAndMarkTransaction(lctx, ledger.CreditRequest{
		TransactionRef: req.TransactionRef,
		UserID:         req.UserID,
		Token:          token.Symbol,
		AmountPaid:     received,
		Credits:        credits,
		Consume:        req.ConsumeCredits,
	})
	cancel()

	switch {
	case errors.Is(err, ledger.ErrTransactionOwner):
		return &VerifyResult{Reason: ReasonClaimed}, nil
	case errors.Is(err, ledger.ErrTransactionRejected):
		lctx, cancel := v.ledgerCtx(ctx)
		row, gerr := v.store.GetTransaction(lctx, req.TransactionRef)
		cancel()

		if gerr != nil {
			return nil, fmt.Errorf("failed to load rejected transaction: %w", gerr)
		}

		return &VerifyResult{Reason: row.Reason, Transaction: row}, nil
	case err != nil:
		// the ledger may have committed before a later step failed (cache
		// invalidation); a caller retrying would otherwise be charged twice
		if res := v.committedCredit(ctx, req); res != nil {
			logger.ErrorErr(err, "payment credited with a failed follow-up step",
				"transaction_ref", req.TransactionRef,
				"user_id", req.UserID,
			)

			return res, nil
		}

		return nil, fmt.Errorf("failed to credit transaction: %w", err)
	}

	logger.Info("payment credited",
		"transaction_ref", req.TransactionRef,
		"user_id", req.UserID,
		"token", token.Symbol,
		"amount", received,
		"credits", res.Credits,
		"already_credited", res.AlreadyCredited,
	)

	return &VerifyResult{
		Success:         true,
		CreditsAdded:    res.Credits,
		AlreadyCredited: res.AlreadyCredited,
		Balance:         res.Balance,
		Transaction:     res.Transaction,
	}, nil
}

// hands the claim back so the client's next submission checks again
func (v *Verifier) release(ctx context.Context, req VerifyRequest) {
	lctx, cancel := v.ledgerCtx(context.WithoutCancel(ctx))
	defer cancel()

	if err := v.store.ReleaseTransaction(lctx, req.TransactionRef, req.UserID); err != nil {
		logger.ErrorErr(err, "failed to release payment claim", "transaction_ref", req.TransactionRef)
	}
}

// reports the credit this caller's claim committed, if the row shows one
func (v *Verifier) committedCredit(ctx context.Context, req VerifyRequest) *VerifyResult {
	lctx, cancel := v.ledgerCtx(context.WithoutCancel(ctx))
	defer cancel()

	row, err := v.store.GetTransaction(lctx, req.TransactionRef)
	if err != nil || row.Status != ledger.StatusCredited || row.UserID != req.UserID {
		return nil
	}

	res := &VerifyResult{
		Success:      true,
		CreditsAdded: row.CreditsGranted,
		Transaction:  row,
	}

	if acc, err := v.store.GetOrCreateAccount(lctx, req.UserID); err == nil {
		res.Balance = acc.CreditBalance
	}

	return res
}

// checks recipient, token, amount, status and age. returns the paying token
// and amount received, or a rejection reason.
func (v *Verifier) evaluate(req VerifyRequest, tx *ChainTransaction) (x402.Token, int64, string) {
	if tx.Failed {
		return x402.Token{}, 0, ReasonFailedOnChain
	}

	if v.opts.MaxAge > 0 && tx.BlockTime != nil && v.now().Sub(*tx.BlockTime) > v.opts.MaxAge {
		return x402.Token{}, 0, ReasonExpired
	}

	recipient := v.pricing.Recipient

	var expected *x402.Token
	if req.ExpectedToken != "" {
		t, _ := v.pricing.Token(req.ExpectedToken)
		expected = &t
	}

	var paid x402.Token
	var received int64

	for _, t := range v.pricing.Tokens {
		if amount := tx.Received(recipient, t.Mint); amount > received {
			paid, received = t, amount
		}
	}

	if received == 0 {
		if tx.receivedAny(recipient) {
			return x402.Token{}, 0, ReasonWrongToken
		}

		return x402.Token{}, 0, ReasonWrongRecipient
	}

	if expected != nil && expected.Mint != paid.Mint {
		return x402.Token{}, 0, ReasonWrongToken
	}

	if received < v.pricing.ExpectedAmount(paid, req.ExpectedCredits) {
		return x402.Token{}, 0, ReasonAmountMismatch
	}

	return paid, received, ""
}

func (v *Verifier) reject(ctx context.Context, req VerifyRequest, reason string) (*VerifyResult, error) {
	lctx, cancel := v.ledgerCtx(ctx)
	row, err := v.store.MarkRejected(lctx, req.TransactionRef, reason)
	cancel()

	if err != nil {
		return nil, fmt.Errorf("failed to reject transaction: %w", err)
	}

	if row.Status == ledger.StatusCredited {
		return v.credited(ctx, req.UserID, row), nil
	}

	logger.Info("payment rejected",
		"transaction_ref", req.TransactionRef,
		"user_id", req.UserID,
		"reason", row.Reason,
	)

	return &VerifyResult{Reason: row.Reason, Transaction: row}, nil
}

// returns the stored row for a reference, restricted to its owner
func (v *Verifier) Status(ctx context.Context, ref, userID string) (*ledger.SettlementTransaction, error) {
	lctx, cancel := v.ledgerCtx(ctx)
	defer cancel()

	row, err := v.store.GetTransaction(lctx, ref)
	if err != nil {
		return nil, err
	}

	if row.UserID != userID {
		return nil, ledger.ErrTransactionNotFound
	}

	return row, nil
}
