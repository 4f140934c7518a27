package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"codeberg.org/interviewkit/server/internal/retry"
)

// implements Store using PostgreSQL. atomicity comes from single conditional
// statements and, for crediting, one short transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// creates a new PostgreSQL ledger store
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// creates the required tables if they don't exist
func (s *PostgresStore) Initialize(ctx context.Context) error {
	_, err := s.db.Exec(ctx, createTablesSQL)
	if err != nil {
		return fmt.Errorf("failed to create ledger tables: %w", dbErr(err))
	}

	return nil
}

// server-side SQL errors are verdicts; everything else (pool exhausted,
// connection reset, deadline) is an infrastructure failure worth retrying
func dbErr(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	return retry.Transient(err)
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account

	err := row.Scan(
		&a.UserID,
		&a.CreditBalance,
		&a.FreeInterviewUsed,
		&a.DailyFreeClaimedDate,
		&a.InterviewsCompleted,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func scanTransaction(row pgx.Row) (*SettlementTransaction, error) {
	var t SettlementTransaction
	var status string

	err := row.Scan(
		&t.TransactionRef,
		&status,
		&t.Token,
		&t.AmountPaid,
		&t.CreditsGranted,
		&t.UserID,
		&t.Reason,
		&t.VerifiedAt,
		&t.ClaimedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = TxStatus(status)
	return &t, nil
}

// returns the account, creating an empty one on first sight
func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	acc, err := scanAccount(s.db.QueryRow(ctx, queryGetOrCreateAccount, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", dbErr(err))
	}

	return acc, nil
}

// subtracts amount if the balance covers it
func (s *PostgresStore) TryDebit(ctx context.Context, userID string, amount int64) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}

	if amount < 0 {
		return false, ErrInvalidAmount
	}

	tag, err := s.db.Exec(ctx, queryTryDebit, userID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit account: %w", dbErr(err))
	}

	return tag.RowsAffected() == 1, nil
}

// adds amount back to the balance
func (s *PostgresStore) RefundCredits(ctx context.Context, userID string, amount int64) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	if amount < 0 {
		return ErrInvalidAmount
	}

	var balance int64
	if err := s.db.QueryRow(ctx, queryAddCredits, userID, amount).Scan(&balance); err != nil {
		return fmt.Errorf("failed to refund credits: %w", dbErr(err))
	}

	return nil
}

// verifies and credits a pending transaction inside one database transaction
func (s *PostgresStore) CreditAndMarkTransaction(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	if req.UserID == "" {
		return nil, ErrEmptyUserID
	}

	if req.Credits < 0 || req.Consume < 0 || req.Consume > req.Credits {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", dbErr(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// takes the row lock; a concurrent caller blocks here and then sees 0 rows
	tag, err := tx.Exec(ctx, queryMarkVerified, req.TransactionRef, req.UserID, req.Token, req.AmountPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to mark transaction verified: %w", dbErr(err))
	}

	if tag.RowsAffected() == 0 {
		return s.existingCreditResult(ctx, tx, req)
	}

	row, err := scanTransaction(tx.QueryRow(ctx, queryMarkCredited, req.TransactionRef, req.Credits))
	if err != nil {
		return nil, fmt.Errorf("failed to mark transaction credited: %w", dbErr(err))
	}

	var balance int64
	if err := tx.QueryRow(ctx, queryAddCredits, req.UserID, req.Credits-req.Consume).Scan(&balance); err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", dbErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", dbErr(err))
	}

	return &CreditResult{
		Credits:     req.Credits,
		Balance:     balance,
		Transaction: row,
	}, nil
}

func (s *PostgresStore) existingCreditResult(ctx context.Context, tx pgx.Tx, req CreditRequest) (*CreditResult, error) {
	row, err := scanTransaction(tx.QueryRow(ctx, queryGetTransaction, req.TransactionRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", dbErr(err))
	}

	if row.UserID != req.UserID {
		return nil, ErrTransactionOwner
	}

	switch row.Status {
	case StatusCredited:
		acc, err := scanAccount(tx.QueryRow(ctx, queryGetOrCreateAccount, req.UserID))
		if err != nil {
			return nil, fmt.Errorf("failed to load account: %w", dbErr(err))
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", dbErr(err))
		}

		return &CreditResult{
			AlreadyCredited: true,
			Credits:         row.CreditsGranted,
			Balance:         acc.CreditBalance,
			Transaction:     row,
		}, nil
	case StatusRejected:
		return nil, ErrTransactionRejected
	default:
		return nil, fmt.Errorf("transaction %s in unexpected state %s", row.TransactionRef, row.Status)
	}
}

// inserts a pending row or returns the existing one
func (s *PostgresStore) InsertOrFetchTransaction(ctx context.Context, ref, userID string, staleAfter time.Duration) (*ClaimResult, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	row, err := scanTransaction(s.db.QueryRow(ctx, queryInsertTransaction, ref, userID))
	if err == nil {
		return &ClaimResult{IsNew: true, Transaction: row}, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert transaction: %w", dbErr(err))
	}

	if staleAfter > 0 {
		// the cutoff is taken on the database clock that stamped claimed_at
		row, err = scanTransaction(s.db.QueryRow(ctx, queryReclaimStaleTransaction, ref, userID, staleAfter.Microseconds()))
		if err == nil {
			return &ClaimResult{IsNew: true, Transaction: row}, nil
		}

		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to reclaim transaction: %w", dbErr(err))
		}
	}

	row, err = s.GetTransaction(ctx, ref)
	if err != nil {
		return nil, err
	}

	return &ClaimResult{IsNew: false, Transaction: row}, nil
}

// backdates a pending claim so the next caller re-claims it
func (s *PostgresStore) ReleaseTransaction(ctx context.Context, ref, userID string) error {
	if _, err := s.db.Exec(ctx, queryReleaseTransaction, ref, userID); err != nil {
		return fmt.Errorf("failed to release transaction: %w", dbErr(err))
	}

	return nil
}

// returns a transaction row by reference
func (s *PostgresStore) GetTransaction(ctx context.Context, ref string) (*SettlementTransaction, error) {
	row, err := scanTransaction(s.db.QueryRow(ctx, queryGetTransaction, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", dbErr(err))
	}

	return row, nil
}

// moves a non-final row to rejected; final rows are returned unchanged
func (s *PostgresStore) MarkRejected(ctx context.Context, ref, reason string) (*SettlementTransaction, error) {
	row, err := scanTransaction(s.db.QueryRow(ctx, queryMarkRejected, ref, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetTransaction(ctx, ref)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to reject transaction: %w", dbErr(err))
	}

	return row, nil
}

// appends an audit record
func (s *PostgresStore) AppendUsageRecord(ctx context.Context, record *UsageRecord) error {
	if record == nil || record.UserID == "" {
		return ErrEmptyUserID
	}

	_, err := s.db.Exec(ctx, queryAppendUsage,
		record.ID,
		record.UserID,
		record.Action,
		record.Cost,
		record.FreeTierUsed,
		record.PaymentJustVerified,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", dbErr(err))
	}

	return nil
}

// counts usage records per action for a user
func (s *PostgresStore) UsageCounts(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, queryUsageCounts, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count usage: %w", dbErr(err))
	}

	defer rows.Close()
	counts := make(map[string]int64)

	for rows.Next() {
		var action string
		var n int64

		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan usage count: %w", err)
		}

		counts[action] = n
	}

	return counts, dbErr(rows.Err())
}

// pages through a user's usage records, newest first
func (s *PostgresStore) ListUsageRecords(ctx context.Context, userID string, limit, offset int) ([]UsageRecord, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, queryCountUsage, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count usage records: %w", dbErr(err))
	}

	rows, err := s.db.Query(ctx, queryListUsage, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list usage records: %w", dbErr(err))
	}

	defer rows.Close()
	records := make([]UsageRecord, 0, limit)

	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Action, &r.Cost, &r.FreeTierUsed, &r.PaymentJustVerified, &r.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("failed to scan usage record: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, dbErr(err)
	}

	return records, total, nil
}

// records a completed interview flow
func (s *PostgresStore) MarkFreeInterviewUsed(ctx context.Context, userID string) (*Account, bool, error) {
	if userID == "" {
		return nil, false, ErrEmptyUserID
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", dbErr(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, queryGetOrCreateAccount, userID); err != nil {
		return nil, false, fmt.Errorf("failed to create account: %w", dbErr(err))
	}

	// a concurrent caller blocks on the row lock and then matches 0 rows
	tag, err := tx.Exec(ctx, queryConsumeFreeInterview, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to consume free interview: %w", dbErr(err))
	}

	acc, err := scanAccount(tx.QueryRow(ctx, queryCompleteInterview, userID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark interview completed: %w", dbErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit interview: %w", dbErr(err))
	}

	return acc, tag.RowsAffected() == 1, nil
}

// grants credits once per calendar day
func (s *PostgresStore) ClaimDailyFreeCredits(ctx context.Context, userID string, day time.Time, credits int64) (bool, error) {
	if credits <= 0 {
		return false, ErrInvalidAmount
	}

	// the grant is a conditional update, so the row has to exist first
	if _, err := s.GetOrCreateAccount(ctx, userID); err != nil {
		return false, err
	}

	tag, err := s.db.Exec(ctx, queryClaimDailyFreeCredits, userID, DayOf(day), credits)
	if err != nil {
		return false, fmt.Errorf("failed to claim daily credits: %w", dbErr(err))
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return dbErr(s.db.Ping(ctx))
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
