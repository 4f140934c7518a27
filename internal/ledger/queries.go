package ledger

const (
	createTablesSQL = `
		CREATE TABLE IF NOT EXISTS ledger_accounts (
			user_id TEXT PRIMARY KEY,
			credit_balance BIGINT NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
			free_interview_used BOOLEAN NOT NULL DEFAULT FALSE,
			daily_free_claimed_date DATE,
			interviews_completed BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS settlement_transactions (
			transaction_ref TEXT PRIMARY KEY,
			status TEXT NOT NULL CHECK (status IN ('pending', 'verified', 'credited', 'rejected')),
			token TEXT NOT NULL DEFAULT '',
			amount_paid BIGINT NOT NULL DEFAULT 0,
			credits_granted BIGINT NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			verified_at TIMESTAMP WITH TIME ZONE,
			claimed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_settlement_transactions_user_id ON settlement_transactions(user_id);

		CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			cost BIGINT NOT NULL,
			free_tier_used BOOLEAN NOT NULL DEFAULT FALSE,
			payment_just_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_usage_records_user_action ON usage_records(user_id, action);
		CREATE INDEX IF NOT EXISTS idx_usage_records_user_created ON usage_records(user_id, created_at DESC);
	`

	accountColumns = `user_id, credit_balance, free_interview_used, daily_free_claimed_date, interviews_completed, created_at, updated_at`

	transactionColumns = `transaction_ref, status, token, amount_paid, credits_granted, user_id, reason, verified_at, claimed_at, created_at`

	// the no-op DO UPDATE makes RETURNING yield the existing row
	queryGetOrCreateAccount = `
		INSERT INTO ledger_accounts (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + accountColumns

	queryTryDebit = `
		UPDATE ledger_accounts
		SET credit_balance = credit_balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND credit_balance >= $2
	`

	queryAddCredits = `
		INSERT INTO ledger_accounts (user_id, credit_balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			credit_balance = ledger_accounts.credit_balance + EXCLUDED.credit_balance,
			updated_at = NOW()
		RETURNING credit_balance
	`

	queryInsertTransaction = `
		INSERT INTO settlement_transactions (transaction_ref, status, user_id)
		VALUES ($1, 'pending', $2)
		ON CONFLICT (transaction_ref) DO NOTHING
		RETURNING ` + transactionColumns

	queryReclaimStaleTransaction = `
		UPDATE settlement_transactions
		SET claimed_at = NOW()
		WHERE transaction_ref = $1 AND user_id = $2 AND status = 'pending'
			AND claimed_at <= NOW() - ($3::bigint * INTERVAL '1 microsecond')
		RETURNING ` + transactionColumns

	queryReleaseTransaction = `
		UPDATE settlement_transactions
		SET claimed_at = TIMESTAMPTZ 'epoch'
		WHERE transaction_ref = $1 AND user_id = $2 AND status = 'pending'
	`

	queryGetTransaction = `
		SELECT ` + transactionColumns + `
		FROM settlement_transactions
		WHERE transaction_ref = $1
	`

	queryMarkVerified = `
		UPDATE settlement_transactions
		SET status = 'verified', verified_at = NOW(), token = $3, amount_paid = $4
		WHERE transaction_ref = $1 AND user_id = $2 AND status = 'pending'
	`

	queryMarkCredited = `
		UPDATE settlement_transactions
		SET status = 'credited', credits_granted = $2
		WHERE transaction_ref = $1 AND status = 'verified'
		RETURNING ` + transactionColumns

	queryMarkRejected = `
		UPDATE settlement_transactions
		SET status = 'rejected', reason = $2
		WHERE transaction_ref = $1 AND status IN ('pending', 'verified')
		RETURNING ` + transactionColumns

	queryAppendUsage = `
		INSERT INTO usage_records (id, user_id, action, cost, free_tier_used, payment_just_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	queryUsageCounts = `
		SELECT action, COUNT(*)
		FROM usage_records
		WHERE user_id = $1
		GROUP BY action
	`

	queryListUsage = `
		SELECT id, user_id, action, cost, free_tier_used, payment_just_verified, created_at
		FROM usage_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	queryCountUsage = `SELECT COUNT(*) FROM usage_records WHERE user_id = $1`

	queryConsumeFreeInterview = `
		UPDATE ledger_accounts
		SET free_interview_used = TRUE, updated_at = NOW()
		WHERE user_id = $1 AND free_interview_used = FALSE
	`

	queryCompleteInterview = `
		UPDATE ledger_accounts
		SET interviews_completed = interviews_completed + 1, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + accountColumns

	queryClaimDailyFreeCredits = `
		UPDATE ledger_accounts
		SET credit_balance = credit_balance + $3, daily_free_claimed_date = $2, updated_at = NOW()
		WHERE user_id = $1 AND (daily_free_claimed_date IS NULL OR daily_free_claimed_date < $2)
	`
)
