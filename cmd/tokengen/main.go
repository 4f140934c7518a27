// tokengen mints a JWT for local testing of the metered routes and can seed
// the account with credits in the postgres ledger. it also builds X-PAYMENT
// headers for a transaction signature and decodes X-PAYMENT-RESPONSE receipts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/x402"
)

func main() {
	userID := flag.String("user", "", "user id (default: a new uuid)")
	email := flag.String("email", "test@interviewkit.dev", "email claim")
	ttl := flag.Duration("ttl", auth.TokenTTL, "token lifetime")
	credits := flag.Int64("credits", 0, "credits to add to the account (needs DATABASE_URL)")
	proofTx := flag.String("proof", "", "transaction signature to encode as an X-PAYMENT header")
	proofToken := flag.String("proof-token", "", "token symbol for -proof")
	proofCredits := flag.Int64("proof-credits", 0, "credits the -proof payment buys")
	receipt := flag.String("receipt", "", "X-PAYMENT-RESPONSE value to decode")
	flag.Parse()

	if *proofTx != "" || *receipt != "" {
		if err := printPayment(*proofTx, *proofToken, *proofCredits, *receipt); err != nil {
			logger.FatalErr(err, "failed to handle payment header")
		}

		return
	}

	// load environment
	if err := godotenv.Load(); err != nil {
		logger.Warn(".env file not found")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Fatal("JWT_SECRET not set")
	}

	if *userID == "" {
		*userID = uuid.NewString()
	}

	if *credits > 0 {
		if err := seedCredits(*userID, *credits); err != nil {
			logger.FatalErr(err, "failed to seed credits")
		}
	}

	token, err := auth.GenerateJWTWithTTL(secret, *userID, *email, *ttl)
	if err != nil {
		logger.FatalErr(err, "failed to generate JWT")
	}

	fmt.Printf("user id: %s\n\n", *userID)
	fmt.Printf("export TEST_TOKEN=\"%s\"\n", token)
}

func printPayment(tx, token string, credits int64, receipt string) error {
	if tx != "" {
		header, err := x402.EncodeProof(&x402.Proof{
			Transaction: tx,
			Token:       token,
			Credits:     credits,
			Network:     "solana",
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s\n", x402.HeaderPayment, header)
	}

	if receipt != "" {
		r, err := x402.DecodeReceipt(receipt)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(out))
	}

	return nil
}

func seedCredits(userID string, credits int64) error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer db.Close()

	store := ledger.NewPostgresStore(db)
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	if err := store.RefundCredits(ctx, userID, credits); err != nil {
		return err
	}

	acc, err := store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return err
	}

	logger.Info("credits seeded", "user_id", userID, "balance", acc.CreditBalance)
	return nil
}
