package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/config"
	"codeberg.org/interviewkit/server/internal/errors"
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/retry"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/x402"
)

const (
	testSecret = "test-secret"
	recipient  = "RecipientWa11et1111111111111111111111111111"
	usdcMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	usdtMint   = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

type fakeChain struct {
	mu  sync.Mutex
	txs map[string]*settlement.ChainTransaction
}

func (f *fakeChain) GetTransaction(_ context.Context, signature string) (*settlement.ChainTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if tx, ok := f.txs[signature]; ok {
		return tx, nil
	}

	return nil, retry.Transient(settlement.ErrTxNotFound)
}

func setup(t *testing.T) (*gin.Engine, *ledger.MemoryStore, *fakeChain) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := ledger.NewMemoryStore()
	chain := &fakeChain{txs: make(map[string]*settlement.ChainTransaction)}

	pricing := x402.NewPricing(config.PaymentConfig{
		Recipient:       recipient,
		Network:         "solana",
		USDCMint:        usdcMint,
		USDTMint:        usdtMint,
		UnitPriceMicros: 250_000,
	})

	verifier := settlement.NewVerifier(store, chain, pricing, settlement.Options{
		MaxAge:        24 * time.Hour,
		StaleAfter:    time.Minute,
		LedgerTimeout: time.Second,
		Retry: retry.Policy{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      2,
			MaxElapsed:      time.Second,
		},
	})

	router := gin.New()
	RegisterRoutes(router.Group("/api/v1"), testSecret, verifier, pricing, func(c *gin.Context) { c.Next() })

	return router, store, chain
}

func paid(sig, mint string, amount int64) *settlement.ChainTransaction {
	bt := time.Now().UTC()

	return &settlement.ChainTransaction{
		Signature: sig,
		BlockTime: &bt,
		Transfers: []settlement.TokenTransfer{{Owner: recipient, Mint: mint, Amount: amount}},
	}
}

func request(t *testing.T, router *gin.Engine, method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	if userID != "" {
		token, err := auth.GenerateJWT(testSecret, userID, "")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func TestVerifyHandler_CreditsOnce(t *testing.T) {
	router, store, chain := setup(t)
	sig := strings.Repeat("B", 64)
	chain.txs[sig] = paid(sig, usdcMint, 1_000_000)

	w := request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", VerifyRequest{Transaction: sig, Credits: 4}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(4), resp.CreditsAdded)
	assert.Equal(t, int64(4), resp.Balance)
	assert.False(t, resp.AlreadyCredited)

	receipt, err := x402.DecodeReceipt(w.Header().Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.Equal(t, operationPurchase, receipt.Operation)

	w = request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", VerifyRequest{Transaction: sig}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.AlreadyCredited)

	acc, err := store.GetOrCreateAccount(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), acc.CreditBalance)
}

func TestVerifyHandler_ProofHeader(t *testing.T) {
	router, _, chain := setup(t)
	sig := strings.Repeat("C", 64)
	chain.txs[sig] = paid(sig, usdtMint, 500_000)

	proof, err := x402.EncodeProof(&x402.Proof{Transaction: sig, Token: "USDT", Credits: 2})
	require.NoError(t, err)

	w := request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", nil, map[string]string{x402.HeaderPayment: proof})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.CreditsAdded)
}

func TestVerifyHandler_Rejections(t *testing.T) {
	router, _, chain := setup(t)

	short := strings.Repeat("D", 64)
	chain.txs[short] = paid(short, usdcMint, 100_000)

	w := request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", VerifyRequest{Transaction: short}, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), settlement.ReasonAmountMismatch)

	missing := strings.Repeat("E", 64)
	w = request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", VerifyRequest{Transaction: missing}, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), settlement.ReasonNotFound)

	w = request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", VerifyRequest{Transaction: short, Token: "DOGE"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), errors.CodePolicyError)
}

func TestVerifyHandler_RequiresTransaction(t *testing.T) {
	router, _, _ := setup(t)

	w := request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, router, http.MethodPost, "/api/v1/payments/verify", "", VerifyRequest{Transaction: "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusHandler_OwnerOnly(t *testing.T) {
	router, _, chain := setup(t)
	sig := strings.Repeat("F", 64)
	chain.txs[sig] = paid(sig, usdcMint, 250_000)

	w := request(t, router, http.MethodPost, "/api/v1/payments/verify", "user1", VerifyRequest{Transaction: sig}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = request(t, router, http.MethodGet, "/api/v1/payments/"+sig, "user1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ledger.StatusCredited, resp.Transaction.Status)
	assert.Equal(t, int64(1), resp.Transaction.CreditsGranted)

	w = request(t, router, http.MethodGet, "/api/v1/payments/"+sig, "user2", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, router, http.MethodGet, "/api/v1/payments/unknown", "user1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuoteHandler(t *testing.T) {
	router, _, _ := setup(t)

	w := request(t, router, http.MethodGet, "/api/v1/payments/quote?credits=8", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp QuoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2.00", resp.PaymentRequired.AmountUSD)
	assert.Equal(t, int64(8), resp.PaymentRequired.Credits)
	assert.Equal(t, recipient, resp.PaymentRequired.RecipientAddress)

	w = request(t, router, http.MethodGet, "/api/v1/payments/quote?credits=0", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
