package x402

import (
	"encoding/base64"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/interviewkit/server/internal/config"
)

const testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

func testPricing() *Pricing {
	p := NewPricing(config.PaymentConfig{
		Recipient:       "RecipientWa11et1111111111111111111111111111",
		Network:         "solana",
		ExpiresSeconds:  300,
		USDCMint:        "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		USDTMint:        "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		UnitPriceMicros: 100_000,
	})
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	p.newID = func() string { return "corr-1" }

	return p
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		micros int64
		want   string
	}{
		{0, "0.00"},
		{100_000, "0.10"},
		{1_000_000, "1.00"},
		{1_250_000, "1.25"},
		{50_000, "0.05"},
		{1_234_567, "1.234567"},
		{2_500, "0.0025"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUSD(tt.micros), "micros=%d", tt.micros)
	}
}

func TestPricing_Amounts(t *testing.T) {
	p := testPricing()

	usdc, ok := p.Token("usdc")
	require.True(t, ok)

	assert.Equal(t, int64(100_000), p.UnitAmount(usdc))
	assert.Equal(t, int64(500_000), p.ExpectedAmount(usdc, 5))
	assert.Equal(t, int64(5), p.CreditsFor(usdc, 500_000))
	assert.Equal(t, int64(5), p.CreditsFor(usdc, 599_999))
	assert.Equal(t, int64(0), p.CreditsFor(usdc, 99_999))

	byMint, ok := p.Token("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
	require.True(t, ok)
	assert.Equal(t, "USDT", byMint.Symbol)

	_, ok = p.Token("BONK")
	assert.False(t, ok)

	nineDecimals := Token{Symbol: "X", Decimals: 9}
	assert.Equal(t, int64(100_000_000), p.UnitAmount(nineDecimals))

	// a product past int64 saturates instead of wrapping negative
	assert.Equal(t, int64(math.MaxInt64), p.ExpectedAmount(usdc, math.MaxInt64/1000))
	assert.Equal(t, int64(math.MaxInt64), p.ExpectedAmount(nineDecimals, math.MaxInt64))
}

func TestPricing_Require(t *testing.T) {
	p := testPricing()

	req := p.Require("analyze_answer", 3)

	assert.Equal(t, "0.30", req.AmountUSD)
	assert.Equal(t, Currency, req.Currency)
	assert.Equal(t, []string{"USDC", "USDT"}, req.AcceptedTokens)
	assert.Equal(t, p.Recipient, req.RecipientAddress)
	assert.Equal(t, "solana", req.Network)
	assert.Equal(t, 300, req.ExpiresInSeconds)
	assert.Equal(t, int64(3), req.Credits)
	assert.Equal(t, "corr-1", req.ChallengeMetadata.CorrelationID)
	assert.Equal(t, "analyze_answer", req.ChallengeMetadata.Action)
	require.Len(t, req.ChallengeMetadata.Terms, 2)
	assert.Equal(t, int64(300_000), req.ChallengeMetadata.Terms[0].Amount)
}

func TestWriteHeaders(t *testing.T) {
	h := http.Header{}
	WriteHeaders(h, testPricing().Require("score_cv", 1))

	assert.Equal(t, "true", h.Get(HeaderPaymentRequired))
	assert.Equal(t, "0.10", h.Get(HeaderPaymentAmount))
	assert.Equal(t, "USD", h.Get(HeaderPaymentCurrency))
	assert.Equal(t, "USDC,USDT", h.Get(HeaderPaymentTokens))
	assert.Equal(t, "solana", h.Get(HeaderPaymentNetwork))
	assert.Equal(t, "300", h.Get(HeaderPaymentExpires))
	assert.Equal(t, "1", h.Get(HeaderPaymentCredits))
	assert.Equal(t, "corr-1", h.Get(HeaderCorrelationID))
	assert.NotEmpty(t, h.Get(HeaderPaymentRecipient))
}

func TestParseProof(t *testing.T) {
	t.Run("bare signature", func(t *testing.T) {
		p, err := ParseProof("  " + testSignature + " ")
		require.NoError(t, err)
		assert.Equal(t, testSignature, p.Transaction)
		assert.Empty(t, p.Token)
	})

	t.Run("envelope", func(t *testing.T) {
		encoded, err := EncodeProof(&Proof{Transaction: testSignature, Token: "USDT", Credits: 5, Network: "solana"})
		require.NoError(t, err)

		p, err := ParseProof(encoded)
		require.NoError(t, err)
		assert.Equal(t, testSignature, p.Transaction)
		assert.Equal(t, "USDT", p.Token)
		assert.Equal(t, int64(5), p.Credits)
		assert.Equal(t, Version, p.Version)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseProof("   ")
		assert.ErrorIs(t, err, ErrNoProof)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseProof("not a signature!")
		assert.ErrorIs(t, err, ErrMalformedProof)
	})

	t.Run("envelope credits out of range", func(t *testing.T) {
		for _, credits := range []int64{-1, MaxCredits + 1, math.MaxInt64 / 1000} {
			encoded, err := EncodeProof(&Proof{Transaction: testSignature, Credits: credits})
			require.NoError(t, err)

			_, err = ParseProof(encoded)
			assert.ErrorIs(t, err, ErrMalformedProof, "credits %d", credits)
		}
	})

	t.Run("envelope without transaction", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"payload":{"token":"USDC"}}`))
		_, err := ParseProof(encoded)
		assert.ErrorIs(t, err, ErrMalformedProof)
	})
}

func TestReceiptRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Receipt{
		Success:      true,
		TxRef:        testSignature,
		Network:      "solana",
		CreditsAdded: 5,
		Operation:    "analyze_answer",
		Timestamp:    ts,
		UserID:       "user1",
	}

	encoded, err := EncodeReceipt(in)
	require.NoError(t, err)

	out, err := DecodeReceipt(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
