package x402

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"codeberg.org/interviewkit/server/internal/config"
)

// stablecoin precision the unit price is expressed in (micro-USD)
const microsDecimals = 6

// static pricing terms: unit price, recipient, network and token allow-list
type Pricing struct {
	UnitPriceMicros  int64
	Recipient        string
	Network          string
	ExpiresInSeconds int
	Tokens           []Token

	now   func() time.Time
	newID func() string
}

// builds pricing from payment configuration; tokens are USD stablecoins
func NewPricing(cfg config.PaymentConfig) *Pricing {
	expires := cfg.ExpiresSeconds
	if expires <= 0 {
		expires = DefaultExpiresInSeconds
	}

	return &Pricing{
		UnitPriceMicros:  cfg.UnitPriceMicros,
		Recipient:        cfg.Recipient,
		Network:          cfg.Network,
		ExpiresInSeconds: expires,
		Tokens: []Token{
			{Symbol: "USDC", Mint: cfg.USDCMint, Decimals: 6},
			{Symbol: "USDT", Mint: cfg.USDTMint, Decimals: 6},
		},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// finds an accepted token by symbol (case-insensitive) or mint address
func (p *Pricing) Token(symbolOrMint string) (Token, bool) {
	for _, t := range p.Tokens {
		if strings.EqualFold(t.Symbol, symbolOrMint) || t.Mint == symbolOrMint {
			return t, true
		}
	}

	return Token{}, false
}

// symbols of every accepted token
func (p *Pricing) Symbols() []string {
	out := make([]string, 0, len(p.Tokens))
	for _, t := range p.Tokens {
		out = append(out, t.Symbol)
	}

	return out
}

// base units of token that buy one credit
func (p *Pricing) UnitAmount(t Token) int64 {
	amount := p.UnitPriceMicros
	for d := t.Decimals; d > microsDecimals; d-- {
		amount *= 10
	}

	for d := t.Decimals; d < microsDecimals; d++ {
		amount /= 10
	}

	return amount
}

// base units of token owed for credits, saturating at math.MaxInt64
func (p *Pricing) ExpectedAmount(t Token, credits int64) int64 {
	unit := p.UnitAmount(t)
	if unit > 0 && credits > math.MaxInt64/unit {
		return math.MaxInt64
	}

	return credits * unit
}

// whole credits bought by paid base units of token
func (p *Pricing) CreditsFor(t Token, paid int64) int64 {
	unit := p.UnitAmount(t)
	if unit <= 0 || paid <= 0 {
		return 0
	}

	return paid / unit
}

// builds a fresh payment requirement for credits
func (p *Pricing) Require(action string, credits int64) *PaymentRequirement {
	terms := make([]TokenTerms, 0, len(p.Tokens))
	for _, t := range p.Tokens {
		terms = append(terms, TokenTerms{
			Symbol: t.Symbol,
			Mint:   t.Mint,
			Amount: p.ExpectedAmount(t, credits),
		})
	}

	return &PaymentRequirement{
		AmountUSD:        FormatUSD(credits * p.UnitPriceMicros),
		Currency:         Currency,
		AcceptedTokens:   p.Symbols(),
		RecipientAddress: p.Recipient,
		Network:          p.Network,
		ExpiresInSeconds: p.ExpiresInSeconds,
		Credits:          credits,
		ChallengeMetadata: ChallengeMetadata{
			CorrelationID: p.newID(),
			X402Version:   Version,
			Scheme:        Scheme,
			Action:        action,
			IssuedAt:      p.now().UTC(),
			Terms:         terms,
		},
	}
}

// renders micro-dollars as a decimal string with at least two places
func FormatUSD(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}

	frac := fmt.Sprintf("%06d", micros%1_000_000)
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}

	return sign + strconv.FormatInt(micros/1_000_000, 10) + "." + frac
}
