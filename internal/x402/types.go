// package x402 implements the HTTP 402 challenge/response exchange: the
// payment requirement returned on denial (body and headers), the proof a
// client resubmits with, and the receipt returned once a proof is credited.
package x402

import "time"

const (
	Version  = 1
	Scheme   = "exact"
	Currency = "USD"

	// default pricing-freshness window, advisory only
	DefaultExpiresInSeconds = 300

	// upper bound on credits one payment may buy
	MaxCredits = 10_000
)

// request and response headers
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	HeaderPaymentRequired  = "X-Payment-Required"
	HeaderPaymentAmount    = "X-Payment-Amount"
	HeaderPaymentCurrency  = "X-Payment-Currency"
	HeaderPaymentRecipient = "X-Payment-Recipient"
	HeaderPaymentTokens    = "X-Payment-Tokens"
	HeaderPaymentNetwork   = "X-Payment-Network"
	HeaderPaymentExpires   = "X-Payment-Expires"
	HeaderPaymentCredits   = "X-Payment-Credits"
	HeaderCorrelationID    = "X-Correlation-Id"
)

// headers browsers must be allowed to read
func ExposedHeaders() []string {
	return []string{
		HeaderPaymentResponse,
		HeaderPaymentRequired,
		HeaderPaymentAmount,
		HeaderPaymentCurrency,
		HeaderPaymentRecipient,
		HeaderPaymentTokens,
		HeaderPaymentNetwork,
		HeaderPaymentExpires,
		HeaderPaymentCredits,
		HeaderCorrelationID,
		"Retry-After",
	}
}

// a fungible payment token accepted on the settlement network
type Token struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
}

// the exact amount owed in one accepted token
type TokenTerms struct {
	Symbol string `json:"symbol"`
	Mint   string `json:"mint"`
	Amount int64  `json:"amount"` // token base units
}

// machine-readable context for the challenge
type ChallengeMetadata struct {
	CorrelationID string       `json:"correlationId"`
	X402Version   int          `json:"x402Version"`
	Scheme        string       `json:"scheme"`
	Action        string       `json:"action,omitempty"`
	IssuedAt      time.Time    `json:"issuedAt"`
	Terms         []TokenTerms `json:"terms"`
}

// returned to the caller on denial, regenerated per denial, never persisted
type PaymentRequirement struct {
	AmountUSD         string            `json:"amountUSD"`
	Currency          string            `json:"currency"`
	AcceptedTokens    []string          `json:"acceptedTokens"`
	RecipientAddress  string            `json:"recipientAddress"`
	Network           string            `json:"network"`
	ExpiresInSeconds  int               `json:"expiresInSeconds"`
	Credits           int64             `json:"credits"`
	ChallengeMetadata ChallengeMetadata `json:"challengeMetadata"`
}

// the JSON body of a 402 response
type PaymentRequiredBody struct {
	Error            string              `json:"error"`
	Message          string              `json:"message"`
	NeedsPayment     bool                `json:"needsPayment"`
	CreditsAvailable int64               `json:"creditsAvailable"`
	Cost             int64               `json:"cost"`
	PaymentRequired  *PaymentRequirement `json:"paymentRequired"`
	Action           string              `json:"action"`

	// echoed so the client can resubmit without re-deriving state
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// a payment proof submitted in the X-PAYMENT header
type Proof struct {
	Transaction string
	Token       string
	Credits     int64
	Network     string
	Scheme      string
	Version     int
}

type proofEnvelope struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     proofPayload `json:"payload"`
}

type proofPayload struct {
	Transaction string `json:"transaction"`
	Token       string `json:"token,omitempty"`
	Credits     int64  `json:"credits,omitempty"`
}

// confirmation returned in X-PAYMENT-RESPONSE after a proof is credited
type Receipt struct {
	Success      bool      `json:"success"`
	TxRef        string    `json:"txRef"`
	Network      string    `json:"network"`
	CreditsAdded int64     `json:"creditsAdded"`
	Operation    string    `json:"operation"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"userId"`
}
