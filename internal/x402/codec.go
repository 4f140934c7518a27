package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	ErrNoProof        = errors.New("x402: no payment proof")
	ErrMalformedProof = errors.New("x402: malformed payment proof")
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// settlement signatures are 64 bytes, 87-88 chars in base58
const (
	minSignatureLen = 32
	maxSignatureLen = 128
)

// writes the machine-readable duplicate of a requirement onto h
func WriteHeaders(h http.Header, req *PaymentRequirement) {
	h.Set(HeaderPaymentRequired, "true")
	h.Set(HeaderPaymentAmount, req.AmountUSD)
	h.Set(HeaderPaymentCurrency, req.Currency)
	h.Set(HeaderPaymentRecipient, req.RecipientAddress)
	h.Set(HeaderPaymentTokens, strings.Join(req.AcceptedTokens, ","))
	h.Set(HeaderPaymentNetwork, req.Network)
	h.Set(HeaderPaymentExpires, strconv.Itoa(req.ExpiresInSeconds))
	h.Set(HeaderPaymentCredits, strconv.FormatInt(req.Credits, 10))
	h.Set(HeaderCorrelationID, req.ChallengeMetadata.CorrelationID)
}

// parses an X-PAYMENT header value: either a bare transaction signature or
// base64 encoded JSON {x402Version, scheme, network, payload:{transaction, token, credits}}
func ParseProof(header string) (*Proof, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrNoProof
	}

	if proof, ok := decodeEnvelope(header); ok {
		if !isSignature(proof.Transaction) {
			return nil, fmt.Errorf("%w: invalid transaction reference", ErrMalformedProof)
		}

		if proof.Credits < 0 || proof.Credits > MaxCredits {
			return nil, fmt.Errorf("%w: credits must be between 0 and %d", ErrMalformedProof, MaxCredits)
		}

		return proof, nil
	}

	if !isSignature(header) {
		return nil, ErrMalformedProof
	}

	return &Proof{Transaction: header, Scheme: Scheme, Version: Version}, nil
}

func decodeEnvelope(header string) (*Proof, bool) {
	var raw []byte
	var err error

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		raw, err = enc.DecodeString(header)
		if err == nil {
			break
		}
	}

	if err != nil || len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}

	var env proofEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}

	return &Proof{
		Transaction: strings.TrimSpace(env.Payload.Transaction),
		Token:       env.Payload.Token,
		Credits:     env.Payload.Credits,
		Network:     env.Network,
		Scheme:      env.Scheme,
		Version:     env.X402Version,
	}, true
}

func isSignature(s string) bool {
	if len(s) < minSignatureLen || len(s) > maxSignatureLen {
		return false
	}

	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}

	return true
}

// encodes a proof as the base64 JSON envelope
func EncodeProof(p *Proof) (string, error) {
	env := proofEnvelope{
		X402Version: Version,
		Scheme:      Scheme,
		Network:     p.Network,
		Payload: proofPayload{
			Transaction: p.Transaction,
			Token:       p.Token,
			Credits:     p.Credits,
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proof: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// encodes a receipt for the X-PAYMENT-RESPONSE header
func EncodeReceipt(r *Receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

func DecodeReceipt(header string) (*Receipt, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}

	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return &r, nil
}
