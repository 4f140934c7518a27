package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/interviewkit/server/internal/retry"
)

const confirmedTx = `{
	"jsonrpc": "2.0",
	"id": 1,
	"result": {
		"slot": 312345678,
		"blockTime": 1767225600,
		"meta": {
			"err": null,
			"preTokenBalances": [
				{"accountIndex": 1, "mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "owner": "Payer", "uiTokenAmount": {"amount": "900000", "decimals": 6}},
				{"accountIndex": 2, "mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "owner": "Recipient", "uiTokenAmount": {"amount": "100", "decimals": 6}}
			],
			"postTokenBalances": [
				{"accountIndex": 1, "mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "owner": "Payer", "uiTokenAmount": {"amount": "400000", "decimals": 6}},
				{"accountIndex": 2, "mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "owner": "Recipient", "uiTokenAmount": {"amount": "500100", "decimals": 6}}
			]
		}
	}
}`

func rpcServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getTransaction", req.Method)
		assert.Len(t, req.Params, 2)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestRPCClient_GetTransaction(t *testing.T) {
	srv := rpcServer(t, http.StatusOK, confirmedTx)
	client := NewRPCClient(srv.URL, 100)

	tx, err := client.GetTransaction(context.Background(), "sig1")
	require.NoError(t, err)

	assert.False(t, tx.Failed)
	require.NotNil(t, tx.BlockTime)
	assert.Equal(t, int64(1767225600), tx.BlockTime.Unix())
	assert.Equal(t, int64(500_000), tx.Received("Recipient", usdcMint))
	assert.Equal(t, int64(0), tx.Received("Payer", usdcMint))
}

func TestRPCClient_FailedTransaction(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"result":{"slot":1,"blockTime":null,"meta":{"err":{"InstructionError":[0,"Custom"]},"preTokenBalances":[],"postTokenBalances":[]}}}`
	client := NewRPCClient(rpcServer(t, http.StatusOK, body).URL, 100)

	tx, err := client.GetTransaction(context.Background(), "sig1")
	require.NoError(t, err)
	assert.True(t, tx.Failed)
	assert.Nil(t, tx.BlockTime)
}

func TestRPCClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		notFound  bool
		transient bool
	}{
		{"null result", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":null}`, true, true},
		{"server error", http.StatusBadGateway, `bad gateway`, false, true},
		{"rate limited", http.StatusTooManyRequests, `slow down`, false, true},
		{"node behind", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`, false, true},
		{"invalid params", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid signature"}}`, false, false},
		{"bad request", http.StatusBadRequest, `nope`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewRPCClient(rpcServer(t, tt.status, tt.body).URL, 100)

			_, err := client.GetTransaction(context.Background(), "sig1")
			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrTxNotFound))
			assert.Equal(t, tt.transient, retry.IsTransient(err))
		})
	}
}
