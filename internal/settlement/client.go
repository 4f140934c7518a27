package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"codeberg.org/interviewkit/server/internal/retry"
)

// the node has no record of the signature (yet)
var ErrTxNotFound = errors.New("settlement: transaction not found")

// shared HTTP client for RPC calls
var rpcHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// json-rpc error codes that mean "ask again later"
var transientRPCCodes = map[int]bool{
	-32004: true, // block not available for slot
	-32005: true, // node is behind
	-32007: true, // slot skipped or missing in long-term storage
	-32009: true, // slot skipped or missing in long-term storage
	-32014: true, // block status not yet available
	-32016: true, // minimum context slot not reached
	-32603: true, // internal error
}

// a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// queries the settlement network's JSON-RPC API
type RPCClient struct {
	url        string
	commitment string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Int64
}

// creates a client paced at ratePerSecond requests (burst of the same size)
func NewRPCClient(url string, ratePerSecond float64) *RPCClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}

	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}

	return &RPCClient{
		url:        url,
		commitment: "confirmed",
		httpClient: rpcHTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type rpcTransaction struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage `json:"err"`
		PreTokenBalances  []tokenBalance  `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance  `json:"postTokenBalances"`
	} `json:"meta"`
}

type tokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// fetches a confirmed transaction and reduces it to its token movements.
// failures to reach the node are marked transient; a missing transaction is
// ErrTxNotFound, also transient since it may simply not be confirmed yet.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*ChainTransaction, error) {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "getTransaction",
		Params: []any{
			signature,
			map[string]any{
				"encoding":                       "jsonParsed",
				"commitment":                     c.commitment,
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// rate limiting
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Transientf("rate limiter error: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transientf("failed to send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		err := fmt.Errorf("rpc request failed with status %d: %s", resp.StatusCode, string(body))

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(err)
		}

		return nil, err
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, retry.Transientf("failed to decode response: %w", err)
	}

	if rpcResp.Error != nil {
		if transientRPCCodes[rpcResp.Error.Code] {
			return nil, retry.Transient(rpcResp.Error)
		}

		return nil, rpcResp.Error
	}

	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, retry.Transient(ErrTxNotFound)
	}

	var tx rpcTransaction
	if err := json.Unmarshal(rpcResp.Result, &tx); err != nil {
		return nil, retry.Transientf("failed to parse transaction: %w", err)
	}

	return reduce(signature, &tx)
}

func reduce(signature string, tx *rpcTransaction) (*ChainTransaction, error) {
	out := &ChainTransaction{Signature: signature, Slot: tx.Slot}

	if tx.BlockTime != nil {
		bt := time.Unix(*tx.BlockTime, 0).UTC()
		out.BlockTime = &bt
	}

	if tx.Meta == nil {
		// not yet fully processed by this node
		return nil, retry.Transientf("transaction %s has no meta", signature)
	}

	if len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
		out.Failed = true
	}

	pre := make(map[int]int64, len(tx.Meta.PreTokenBalances))
	for _, b := range tx.Meta.PreTokenBalances {
		amount, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pre token amount %q: %w", b.UITokenAmount.Amount, err)
		}

		pre[b.AccountIndex] = amount
	}

	for _, b := range tx.Meta.PostTokenBalances {
		amount, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid post token amount %q: %w", b.UITokenAmount.Amount, err)
		}

		delta := amount - pre[b.AccountIndex]
		if delta == 0 {
			continue
		}

		out.Transfers = append(out.Transfers, TokenTransfer{
			Owner:  b.Owner,
			Mint:   b.Mint,
			Amount: delta,
		})
	}

	return out, nil
}
