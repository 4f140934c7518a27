package payments

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/errors"
	"codeberg.org/interviewkit/server/internal/ledger"
	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/x402"
)

// VerifyHandler credits a payment without running an action
func VerifyHandler(verifier *settlement.Verifier, pricing *x402.Pricing) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "sign in to purchase credits")
			return
		}

		var req VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
			errors.ValidationError(c, err)
			return
		}

		if header := c.GetHeader(x402.HeaderPayment); header != "" && req.Transaction == "" {
			proof, err := x402.ParseProof(header)
			if err != nil {
				errors.BadRequest(c, "malformed payment proof", err)
				return
			}

			req.Transaction = proof.Transaction
			if req.Token == "" {
				req.Token = proof.Token
			}

			if req.Credits == 0 {
				req.Credits = proof.Credits
			}
		}

		if req.Transaction == "" {
			errors.BadRequest(c, "transaction is required", nil)
			return
		}

		res, err := verifier.Verify(c.Request.Context(), settlement.VerifyRequest{
			TransactionRef:  req.Transaction,
			UserID:          userID,
			ExpectedCredits: req.Credits,
			ExpectedToken:   req.Token,
		})

		switch {
		case stderrors.Is(err, settlement.ErrPaymentPending):
			errors.PaymentPending(c)
			return
		case err != nil:
			errors.Respond(c, "failed to verify payment", err)
			return
		}

		if !res.Success {
			errors.PaymentRejected(c, res.Reason, req.Transaction)
			return
		}

		receipt, err := x402.EncodeReceipt(&x402.Receipt{
			Success:      true,
			TxRef:        req.Transaction,
			Network:      pricing.Network,
			CreditsAdded: res.CreditsAdded,
			Operation:    operationPurchase,
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
		})
		if err != nil {
			logger.ErrorErr(err, "failed to encode payment receipt", "tx_ref", req.Transaction)
		} else {
			c.Header(x402.HeaderPaymentResponse, receipt)
		}

		c.JSON(http.StatusOK, verifyResponse(req.Transaction, res))
	}
}

// StatusHandler returns the caller's settlement transaction by reference
func StatusHandler(verifier *settlement.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "")
			return
		}

		row, err := verifier.Status(c.Request.Context(), c.Param("ref"), userID)
		if err != nil {
			if stderrors.Is(err, ledger.ErrTransactionNotFound) {
				errors.NotFound(c, "transaction")
				return
			}

			errors.Respond(c, "failed to load transaction", err)
			return
		}

		c.JSON(http.StatusOK, StatusResponse{Transaction: row})
	}
}

// QuoteHandler returns payment terms for buying credits ahead of use
func QuoteHandler(pricing *x402.Pricing) gin.HandlerFunc {
	return func(c *gin.Context) {
		credits := int64(1)

		if raw := c.Query("credits"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 1 || n > maxPurchaseCredits {
				errors.BadRequest(c, fmt.Sprintf("credits must be between 1 and %d", maxPurchaseCredits), nil)
				return
			}

			credits = n
		}

		c.JSON(http.StatusOK, QuoteResponse{
			PaymentRequired: pricing.Require(operationPurchase, credits),
		})
	}
}
