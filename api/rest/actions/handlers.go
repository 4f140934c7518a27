package actions

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/errors"
	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/quota"
	"codeberg.org/interviewkit/server/internal/retry"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/usage"
	"codeberg.org/interviewkit/server/internal/x402"
)

// Handler runs one metered action: price it, settle an attached payment
// proof, gate it, perform it and record it
func Handler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, _ := auth.GetUserID(c)

		action, err := quota.Parse(c.Param("action"))
		if err != nil {
			errors.PolicyError(c, err)
			return
		}

		var req Request
		if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
			errors.ValidationError(c, err)
			return
		}

		cost, err := quota.Cost(action, len(req.Items))
		if err != nil {
			errors.PolicyError(c, err)
			return
		}

		// settle the proof first so a resubmitted request is not refused again
		var settled *settlement.VerifyResult
		var proof *x402.Proof

		if header := c.GetHeader(x402.HeaderPayment); header != "" {
			proof, err = x402.ParseProof(header)
			if err != nil {
				errors.BadRequest(c, "malformed payment proof", err)
				return
			}

			settled, err = svc.settle(ctx, userID, proof, cost)
			if err != nil {
				respondSettlement(c, err)
				return
			}

			if !settled.Success {
				errors.PaymentRejected(c, settled.Reason, proof.Transaction)
				return
			}
		}

		paymentJustVerified := settled.FreshlyCredited()

		check, err := svc.Gate.Check(ctx, userID, action, cost, paymentJustVerified)
		if err != nil {
			errors.Respond(c, "failed to check usage", err)
			return
		}

		if !check.Allowed {
			paymentRequired(c, action, check, &req)
			return
		}

		payload, err := json.Marshal(performPayload{
			Payload:  req.Payload,
			Items:    req.Items,
			Question: req.Question,
			Answer:   req.Answer,
		})
		if err != nil {
			errors.InternalError(c, "failed to encode action payload", err)
			return
		}

		result, err := svc.Performer.Perform(ctx, string(action), payload)
		if err != nil {
			// the credited payment already paid for this action; give it back
			if paymentJustVerified && cost > 0 {
				if rerr := svc.Recorder.Refund(context.WithoutCancel(ctx), userID, cost); rerr != nil {
					logger.ErrorErr(rerr, "failed to refund consumed credits",
						"user_id", userID,
						"action", action,
						"credits", cost,
					)
				}
			}

			if retry.IsTransient(err) {
				errors.ServiceUnavailable(c, "action temporarily unavailable, please retry", err)
				return
			}

			errors.UpstreamError(c, "action failed", err)
			return
		}

		// the action already ran; recording must not be cut short by the client leaving
		recorded := svc.Recorder.Record(context.WithoutCancel(ctx), usage.RecordRequest{
			UserID:              userID,
			Action:              action,
			Cost:                cost,
			FreeInterview:       check.FreeInterview,
			PaymentJustVerified: paymentJustVerified,
		})

		resp := Response{
			Action:            string(action),
			Result:            result,
			Cost:              cost,
			Remaining:         check.Remaining,
			FreeInterviewUsed: recorded.FreeInterview,
			RecordingFailed:   recorded.Err != nil,
		}

		if recorded.Account != nil {
			resp.Remaining = recorded.Remaining
			resp.FreeInterviewAvailable = recorded.FreeInterviewAvailable
		}

		if settled != nil {
			resp.CreditsAdded = creditsAdded(settled)
			writeReceipt(c, svc.Pricing, settled, proof, action, userID)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// verifies proof, consuming cost out of the purchased credits when it is
// credited by this call
func (s *Service) settle(ctx context.Context, userID string, proof *x402.Proof, cost int64) (*settlement.VerifyResult, error) {
	if proof.Network != "" && proof.Network != s.Pricing.Network {
		return nil, &quota.PolicyError{Reason: "unsupported payment network " + proof.Network}
	}

	expected := max(proof.Credits, cost)

	return s.Verifier.Verify(ctx, settlement.VerifyRequest{
		TransactionRef:  proof.Transaction,
		UserID:          userID,
		ExpectedCredits: expected,
		ExpectedToken:   proof.Token,
		ConsumeCredits:  cost,
	})
}

// maps a verifier error to its response
func respondSettlement(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, settlement.ErrAnonymous):
		errors.Unauthorized(c, "sign in to purchase credits")
	case stderrors.Is(err, settlement.ErrPaymentPending):
		errors.PaymentPending(c)
	default:
		errors.Respond(c, "failed to verify payment", err)
	}
}

func paymentRequired(c *gin.Context, action quota.Action, check *usage.CheckResult, req *Request) {
	x402.WriteHeaders(c.Writer.Header(), check.PaymentRequired)

	c.JSON(http.StatusPaymentRequired, x402.PaymentRequiredBody{
		Error:            errors.CodePaymentRequired,
		Message:          "insufficient credits, payment required",
		NeedsPayment:     true,
		CreditsAvailable: check.CreditsAvailable,
		Cost:             check.Cost,
		PaymentRequired:  check.PaymentRequired,
		Action:           string(action),
		Question:         req.Question,
		Answer:           req.Answer,
	})
}

// credits this request granted; a replayed proof granted none
func creditsAdded(settled *settlement.VerifyResult) int64 {
	if !settled.FreshlyCredited() {
		return 0
	}

	return settled.CreditsAdded
}

func writeReceipt(c *gin.Context, pricing *x402.Pricing, settled *settlement.VerifyResult, proof *x402.Proof, action quota.Action, userID string) {
	receipt, err := x402.EncodeReceipt(&x402.Receipt{
		Success:      settled.Success,
		TxRef:        proof.Transaction,
		Network:      pricing.Network,
		CreditsAdded: creditsAdded(settled),
		Operation:    string(action),
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
	})
	if err != nil {
		logger.ErrorErr(err, "failed to encode payment receipt", "tx_ref", proof.Transaction)
		return
	}

	c.Header(x402.HeaderPaymentResponse, receipt)
}
