package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/interviewkit/server/internal/quota"
	"codeberg.org/interviewkit/server/internal/retry"
)

func respond(t *testing.T, fn func(c *gin.Context)) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/actions/score_cv", nil)

	fn(c)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	return body
}

func TestRespond(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"policy", &quota.PolicyError{Action: "x", Reason: "unknown action"}, http.StatusBadRequest, CodePolicyError},
		{"transient", retry.Transient(errors.New("connection reset")), http.StatusServiceUnavailable, CodeRetryable},
		{"deadline", fmt.Errorf("load account: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, CodeRetryable},
		{"other", errors.New("boom"), http.StatusInternalServerError, CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := respond(t, func(c *gin.Context) { Respond(c, "", tt.err) })

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w).Error)
		})
	}
}

func TestServiceUnavailableSetsRetryAfter(t *testing.T) {
	w := respond(t, func(c *gin.Context) { ServiceUnavailable(c, "", errors.New("timeout")) })

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestPaymentRejected(t *testing.T) {
	w := respond(t, func(c *gin.Context) { PaymentRejected(c, "amount mismatch", "sig1") })

	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var body PaymentRejectedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodePaymentRejected, body.Error)
	assert.Equal(t, "amount mismatch", body.Reason)
	assert.Equal(t, "sig1", body.TransactionRef)
}

func TestPaymentPending(t *testing.T) {
	w := respond(t, PaymentPending)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodePaymentPending, decode(t, w).Error)
}

func TestClassifyError_SanitizesInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	info := classifyError(errors.New("dial tcp 10.0.0.1:5432: connection refused"))
	assert.Equal(t, CategoryNetwork, info.category)
	assert.Equal(t, "connection error occurred", info.sanitized)

	info = classifyError(context.DeadlineExceeded)
	assert.Equal(t, CategoryTimeout, info.category)
}
