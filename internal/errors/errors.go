package errors

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/quota"
	"codeberg.org/interviewkit/server/internal/retry"
)

// Error Handling Guidelines:
//
// For HTTP REST handlers:
//   - Use errors.InternalError(), errors.BadRequest(), etc. for critical errors
//     These functions handle both logging and HTTP response automatically
//   - Use errors.Respond() when the error may be a policy, transient or internal failure
//   - Use logger.ErrorErr() only for non-critical errors where processing continues
//   - Never call both logger.ErrorErr() and errors.InternalError() for the same error
//
// For services/repositories/internal packages:
//   - Return wrapped errors with context using fmt.Errorf("context: %w", err)
//   - Mark infrastructure failures with retry.Transient so handlers answer 503
//   - Let the caller (handler) decide how to log and respond

// seconds a client should wait before retrying a transient failure
const DefaultRetryAfter = 2

// returns a 401 unauthorized error
func Unauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "authentication required"
	}

	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error:   CodeUnauthorized,
		Message: message,
	})
}

// returns a 404 not found error
func NotFound(c *gin.Context, resource string) {
	message := "resource not found"

	if resource != "" {
		message = resource + " not found"
	}

	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   CodeNotFound,
		Message: message,
	})
}

// returns a 400 bad request error
func BadRequest(c *gin.Context, message string, err error) {
	if message == "" {
		message = "invalid request"
	}

	response := ErrorResponse{
		Error:   CodeBadRequest,
		Message: message,
	}

	if err != nil {
		response.Details = classifyError(err).sanitized
	}

	c.JSON(http.StatusBadRequest, response)
}

// returns a 400 bad request error for validation failures
func ValidationError(c *gin.Context, err error) {
	message := "validation failed"
	details := ""

	if err != nil {
		details = classifyError(err).sanitized
		if strings.Contains(err.Error(), "binding") || strings.Contains(err.Error(), "validation") {
			message = "request validation failed"
		}
	}

	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   CodeValidationError,
		Message: message,
		Details: details,
	})
}

// returns a 400 for requests the pricing policy refuses (unknown action, malformed payload)
func PolicyError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   CodePolicyError,
		Message: err.Error(),
	})
}

// returns a 402 for a proof that failed verification, with the specific reason
func PaymentRejected(c *gin.Context, reason, txRef string) {
	c.JSON(http.StatusPaymentRequired, PaymentRejectedResponse{
		ErrorResponse: ErrorResponse{
			Error:   CodePaymentRejected,
			Message: "payment rejected: " + reason,
		},
		Reason:         reason,
		TransactionRef: txRef,
	})
}

// returns a 409 while another request is still verifying the same payment
func PaymentPending(c *gin.Context) {
	c.Header("Retry-After", strconv.Itoa(DefaultRetryAfter))
	c.JSON(http.StatusConflict, ErrorResponse{
		Error:   CodePaymentPending,
		Message: "payment verification in progress, retry shortly without paying again",
	})
}

// returns a 503 for transient infrastructure failures; the client should retry
func ServiceUnavailable(c *gin.Context, message string, err error) {
	if message == "" {
		message = "temporarily unavailable, please retry"
	}

	logger.ErrorErr(err, message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"user_id", c.GetString("user_id"),
	)

	c.Header("Retry-After", strconv.Itoa(DefaultRetryAfter))
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   CodeRetryable,
		Message: message,
		Details: classifyError(err).sanitized,
	})
}

// returns a 502 when the language model call failed
func UpstreamError(c *gin.Context, message string, err error) {
	if message == "" {
		message = "upstream service failed"
	}

	logger.ErrorErr(err, message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"user_id", c.GetString("user_id"),
	)

	c.JSON(http.StatusBadGateway, ErrorResponse{
		Error:   CodeUpstreamError,
		Message: message,
		Details: classifyError(err).sanitized,
	})
}

// returns a 500 internal server error
func InternalError(c *gin.Context, message string, err error) {
	if message == "" {
		message = "an error occurred"
	}

	// log full error server-side with context
	logger.ErrorErr(err, message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"user_id", c.GetString("user_id"),
	)

	// return sanitized error to client
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   CodeServerError,
		Message: message,
		Details: classifyError(err).sanitized,
	})
}

// returns a 409 conflict error
func Conflict(c *gin.Context, message string) {
	if message == "" {
		message = "resource conflict"
	}

	c.JSON(http.StatusConflict, ErrorResponse{
		Error:   CodeConflict,
		Message: message,
	})
}

// returns a 429 too many requests error
func TooManyRequests(c *gin.Context, message string) {
	if message == "" {
		message = "too many requests"
	}

	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error:   CodeTooManyRequests,
		Message: message,
	})
}

// picks the response for an error from the metering core: policy errors are
// the client's fault, transient failures are retryable, anything else is ours
func Respond(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, quota.ErrPolicy):
		PolicyError(c, err)
	case retry.IsTransient(err):
		ServiceUnavailable(c, message, err)
	default:
		InternalError(c, message, err)
	}
}
