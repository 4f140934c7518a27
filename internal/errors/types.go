package errors

// represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`             // error code (e.g., "unauthorized", "payment_rejected")
	Message string `json:"message"`           // user-friendly message
	Details string `json:"details,omitempty"` // optional details (sanitized in production)
}

// response for a payment proof that failed verification
type PaymentRejectedResponse struct {
	ErrorResponse
	Reason         string `json:"reason"`
	TransactionRef string `json:"txRef,omitempty"`
}

type ErrorInfo struct {
	category  string
	sanitized string
}
