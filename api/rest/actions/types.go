package actions

import (
	"encoding/json"

	"codeberg.org/interviewkit/server/internal/llm"
	"codeberg.org/interviewkit/server/internal/settlement"
	"codeberg.org/interviewkit/server/internal/usage"
	"codeberg.org/interviewkit/server/internal/x402"
)

// the metering core a metered route runs through
type Service struct {
	Gate      *usage.Gate
	Recorder  *usage.Recorder
	Verifier  *settlement.Verifier
	Performer llm.Performer
	Pricing   *x402.Pricing
}

// Request represents the body of a metered action
type Request struct {
	Payload json.RawMessage `json:"payload,omitempty"`

	// one entry per applicant for batch evaluation
	Items []json.RawMessage `json:"items,omitempty"`

	// echoed back in a 402 so the client can resubmit unchanged
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// Response represents the result of a metered action
type Response struct {
	Action    string          `json:"action"`
	Result    json.RawMessage `json:"result"`
	Cost      int64           `json:"cost"`
	Remaining int64           `json:"remaining"`

	FreeInterviewUsed      bool  `json:"freeInterviewUsed,omitempty"`
	FreeInterviewAvailable bool  `json:"freeInterviewAvailable"`
	CreditsAdded           int64 `json:"creditsAdded,omitempty"`

	// the action ran but its bookkeeping failed; the result is still valid
	RecordingFailed bool `json:"recordingFailed,omitempty"`
}

// what the performer receives for a request
type performPayload struct {
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Items    []json.RawMessage `json:"items,omitempty"`
	Question string            `json:"question,omitempty"`
	Answer   string            `json:"answer,omitempty"`
}
