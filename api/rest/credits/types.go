package credits

import (
	"codeberg.org/interviewkit/server/api/rest/pagination"
	"codeberg.org/interviewkit/server/internal/ledger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// DailyClaimResponse represents the outcome of a daily free credit claim
type DailyClaimResponse struct {
	Granted bool            `json:"granted"`
	Credits int64           `json:"credits"`
	Account *ledger.Account `json:"account"`
}

// HistoryResponse represents one page of the caller's usage records
type HistoryResponse struct {
	Records    []ledger.UsageRecord `json:"records"`
	Pagination pagination.Meta      `json:"pagination"`
}
