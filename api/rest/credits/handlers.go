package credits

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/api/rest/pagination"
	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/errors"
	"codeberg.org/interviewkit/server/internal/usage"
)

// OverviewHandler returns the caller's balance, free tier and usage counts
func OverviewHandler(accounts *usage.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "")
			return
		}

		overview, err := accounts.Overview(c.Request.Context(), userID)
		if err != nil {
			errors.Respond(c, "failed to load credits", err)
			return
		}

		c.JSON(http.StatusOK, overview)
	}
}

// DailyClaimHandler grants the daily free credits once per UTC day
func DailyClaimHandler(accounts *usage.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "")
			return
		}

		granted, account, err := accounts.ClaimDaily(c.Request.Context(), userID)
		if err != nil {
			if stderrors.Is(err, usage.ErrDailyCreditsDisabled) {
				errors.NotFound(c, "daily free credits")
				return
			}

			errors.Respond(c, "failed to claim daily credits", err)
			return
		}

		if !granted {
			errors.Conflict(c, "daily free credits already claimed today")
			return
		}

		c.JSON(http.StatusOK, DailyClaimResponse{
			Granted: true,
			Credits: accounts.DailyCredits(),
			Account: account,
		})
	}
}

// HistoryHandler pages through the caller's usage records, newest first
func HistoryHandler(accounts *usage.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "")
			return
		}

		params := pagination.FromQuery(c, defaultHistoryLimit, maxHistoryLimit)

		records, total, err := accounts.History(c.Request.Context(), userID, params.Limit, params.Offset)
		if err != nil {
			errors.Respond(c, "failed to load usage history", err)
			return
		}

		c.JSON(http.StatusOK, HistoryResponse{
			Records:    records,
			Pagination: pagination.NewMeta(params, total),
		})
	}
}
