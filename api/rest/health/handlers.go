package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/logger"
)

const (
	serviceName = "interviewkit"
	version     = "1.0.0"

	readyTimeout = 2 * time.Second
)

// returns the server health status
func Handler(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Status:  "healthy",
		Service: serviceName,
		Version: version,
	})
}

// reports ready only when the ledger (and its cache) answer
func ReadyHandler(ledger Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		if err := ledger.Ping(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)

			c.JSON(http.StatusServiceUnavailable, Response{
				Status:  "unavailable",
				Service: serviceName,
				Version: version,
			})
			return
		}

		c.JSON(http.StatusOK, Response{
			Status:  "ready",
			Service: serviceName,
			Version: version,
		})
	}
}

// responds with pong for testing
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, PingResponse{
		Message: "pong",
	})
}
