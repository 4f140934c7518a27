package main

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"codeberg.org/interviewkit/server/internal/auth"
	"codeberg.org/interviewkit/server/internal/errors"
	"codeberg.org/interviewkit/server/internal/logger"
	"codeberg.org/interviewkit/server/internal/x402"
)

const limiterPrefix = "interviewkit:limiter"

// lets browsers send payment proofs and read the 402 challenge headers
func CORSMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", x402.HeaderPayment},
		ExposeHeaders: x402.ExposedHeaders(),
		MaxAge:        12 * time.Hour,
	})
}

// limits metered and payment routes per account, or per client IP when
// anonymous. the store is shared through redis when one is configured.
func newRateLimiter(formatted string, rdb *redis.Client) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT %q: %w", formatted, err)
	}

	var store limiter.Store
	if rdb != nil {
		store, err = sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: limiterPrefix})
		if err != nil {
			return nil, fmt.Errorf("failed to create limiter store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          limiterPrefix,
			CleanUpInterval: time.Minute,
		})
	}

	return mgin.NewMiddleware(limiter.New(store, rate),
		mgin.WithKeyGetter(rateLimitKey),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			errors.TooManyRequests(c, "")
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// fail open while the limiter store is unreachable
			logger.ErrorErr(err, "rate limiter unavailable", "path", c.Request.URL.Path)
			c.Next()
		}),
	), nil
}

func rateLimitKey(c *gin.Context) string {
	if userID, ok := auth.GetUserID(c); ok {
		return "user:" + userID
	}

	return "ip:" + c.ClientIP()
}
