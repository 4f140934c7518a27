package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"codeberg.org/interviewkit/server/internal/errors"
)

const (
	contextUserID    = "user_id"
	contextUserEmail = "user_email"
)

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}

// validates JWT tokens and adds user info to context
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			errors.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			errors.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := ValidateJWT(secret, token)
		if err != nil {
			errors.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(contextUserID, claims.UserID)
		c.Set(contextUserEmail, claims.Email)

		c.Next()
	}
}

// validates JWT if present but doesn't require it. requests without a valid
// token continue anonymously.
func OptionalAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := ValidateJWT(secret, token); err == nil {
				c.Set(contextUserID, claims.UserID)
				c.Set(contextUserEmail, claims.Email)
			}
		}

		c.Next()
	}
}

// extracts user_id from context after AuthMiddleware
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(contextUserID)
	return userID, userID != ""
}
