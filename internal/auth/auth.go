package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// default token lifetime
const TokenTTL = 7 * 24 * time.Hour

// creates a JWT token for the user
func GenerateJWT(secret, userID, email string) (string, error) {
	return GenerateJWTWithTTL(secret, userID, email, TokenTTL)
}

// creates a JWT token that expires after ttl
func GenerateJWTWithTTL(secret, userID, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET not set")
	}

	if userID == "" {
		return "", fmt.Errorf("user id required")
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// validates a JWT token and returns the claims
func ValidateJWT(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET not set")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
