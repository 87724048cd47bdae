// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ahmadmdm/pos/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth handles JWT authentication for POS terminals
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims carries the operator identity plus the terminal's device id
type JWTClaims struct {
	DeviceID string `json:"did"` // Terminal device ID
	jwt.RegisteredClaims
}

// GenerateToken issues a token binding an operator to a terminal device
func (j *JWTAuth) GenerateToken(userID, deviceID string, expiration time.Duration) (string, error) {
	claims := &JWTClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "pos-sync",
			Subject:   userID, // Operator goes in standard 'sub' claim
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.DeviceID == "" {
			return nil, fmt.Errorf("missing did (device ID) in token")
		}
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (operator) in token")
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

func (j *JWTAuth) claimsFromRequest(r *http.Request) (*JWTClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, fmt.Errorf("bearer token required")
	}

	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// GetUserID extracts the operator identity (implements ClientAuthenticator).
// When Middleware already validated the token the identity comes from the
// request context; otherwise the token is parsed here.
func (j *JWTAuth) GetUserID(r *http.Request) (string, error) {
	if user, ok := auth.UserID(r.Context()); ok {
		return user, nil
	}
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// GetDeviceID extracts the terminal device (implements ClientAuthenticator).
func (j *JWTAuth) GetDeviceID(r *http.Request) (string, error) {
	if device, ok := auth.DeviceID(r.Context()); ok {
		return device, nil
	}
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.DeviceID, nil
}

// Middleware returns an HTTP middleware for JWT authentication
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := j.ValidateToken(bearerToken[1])
		if err != nil {
			// Safely log token prefix (max 20 chars)
			tokenPrefix := bearerToken[1]
			if len(tokenPrefix) > 20 {
				tokenPrefix = tokenPrefix[:20]
			}
			slog.Error("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		r = r.WithContext(auth.SetIdentity(r.Context(), claims.Subject, claims.DeviceID))
		next.ServeHTTP(w, r)
	})
}
