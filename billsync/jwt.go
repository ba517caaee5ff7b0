// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mobiletoly/go-billsync/internal/auth"
)

const jwtIssuer = "go-billsync"

// JWTAuth handles JWT authentication. It stands in for the real login
// service: whatever issues the token, the principal comes from its sub claim.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims represents JWT claims for a signed-in session
type JWTClaims struct {
	SessionID string `json:"sid,omitempty"` // Browser tab / device session
	jwt.RegisteredClaims
}

// GenerateToken generates a JWT token for a user session
func (j *JWTAuth) GenerateToken(userID, sessionID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
			Subject:   userID,
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
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (user ID) in token")
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// ResolvePrincipal extracts the principal from the bearer token (implements PrincipalResolver)
func (j *JWTAuth) ResolvePrincipal(r *http.Request) (Principal, error) {
	tokenString, err := bearerToken(r)
	if err != nil {
		return Principal{}, err
	}
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	return Principal{UserID: claims.Subject, SessionID: claims.SessionID}, nil
}

// Middleware rejects unauthenticated requests with 401 and puts the
// principal into the request context otherwise
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := j.ResolvePrincipal(r)
		if err != nil {
			slog.Debug("JWT validation failed", "error", err, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			body, _ := FailureResponse(ReasonUnauthenticated, "authentication required").MarshalJSON()
			_, _ = w.Write(body)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header required")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return "", fmt.Errorf("bearer token required")
	}
	return tokenString, nil
}
