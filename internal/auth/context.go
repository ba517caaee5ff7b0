// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	principalKey contextKey = "principal"
)

// Principal is the authenticated owner on whose behalf a request is served.
type Principal struct {
	UserID    string
	SessionID string
}

// WithPrincipal returns a copy of ctx carrying the resolved principal
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom retrieves the principal from the context.
// A principal without a user ID is treated as absent.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// GetUserID retrieves the user ID of the principal from the context
func GetUserID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	return p.UserID, ok
}
