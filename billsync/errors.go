// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUnauthenticated means no owning principal could be resolved for the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrServiceClosed is returned once Close has been called.
	ErrServiceClosed = errors.New("sync service is closed")

	// Storage error categories produced by mapError.
	ErrConflict   = errors.New("conflicting bill")
	ErrConstraint = errors.New("constraint violation")
)

// UnknownActionTypeError rejects a batch containing a type outside the closed set.
type UnknownActionTypeError struct {
	ActionID string
	Type     string
}

func (e *UnknownActionTypeError) Error() string {
	return fmt.Sprintf("action %s: unknown action type %q", e.ActionID, e.Type)
}

// PayloadError rejects a batch containing an action with an invalid payload.
type PayloadError struct {
	ActionID string
	Field    string
	Msg      string
	Err      error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action %s: %s: %s: %v", e.ActionID, e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("action %s: %s: %s", e.ActionID, e.Field, e.Msg)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// BatchTooLargeError rejects a batch over the configured size limit.
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch too large: actions=%d limit=%d", e.Size, e.Limit)
}

// ApplyError reports the action that failed inside the batch transaction.
// The transaction has been rolled back when this error is returned.
type ApplyError struct {
	Index    int
	ActionID string
	Type     ActionType
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to apply action %s (#%d, %s): %v", e.ActionID, e.Index, e.Type, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// mapError classifies Postgres errors into storage categories.
// Context errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case "23503", // foreign_key_violation
			"23514", // check_violation
			"23502": // not_null_violation
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		}
	}
	return err
}
