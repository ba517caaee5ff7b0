// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billqueue

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mobiletoly/go-billsync/billsync"
)

var (
	// ErrSyncInProgress is returned when a sync is already in flight. The
	// in-flight sync runs once more after it finishes, covering this request.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSyncSuspended is returned after an authentication failure until
	// ResumeAfterReauth is called.
	ErrSyncSuspended = errors.New("sync suspended until re-authentication")
)

// TransportError means no usable response was received. The queue is untouched.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthenticationError means the server could not resolve a principal for the
// request, or no token could be obtained.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// BatchRejectedError is a success:false response. Nothing was applied.
type BatchRejectedError struct {
	Status  int
	Reason  string
	Message string
}

func (e *BatchRejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("batch rejected (%d %s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("batch rejected (%d): %s", e.Status, e.Message)
}

// Temporary reports whether resubmitting the same batch later may succeed.
func (e *BatchRejectedError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError || e.Reason == billsync.ReasonApplyFailed
}

// IsRetryable reports whether a SyncOnce error should be retried with backoff.
func IsRetryable(err error) bool {
	var (
		transport *TransportError
		rejected  *BatchRejectedError
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &transport):
		return true
	case errors.As(err, &rejected):
		return rejected.Temporary()
	default:
		return false
	}
}
