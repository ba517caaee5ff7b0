// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billqueue

import (
	"context"
	"time"
)

// Status is what a UI needs for a "saved locally, not yet synced" indicator.
type Status struct {
	Pending     int       `json:"pending" yaml:"pending"`
	InFlight    bool      `json:"in_flight" yaml:"in_flight"`
	Suspended   bool      `json:"suspended" yaml:"suspended"`
	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitzero" yaml:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero" yaml:"last_success,omitempty"`
}

// Synced reports whether every local change has been acknowledged.
func (s Status) Synced() bool {
	return s.Pending == 0
}

// Status returns the current sync status
func (c *Client) Status(ctx context.Context) (Status, error) {
	pending, err := c.Queue.Pending(ctx)
	if err != nil {
		return Status{}, err
	}

	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st := Status{
		Pending:     pending,
		InFlight:    c.inFlight.Load(),
		Suspended:   c.suspended.Load(),
		LastAttempt: c.lastAttempt,
		LastSuccess: c.lastSuccess,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st, nil
}
