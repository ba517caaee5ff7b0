// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billqueue

import (
	"context"
	"errors"
	"time"
)

// Trigger decides when the client syncs: on explicit request, when
// connectivity returns and periodically. Signals that arrive while a sync
// runs collapse into one follow-up sync.
type Trigger struct {
	client   *Client
	interval time.Duration
	signals  chan struct{}
	onSync   func(SyncResult, error)
}

// NewTrigger creates a trigger for client. interval <= 0 disables the
// periodic sync; onSync, when set, observes every completed sync.
func NewTrigger(client *Client, interval time.Duration, onSync func(SyncResult, error)) *Trigger {
	return &Trigger{
		client:   client,
		interval: interval,
		signals:  make(chan struct{}, 1),
		onSync:   onSync,
	}
}

// RequestSync asks for a sync now. It never blocks.
func (t *Trigger) RequestSync() { t.signal() }

// NotifyOnline reports that connectivity was restored. Spurious calls are harmless.
func (t *Trigger) NotifyOnline() {
	t.client.logger.Debug("Connectivity restored, scheduling sync")
	t.signal()
}

func (t *Trigger) signal() {
	select {
	case t.signals <- struct{}{}:
	default:
	}
}

// Run serves signals until ctx is cancelled. It returns ctx.Err().
func (t *Trigger) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if t.interval > 0 {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.signals:
		case <-tick:
		}
		t.sync(ctx)
	}
}

func (t *Trigger) sync(ctx context.Context) {
	res, err := t.client.SyncWithRetry(ctx)
	switch {
	case err == nil:
		if res.Pruned > 0 {
			t.client.logger.Info("Queue synced", "pruned", res.Pruned, "requests", res.Requests)
		}
	case ctx.Err() != nil:
		return
	case errors.Is(err, ErrSyncInProgress):
		t.client.logger.Debug("Sync already in flight; request coalesced")
	case errors.Is(err, ErrSyncSuspended):
		t.client.logger.Debug("Sync suspended; waiting for re-authentication")
	default:
		t.client.logger.Warn("Sync did not complete; changes are saved locally", "error", err)
	}
	if t.onSync != nil {
		t.onSync(res, err)
	}
}
