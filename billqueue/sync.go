// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mobiletoly/go-billsync/billsync"
)

// SyncResult summarizes one SyncOnce call
type SyncResult struct {
	Submitted int      // Actions sent, counted once per request
	Pruned    int64    // Entries removed from the queue
	Requests  int      // HTTP requests made
	Unmatched []string // Acknowledged actions that matched no bill on the server
}

func (r *SyncResult) merge(o SyncResult) {
	r.Submitted += o.Submitted
	r.Pruned += o.Pruned
	r.Requests += o.Requests
	r.Unmatched = append(r.Unmatched, o.Unmatched...)
}

// SyncOnce submits the current queue snapshot and prunes what the server
// acknowledges. Only one sync runs at a time: a call made while another is in
// flight returns ErrSyncInProgress and the in-flight sync takes one more
// snapshot before it returns.
//
// On any failure the unacknowledged entries stay queued in their original order.
func (c *Client) SyncOnce(ctx context.Context) (SyncResult, error) {
	if c.suspended.Load() {
		return SyncResult{}, ErrSyncSuspended
	}
	// Publish the request before trying to take the flight, so a holder that
	// is releasing either sees it or has already released.
	c.rerun.Store(true)
	if !c.inFlight.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}

	var total SyncResult
	for {
		c.rerun.Store(false)
		res, err := c.syncSnapshot(ctx)
		total.merge(res)
		c.recordOutcome(err)
		if err != nil {
			c.inFlight.Store(false)
			return total, err
		}
		if !c.rerun.Load() && !c.release() {
			return total, nil
		}
		c.logger.Debug("Running coalesced sync request")
	}
}

// release ends the flight. It reports true when a coalesced request arrived
// after the last check and the flight was taken back to serve it.
func (c *Client) release() bool {
	c.inFlight.Store(false)
	return c.rerun.Load() && c.inFlight.CompareAndSwap(false, true)
}

// SyncWithRetry runs SyncOnce with capped exponential backoff. Transport
// failures and temporary server failures are retried up to MaxRetries times;
// authentication failures and rejected batches are returned immediately.
func (c *Client) SyncWithRetry(ctx context.Context) (SyncResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.BaseDelay
	b.MaxInterval = c.config.MaxDelay
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if c.config.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(c.config.MaxRetries))
	}

	var total SyncResult
	op := func() (SyncResult, error) {
		res, err := c.SyncOnce(ctx)
		total.merge(res)
		if err != nil && !IsRetryable(err) {
			return total, backoff.Permanent(err)
		}
		return total, err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("Sync failed, retrying", "error", err, "retry_in", next)
	}

	return backoff.RetryNotifyWithData(op, backoff.WithContext(policy, ctx), notify)
}

func (c *Client) recordOutcome(err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.lastAttempt = time.Now()
	c.lastErr = err
	if err == nil {
		c.lastSuccess = c.lastAttempt
	}
}

// syncSnapshot sends one snapshot of the queue, re-chunking on batch_too_large
// the same way the uploader shrinks its upload window.
func (c *Client) syncSnapshot(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	entries, err := c.Queue.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read queue snapshot: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}

	chunkSize := len(entries)
	if c.config.MaxBatchSize > 0 && c.config.MaxBatchSize < chunkSize {
		chunkSize = c.config.MaxBatchSize
	}

	for start := 0; start < len(entries); {
		if chunkSize > len(entries)-start {
			chunkSize = len(entries) - start
		}
		chunk := entries[start : start+chunkSize]

		ids := make([]string, len(chunk))
		req := &billsync.SubmitRequest{Actions: make([]billsync.ActionEnvelope, len(chunk))}
		for i, e := range chunk {
			ids[i] = e.ID
			req.Actions[i] = e.Envelope()
		}

		if err := c.Queue.markAttempt(ctx, ids); err != nil {
			return res, err
		}

		res.Requests++
		res.Submitted += len(chunk)
		resp, err := c.sendSubmitRequest(ctx, req)
		if err != nil {
			var rejected *BatchRejectedError
			if errors.As(err, &rejected) && rejected.Reason == billsync.ReasonBatchTooLarge && chunkSize > 1 {
				newSize := chunkSize / 2
				c.logger.Warn("Server rejected batch as too large; reducing chunk size",
					"from", chunkSize, "to", newSize, "pending", len(entries)-start)
				chunkSize = newSize
				continue
			}
			var authErr *AuthenticationError
			if errors.As(err, &authErr) {
				c.suspended.Store(true)
				c.logger.Warn("Sync suspended until re-authentication", "error", err)
			}
			return res, err
		}

		pruned, err := c.Queue.Prune(ctx, acknowledged(ids, resp.ProcessedIDs))
		if err != nil {
			return res, fmt.Errorf("failed to prune acknowledged actions: %w", err)
		}
		res.Pruned += pruned
		res.Unmatched = append(res.Unmatched, resp.UnmatchedIDs...)
		if len(resp.UnmatchedIDs) > 0 {
			c.logger.Warn("Server found no bill for acknowledged actions", "action_ids", resp.UnmatchedIDs)
		}

		start += chunkSize
	}
	return res, nil
}

// acknowledged returns the processed ids that were part of the submission.
// Ids the server invents are never pruned.
func acknowledged(submitted, processed []string) []string {
	sent := make(map[string]struct{}, len(submitted))
	for _, id := range submitted {
		sent[id] = struct{}{}
	}
	acked := make([]string, 0, len(processed))
	for _, id := range processed {
		if _, ok := sent[id]; ok {
			acked = append(acked, id)
			delete(sent, id)
		}
	}
	return acked
}

// sendSubmitRequest posts one batch and classifies the outcome
func (c *Client) sendSubmitRequest(ctx context.Context, req *billsync.SubmitRequest) (*billsync.SubmitResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.SubmitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sync/queue", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "submit", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		msg := "server rejected credentials"
		var failure billsync.SubmitResponse
		if json.Unmarshal(body, &failure) == nil && failure.Message != "" {
			msg = failure.Message
		}
		return nil, &AuthenticationError{Message: msg}
	}

	var submitResp billsync.SubmitResponse
	if err := json.Unmarshal(body, &submitResp); err != nil {
		return nil, &TransportError{Op: "submit",
			Err: fmt.Errorf("undecodable response with status %d: %w", resp.StatusCode, err)}
	}
	if !submitResp.Success {
		return nil, &BatchRejectedError{Status: resp.StatusCode, Reason: submitResp.Reason, Message: submitResp.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "submit", Err: fmt.Errorf("unexpected status %d for success response", resp.StatusCode)}
	}
	return &submitResp, nil
}
