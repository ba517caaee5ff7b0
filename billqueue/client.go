// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package billqueue is the client side of bill synchronization: a durable
// SQLite action queue and a sync client that submits it to a billsync server
// and prunes whatever the server acknowledges.
package billqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mobiletoly/go-billsync/billsync"
)

// Client submits the queue to the server
type Client struct {
	Queue   *Queue
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	config  *Config
	logger  *slog.Logger

	inFlight  atomic.Bool
	rerun     atomic.Bool
	suspended atomic.Bool

	statusMu    sync.Mutex
	lastErr     error
	lastAttempt time.Time
	lastSuccess time.Time
}

// Config holds configuration for the sync client
type Config struct {
	SubmitTimeout time.Duration // Bound on one submission round trip; 30s
	MaxBatchSize  int           // Actions per request (0 = whole snapshot)
	MaxRetries    int           // Retries after the first attempt in SyncWithRetry; 5
	BaseDelay     time.Duration // First backoff delay; 1s
	MaxDelay      time.Duration // Backoff cap; 60s
	SyncInterval  time.Duration // Periodic trigger interval (0 = no periodic sync); 5m
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		SubmitTimeout: 30 * time.Second,
		MaxBatchSize:  0,
		MaxRetries:    5,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		SyncInterval:  5 * time.Minute,
	}
}

// NewClient creates a sync client over queue. A nil logger uses slog.Default().
func NewClient(queue *Queue, baseURL string, tok func(ctx context.Context) (string, error), config *Config, logger *slog.Logger) (*Client, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if tok == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SubmitTimeout <= 0 {
		return nil, fmt.Errorf("config.SubmitTimeout must be positive")
	}
	if config.BaseDelay <= 0 || config.MaxDelay < config.BaseDelay {
		return nil, fmt.Errorf("config.BaseDelay must be positive and not above config.MaxDelay")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		Queue:   queue,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: config.SubmitTimeout},
		config:  config,
		logger:  logger,
	}, nil
}

// Config returns the client configuration
func (c *Client) Config() Config {
	return *c.config
}

// ResumeAfterReauth lifts the suspension set by an authentication failure
func (c *Client) ResumeAfterReauth() {
	if c.suspended.CompareAndSwap(true, false) {
		c.logger.Info("Sync resumed after re-authentication")
	}
}

// Suspended reports whether sync is waiting for re-authentication
func (c *Client) Suspended() bool {
	return c.suspended.Load()
}

// FetchBills reads the principal's bills from the server.
func (c *Client) FetchBills(ctx context.Context) ([]billsync.Bill, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SubmitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/bills", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "list bills", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthenticationError{Message: "server rejected credentials"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "list bills", Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}

	var list billsync.ListBillsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &TransportError{Op: "list bills", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return list.Bills, nil
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.SubmitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "ping", Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, r *http.Request) error {
	token, err := c.Token(ctx)
	if err != nil {
		return &AuthenticationError{Message: "failed to get JWT token", Err: err}
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return nil
}
