// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validate checks the settings every command relies on. Load calls it.
func (c *Config) Validate() error {
	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Client.validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}

// ValidateServer additionally checks what the serve command needs.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) must not exceed max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	return c.ValidateAuth()
}

// ValidateAuth checks the JWT secret used to issue and verify tokens.
func (c *Config) ValidateAuth() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}
	return nil
}

func (l *LogConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error (got %q)", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("format must be json or text (got %q)", l.Format)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.MaxBatchSize < 0 {
		return fmt.Errorf("max_batch_size must be >= 0 (got %d)", s.MaxBatchSize)
	}
	if s.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be >= 0 (got %d)", s.MaxBodyBytes)
	}
	if s.TxMaxAttempts < 1 {
		return fmt.Errorf("tx_max_attempts must be >= 1 (got %d)", s.TxMaxAttempts)
	}
	if s.LockTimeout < 0 || s.TxRetryBackoff < 0 {
		return fmt.Errorf("lock_timeout and tx_retry_backoff must be >= 0")
	}
	return nil
}

func (c *ClientConfig) validate() error {
	if strings.TrimSpace(c.QueuePath) == "" {
		return fmt.Errorf("queue_path is required")
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("submit_timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("base_delay must be > 0 and not above max_delay (got %s, %s)", c.BaseDelay, c.MaxDelay)
	}
	if c.MaxBatchSize < 0 || c.SyncInterval < 0 {
		return fmt.Errorf("max_batch_size and sync_interval must be >= 0")
	}
	return nil
}
