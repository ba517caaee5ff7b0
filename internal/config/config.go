// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/mobiletoly/go-billsync/billqueue"
	"github.com/mobiletoly/go-billsync/billsync"
)

// Config is the root configuration shared by the server and the client commands.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Client   ClientConfig   `yaml:"client"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	DevSignin       bool          `yaml:"dev_signin"       env:"SERVER_DEV_SIGNIN"       env-default:"false"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl"  env:"AUTH_TOKEN_TTL"  env-default:"24h"`
}

// SyncConfig holds the batch applier settings. MaxBatchSize and MaxBodyBytes
// are reloaded while the server runs.
type SyncConfig struct {
	MaxBatchSize int   `yaml:"max_batch_size" env:"SYNC_MAX_BATCH_SIZE" env-default:"500"`
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"SYNC_MAX_BODY_BYTES" env-default:"4194304"`
	// Zero-valued YAML fields fall back to env-default, so the lock is opt-out.
	DisablePrincipalLock bool          `yaml:"disable_principal_lock" env:"SYNC_DISABLE_PRINCIPAL_LOCK" env-default:"false"`
	LockTimeout          time.Duration `yaml:"lock_timeout"           env:"SYNC_LOCK_TIMEOUT"           env-default:"3s"`
	TxMaxAttempts        int           `yaml:"tx_max_attempts"        env:"SYNC_TX_MAX_ATTEMPTS"        env-default:"3"`
	TxRetryBackoff       time.Duration `yaml:"tx_retry_backoff"       env:"SYNC_TX_RETRY_BACKOFF"       env-default:"50ms"`
	LogStageTimings      bool          `yaml:"log_stage_timings"      env:"SYNC_LOG_STAGE_TIMINGS"      env-default:"false"`
}

// ClientConfig holds settings of the local queue and the sync client.
type ClientConfig struct {
	QueuePath     string        `yaml:"queue_path"     env:"CLIENT_QUEUE_PATH"     env-default:"./billsync-queue.db"`
	ServerURL     string        `yaml:"server_url"     env:"CLIENT_SERVER_URL"     env-default:"http://localhost:8080"`
	Token         string        `yaml:"token"          env:"CLIENT_TOKEN"`
	SubmitTimeout time.Duration `yaml:"submit_timeout" env:"CLIENT_SUBMIT_TIMEOUT" env-default:"30s"`
	MaxBatchSize  int           `yaml:"max_batch_size" env:"CLIENT_MAX_BATCH_SIZE" env-default:"0"`
	MaxRetries    int           `yaml:"max_retries"    env:"CLIENT_MAX_RETRIES"    env-default:"5"`
	BaseDelay     time.Duration `yaml:"base_delay"     env:"CLIENT_BASE_DELAY"     env-default:"1s"`
	MaxDelay      time.Duration `yaml:"max_delay"      env:"CLIENT_MAX_DELAY"      env-default:"60s"`
	SyncInterval  time.Duration `yaml:"sync_interval"  env:"CLIENT_SYNC_INTERVAL"  env-default:"5m"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// ServiceConfig builds the applier configuration.
func (s SyncConfig) ServiceConfig() *billsync.ServiceConfig {
	cfg := billsync.DefaultServiceConfig()
	cfg.MaxBatchSize = s.MaxBatchSize
	cfg.MaxBodyBytes = s.MaxBodyBytes
	cfg.SerializePrincipal = !s.DisablePrincipalLock
	cfg.LockTimeout = s.LockTimeout
	cfg.TxMaxAttempts = s.TxMaxAttempts
	cfg.TxRetryBackoff = s.TxRetryBackoff
	cfg.LogStageTimings = s.LogStageTimings
	return cfg
}

// Limits returns the runtime-adjustable part of SyncConfig.
func (s SyncConfig) Limits() billsync.Limits {
	return billsync.Limits{MaxBatchSize: s.MaxBatchSize, MaxBodyBytes: s.MaxBodyBytes}
}

// QueueConfig builds the sync client configuration.
func (c ClientConfig) QueueConfig() *billqueue.Config {
	return &billqueue.Config{
		SubmitTimeout: c.SubmitTimeout,
		MaxBatchSize:  c.MaxBatchSize,
		MaxRetries:    c.MaxRetries,
		BaseDelay:     c.BaseDelay,
		MaxDelay:      c.MaxDelay,
		SyncInterval:  c.SyncInterval,
	}
}
