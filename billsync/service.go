// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mobiletoly/go-billsync/internal/auth"
)

// Principal is the authenticated owner of a request.
type Principal = auth.Principal

// ContextWithPrincipal threads a resolved principal into ctx for ProcessSubmit and ListBills.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return auth.WithPrincipal(ctx, p)
}

// DB is the subset of *pgxpool.Pool the service needs.
type DB interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// SyncService applies submitted batches atomically, one transaction per batch
type SyncService struct {
	db     DB
	store  *BillStore
	logger *slog.Logger
	config *ServiceConfig
	limits atomic.Pointer[Limits]

	mu     sync.RWMutex
	closed bool
}

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName            string
	MaxBatchSize       int           // Maximum actions per batch (0 = unlimited)
	MaxBodyBytes       int64         // Maximum request body size (0 = unlimited)
	SerializePrincipal bool          // Take a per-principal advisory lock for every batch
	LockTimeout        time.Duration // SET LOCAL lock_timeout for the batch transaction (0 = server default)
	TxMaxAttempts      int           // Attempts for retryable transaction failures
	TxRetryBackoff     time.Duration // Base delay between attempts, multiplied by the attempt number
	DisableMigrations  bool          // Skip embedded migrations in NewSyncService

	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// Limits are the batch limits that may change at runtime.
type Limits struct {
	MaxBatchSize int
	MaxBodyBytes int64
}

// DefaultServiceConfig returns the production defaults
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		AppName:            "go-billsync",
		MaxBatchSize:       DefaultMaxBatchSize,
		MaxBodyBytes:       DefaultMaxBodyBytes,
		SerializePrincipal: true,
		LockTimeout:        DefaultLockTimeout,
		TxMaxAttempts:      DefaultTxMaxAttempts,
		TxRetryBackoff:     DefaultTxRetryBackoff,
	}
}

// NewSyncService creates a sync service over an existing pool and applies
// the embedded migrations unless disabled.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	service := NewSyncServiceWithDB(pool, config, logger)
	if !service.config.DisableMigrations {
		if err := MigratePool(context.Background(), pool, service.logger); err != nil {
			return nil, fmt.Errorf("failed to initialize sync service: %w", err)
		}
	}
	return service, nil
}

// NewSyncServiceWithDB creates a sync service over any DB, such as a pgx pool
// whose schema is managed elsewhere. It never runs migrations.
func NewSyncServiceWithDB(db DB, config *ServiceConfig, logger *slog.Logger) *SyncService {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.TxMaxAttempts <= 0 {
		config.TxMaxAttempts = 1
	}
	s := &SyncService{
		db:     db,
		store:  NewBillStore(),
		logger: logger,
		config: config,
	}
	s.limits.Store(&Limits{MaxBatchSize: config.MaxBatchSize, MaxBodyBytes: config.MaxBodyBytes})
	return s
}

// Limits returns the batch limits currently in force
func (s *SyncService) Limits() Limits {
	return *s.limits.Load()
}

// UpdateLimits swaps the batch limits without restarting the service
func (s *SyncService) UpdateLimits(l Limits) {
	prev := s.limits.Swap(&l)
	if *prev != l {
		s.logger.Info("Updated batch limits",
			"max_batch_size", l.MaxBatchSize, "max_body_bytes", l.MaxBodyBytes)
	}
}

// Close marks the service closed. It does NOT close the pool.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("Sync service closed")
	return nil
}

func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// ProcessSubmit validates and applies a batch for the principal carried by ctx.
// Either every action commits and every id is acknowledged, or nothing commits
// and an error is returned.
func (s *SyncService) ProcessSubmit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	principal, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if req == nil {
		req = &SubmitRequest{}
	}

	totalStart := s.stageStart()

	if limit := s.Limits().MaxBatchSize; limit > 0 && len(req.Actions) > limit {
		err := &BatchTooLargeError{Size: len(req.Actions), Limit: limit}
		s.observeBatch(ctx, BatchOutcome{Actions: len(req.Actions), Reason: ReasonBatchTooLarge})
		return nil, err
	}

	validateStart := s.stageStart()
	actions, err := DecodeBatch(req.Actions)
	s.observeStage(ctx, MetricsOpSubmit, MetricsStageValidate, validateStart, len(req.Actions), 0, err != nil)
	if err != nil {
		s.logger.Warn("Rejected batch", "user_id", principal.UserID, "actions", len(req.Actions), "error", err)
		s.observeBatch(ctx, BatchOutcome{Actions: len(req.Actions), Reason: reasonFor(err)})
		return nil, err
	}

	if len(actions) == 0 {
		return &SubmitResponse{Success: true, ProcessedIDs: []string{}}, nil
	}

	unmatched, attempts, err := s.applyWithRetry(ctx, principal.UserID, actions)
	s.observeStage(ctx, MetricsOpSubmit, MetricsStageTotal, totalStart, len(actions), attempts, err != nil)
	if err != nil {
		s.logger.Error("Batch rolled back", "user_id", principal.UserID, "actions", len(actions),
			"attempts", attempts, "error", err)
		s.observeBatch(ctx, BatchOutcome{Actions: len(actions), Attempts: attempts, Reason: ReasonApplyFailed})
		return nil, err
	}

	processed := make([]string, len(actions))
	for i, a := range actions {
		processed[i] = a.ActionID()
	}
	if len(unmatched) > 0 {
		s.logger.Warn("Actions matched no bill", "user_id", principal.UserID, "action_ids", unmatched)
	}
	s.logger.Debug("Batch committed", "user_id", principal.UserID, "actions", len(actions), "attempts", attempts)
	s.observeBatch(ctx, BatchOutcome{Actions: len(actions), Unmatched: len(unmatched), Attempts: attempts})

	return &SubmitResponse{Success: true, ProcessedIDs: processed, UnmatchedIDs: unmatched}, nil
}

// ListBills returns the bills of the principal carried by ctx.
func (s *SyncService) ListBills(ctx context.Context) ([]Bill, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	principal, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	start := s.stageStart()
	bills, err := s.store.List(ctx, s.db, principal.UserID)
	s.observeStage(ctx, MetricsOpList, MetricsStageRead, start, len(bills), 0, err != nil)
	return bills, err
}

// reasonFor maps a ProcessSubmit error onto the wire reason code.
func reasonFor(err error) string {
	return classifySubmitError(err).reason
}
