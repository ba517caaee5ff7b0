// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var batchTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

const advisoryLockSQL = "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))"

// transientBatchStates are SQLSTATEs after which the whole batch is replayed
// in a fresh transaction.
var transientBatchStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available, raised by lock_timeout
}

// batchApplier dispatches actions of one batch inside its transaction.
type batchApplier struct {
	store     *BillStore
	tx        Querier
	principal string
	unmatched []string
}

func (b *batchApplier) VisitCreate(ctx context.Context, a *CreateBill) error {
	return b.store.Upsert(ctx, b.tx, b.principal, a)
}

func (b *batchApplier) VisitUpdate(ctx context.Context, a *UpdateBill) error {
	ok, err := b.store.Update(ctx, b.tx, b.principal, a)
	if err == nil && !ok {
		b.unmatched = append(b.unmatched, a.ID)
	}
	return err
}

func (b *batchApplier) VisitUpdateStatus(ctx context.Context, a *UpdateBillStatus) error {
	ok, err := b.store.UpdateStatus(ctx, b.tx, b.principal, a)
	if err == nil && !ok {
		b.unmatched = append(b.unmatched, a.ID)
	}
	return err
}

func (b *batchApplier) VisitDelete(ctx context.Context, a *DeleteBill) error {
	_, err := b.store.Delete(ctx, b.tx, b.principal, a)
	return err
}

// applyWithRetry re-runs the whole batch transaction on serialization,
// deadlock and lock-timeout failures.
func (s *SyncService) applyWithRetry(ctx context.Context, principal string, actions []Action) (unmatched []string, attempts int, err error) {
	for attempt := 1; ; attempt++ {
		start := s.stageStart()
		unmatched, err = s.applyBatch(ctx, principal, actions)
		s.observeStage(ctx, MetricsOpSubmit, MetricsStageApply, start, len(actions), attempt, err != nil)
		if err == nil || !batchConflict(err) || attempt >= s.config.TxMaxAttempts {
			return unmatched, attempt, err
		}
		s.logger.Warn("Retrying batch transaction", "user_id", principal, "attempt", attempt, "error", err)
		pause := time.NewTimer(s.config.TxRetryBackoff * time.Duration(attempt))
		select {
		case <-pause.C:
		case <-ctx.Done():
			pause.Stop()
			return nil, attempt, fmt.Errorf("failed to wait for batch retry: %w", ctx.Err())
		}
	}
}

// batchConflict reports whether err is a Postgres conflict that a replay of
// the batch may not hit again.
func batchConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && transientBatchStates[pgErr.SQLState()]
}

// applyBatch applies actions in submission order inside one transaction.
func (s *SyncService) applyBatch(ctx context.Context, principal string, actions []Action) ([]string, error) {
	applier := &batchApplier{store: s.store, principal: principal}

	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		if s.config.LockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.config.LockTimeout.Milliseconds())
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to set lock timeout: %w", err)
			}
		}
		if s.config.SerializePrincipal {
			if _, err := tx.Exec(ctx, advisoryLockSQL, principal); err != nil {
				return fmt.Errorf("failed to lock principal: %w", err)
			}
		}

		applier.tx = tx
		for i, a := range actions {
			if err := a.Accept(ctx, applier); err != nil {
				return &ApplyError{Index: i, ActionID: a.ActionID(), Type: a.Type(), Err: mapError(err)}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applier.unmatched, nil
}

// runInTx commits when fn succeeds and rolls back otherwise.
func (s *SyncService) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, batchTxOptions)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
