// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billsync

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is implemented by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// BillStore exposes the four bill mutation primitives, each scoped by
// (principal, correlation key), plus the principal's read view.
type BillStore struct {
	table string
}

// NewBillStore returns a store over the bills table
func NewBillStore() *BillStore {
	return &BillStore{table: billsTable}
}

// Upsert inserts the bill or, when (principal, key) already exists, replaces
// its business fields. Replaying a Create is therefore harmless.
func (s *BillStore) Upsert(ctx context.Context, q Querier, principal string, a *CreateBill) error {
	query := psql.Insert(s.table).
		Columns("user_id", "client_id", "description", "amount", "due_date", "category", "is_paid").
		Values(principal, a.Key, a.Fields.Description, a.Fields.Amount.String(), a.Fields.DueDate, a.Fields.Category, a.IsPaid).
		Suffix(`ON CONFLICT (user_id, client_id) DO UPDATE SET
			description = EXCLUDED.description,
			amount = EXCLUDED.amount,
			due_date = EXCLUDED.due_date,
			category = EXCLUDED.category,
			is_paid = EXCLUDED.is_paid,
			updated_at = now()`)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to upsert bill %s: %w", a.Key, err)
	}
	return nil
}

// Update overwrites the business fields. It reports false when no bill matched.
func (s *BillStore) Update(ctx context.Context, q Querier, principal string, a *UpdateBill) (bool, error) {
	query := psql.Update(s.table).
		Set("description", a.Fields.Description).
		Set("amount", a.Fields.Amount.String()).
		Set("due_date", a.Fields.DueDate).
		Set("category", a.Fields.Category).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"user_id": principal}).
		Where(squirrel.Eq{"client_id": a.Key})

	return s.execMatched(ctx, q, query, "update", a.Key)
}

// UpdateStatus sets the paid flag. It reports false when no bill matched.
func (s *BillStore) UpdateStatus(ctx context.Context, q Querier, principal string, a *UpdateBillStatus) (bool, error) {
	query := psql.Update(s.table).
		Set("is_paid", a.IsPaid).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"user_id": principal}).
		Where(squirrel.Eq{"client_id": a.Key})

	return s.execMatched(ctx, q, query, "update status of", a.Key)
}

// Delete removes the bill. It reports false when nothing was deleted.
func (s *BillStore) Delete(ctx context.Context, q Querier, principal string, a *DeleteBill) (bool, error) {
	query := psql.Delete(s.table).
		Where(squirrel.Eq{"user_id": principal}).
		Where(squirrel.Eq{"client_id": a.Key})

	return s.execMatched(ctx, q, query, "delete", a.Key)
}

// List returns the principal's bills ordered by due date.
func (s *BillStore) List(ctx context.Context, q Querier, principal string) ([]Bill, error) {
	query := psql.Select(
		"id",
		"client_id",
		"description",
		"amount::text AS amount",
		"to_char(due_date, 'YYYY-MM-DD') AS due_date",
		"category",
		"is_paid",
		"updated_at",
	).
		From(s.table).
		Where(squirrel.Eq{"user_id": principal}).
		OrderBy("due_date ASC", "id ASC")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bill query: %w", err)
	}

	bills := []Bill{}
	if err := pgxscan.Select(ctx, q, &bills, sql, args...); err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	return bills, nil
}

func (s *BillStore) execMatched(ctx context.Context, q Querier, query squirrel.Sqlizer, verb, key string) (bool, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build %s query: %w", verb, err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s bill %s: %w", verb, key, err)
	}
	return tag.RowsAffected() > 0, nil
}
