// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package billqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mobiletoly/go-billsync/billsync"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one pending action as stored in the queue
type Entry struct {
	Seq            int64
	ID             string
	Type           billsync.ActionType
	CorrelationKey string
	Payload        json.RawMessage
	Attempts       int
	QueuedAt       time.Time
	LastAttemptAt  *time.Time
}

// Envelope returns the wire form of the entry
func (e Entry) Envelope() billsync.ActionEnvelope {
	return billsync.ActionEnvelope{ID: e.ID, Type: string(e.Type), Payload: e.Payload}
}

// Action decodes the entry back into its typed action.
func (e Entry) Action() (billsync.Action, error) {
	return billsync.DecodeAction(e.Envelope())
}

// Queue is the durable, ordered store of actions that the server has not yet
// acknowledged. Prune is the only removal path.
type Queue struct {
	db      *sql.DB
	ownsDB  bool
	writeMu sync.Mutex // Serialize writes; SQLite has a single writer
	now     func() time.Time
}

// Open creates or opens a queue database at path.
//
// The connection is configured with WAL, synchronous=NORMAL, a 5 second busy
// timeout and foreign keys, and is limited to one open connection so that
// ":memory:" databases behave like files.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	q, err := NewQueue(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	q.ownsDB = true
	return q, nil
}

// NewQueue creates the queue table in an existing database
func NewQueue(db *sql.DB) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return &Queue{db: db, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database when the queue opened it
func (q *Queue) Close() error {
	if !q.ownsDB || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// DB returns the underlying database
func (q *Queue) DB() *sql.DB {
	return q.db
}

// Enqueue validates the action and appends it durably under a fresh uuid
// action id, overwriting any id the caller set. Enqueueing the same value
// twice therefore queues two distinct actions. The stored entry is returned
// once committed.
func (q *Queue) Enqueue(ctx context.Context, action billsync.Action) (Entry, error) {
	if action == nil {
		return Entry{}, fmt.Errorf("action cannot be nil")
	}
	if err := action.Accept(ctx, idAssigner{}); err != nil {
		return Entry{}, err
	}

	env, err := billsync.EncodeAction(action)
	if err != nil {
		return Entry{}, err
	}
	// Same validation the server runs, so a bad action never reaches the queue.
	if _, err := billsync.DecodeAction(env); err != nil {
		return Entry{}, fmt.Errorf("invalid action: %w", err)
	}

	entry := Entry{
		ID:             env.ID,
		Type:           action.Type(),
		CorrelationKey: action.CorrelationKey(),
		Payload:        env.Payload,
		QueuedAt:       q.now().UTC().Truncate(time.Millisecond),
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO _sync_queue (action_id, type, correlation_key, payload, queued_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Type), entry.CorrelationKey, string(entry.Payload), entry.QueuedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to enqueue action %s: %w", entry.ID, err)
	}
	if entry.Seq, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("failed to read queue sequence: %w", err)
	}
	return entry, nil
}

// Snapshot returns every pending entry in queue order without modifying the queue
func (q *Queue) Snapshot(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, action_id, type, correlation_key, payload, attempts, queued_at, last_attempt_at
		FROM _sync_queue
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			typ         string
			payload     string
			queuedAt    int64
			lastAttempt sql.NullInt64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &typ, &e.CorrelationKey, &payload, &e.Attempts, &queuedAt, &lastAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.Type = billsync.ActionType(typ)
		e.Payload = json.RawMessage(payload)
		e.QueuedAt = time.UnixMilli(queuedAt).UTC()
		if lastAttempt.Valid {
			t := time.UnixMilli(lastAttempt.Int64).UTC()
			e.LastAttemptAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return entries, nil
}

// Prune removes exactly the entries whose id is in ids, in one transaction.
// Unknown ids are ignored. It returns the number of removed entries.
func (q *Queue) Prune(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	var removed int64
	err := q.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM _sync_queue WHERE action_id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare prune: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to prune action %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read pruned rows: %w", err)
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Pending returns the number of entries awaiting acknowledgement
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// markAttempt records a submission attempt on the given entries.
func (q *Queue) markAttempt(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	at := q.now().UTC().UnixMilli()
	return q.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE _sync_queue SET attempts = attempts + 1, last_attempt_at = ? WHERE action_id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare attempt update: %w", err)
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, at, id); err != nil {
				return fmt.Errorf("failed to record attempt for %s: %w", id, err)
			}
		}
		return nil
	})
}

func (q *Queue) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %w (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// idAssigner stamps an action with a fresh id.
type idAssigner struct{}

func (idAssigner) VisitCreate(_ context.Context, a *billsync.CreateBill) error {
	a.ID = uuid.NewString()
	return nil
}

func (idAssigner) VisitUpdate(_ context.Context, a *billsync.UpdateBill) error {
	a.ID = uuid.NewString()
	return nil
}

func (idAssigner) VisitUpdateStatus(_ context.Context, a *billsync.UpdateBillStatus) error {
	a.ID = uuid.NewString()
	return nil
}

func (idAssigner) VisitDelete(_ context.Context, a *billsync.DeleteBill) error {
	a.ID = uuid.NewString()
	return nil
}
