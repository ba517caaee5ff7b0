package billqueue

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mobiletoly/go-billsync/billsync"
)

func openMemQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func mustEnqueue(t *testing.T, q *Queue, a billsync.Action) Entry {
	t.Helper()
	e, err := q.Enqueue(context.Background(), a)
	if err != nil {
		t.Fatalf("enqueue %T: %v", a, err)
	}
	return e
}

func snapshotIDs(t *testing.T, q *Queue) []string {
	t.Helper()
	entries, err := q.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestQueue_EnqueueSnapshotOrder(t *testing.T) {
	q := openMemQueue(t)
	key := NewCorrelationKey()

	create := mustEnqueue(t, q, NewCreateBill(key, "Electricity", decimal.RequireFromString("84.20"), "2025-02-15", "utilities", false))
	update := mustEnqueue(t, q, NewUpdateBill(key, "Electricity (Feb)", decimal.RequireFromString("90"), "2025-02-15", "utilities"))
	status := mustEnqueue(t, q, NewUpdateBillStatus(key, true))

	entries, err := q.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{create.ID, update.ID, status.ID}
	for i, e := range entries {
		if e.ID != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], e.ID)
		}
		if e.CorrelationKey != key {
			t.Fatalf("entry %d: expected key %s, got %s", i, key, e.CorrelationKey)
		}
		if e.Attempts != 0 || e.LastAttemptAt != nil {
			t.Fatalf("entry %d: expected no attempts yet", i)
		}
	}
	if entries[0].Type != billsync.ActionCreate || entries[2].Type != billsync.ActionUpdateStatus {
		t.Fatalf("unexpected types: %s, %s", entries[0].Type, entries[2].Type)
	}

	// Snapshot must not mutate the queue.
	if n, _ := q.Pending(context.Background()); n != 3 {
		t.Fatalf("expected 3 pending after snapshot, got %d", n)
	}

	a, err := entries[1].Action()
	if err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	upd, ok := a.(*billsync.UpdateBill)
	if !ok {
		t.Fatalf("expected *billsync.UpdateBill, got %T", a)
	}
	if upd.Fields.Description != "Electricity (Feb)" || !upd.Fields.Amount.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("unexpected update fields: %+v", upd.Fields)
	}
}

func TestQueue_EnqueueAssignsMissingID(t *testing.T) {
	q := openMemQueue(t)

	e := mustEnqueue(t, q, &billsync.DeleteBill{Key: "k1"})
	if e.ID == "" {
		t.Fatal("expected a generated action id")
	}
	if got := snapshotIDs(t, q); !reflect.DeepEqual(got, []string{e.ID}) {
		t.Fatalf("unexpected snapshot %v", got)
	}
}

func TestQueue_EnqueueRejectsInvalidActions(t *testing.T) {
	q := openMemQueue(t)

	cases := []billsync.Action{
		NewCreateBill("k1", "", decimal.NewFromInt(1), "2025-01-01", "", false),
		NewCreateBill("k1", "Rent", decimal.NewFromInt(-5), "2025-01-01", "", false),
		NewUpdateBill("k1", "Rent", decimal.NewFromInt(5), "01/02/2025", ""),
		NewCreateBill("k1", "Rent", decimal.RequireFromString("10.555"), "2025-01-01", "", false),
		NewCreateBill("k1", "Rent", decimal.New(1, 12), "2025-01-01", "", false),
		NewUpdateBill("k1", "Rent", decimal.NewFromInt(5), "0000-01-01", ""),
		NewDeleteBill(""),
	}
	for _, a := range cases {
		_, err := q.Enqueue(context.Background(), a)
		var payloadErr *billsync.PayloadError
		if !errors.As(err, &payloadErr) {
			t.Fatalf("expected PayloadError for %#v, got %v", a, err)
		}
	}
	if n, _ := q.Pending(context.Background()); n != 0 {
		t.Fatalf("invalid actions must not be queued, got %d", n)
	}
}

func TestQueue_EnqueueSameActionTwiceQueuesTwoActions(t *testing.T) {
	q := openMemQueue(t)

	a := NewDeleteBill("k1")
	a.ID = "caller-chosen"
	first := mustEnqueue(t, q, a)
	second := mustEnqueue(t, q, a)

	if first.ID == "caller-chosen" || second.ID == "caller-chosen" {
		t.Fatal("caller-supplied action id must be replaced")
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct action ids, got %s twice", first.ID)
	}
	if got, want := snapshotIDs(t, q), []string{first.ID, second.ID}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestQueue_PruneRemovesExactlyGivenIDs(t *testing.T) {
	q := openMemQueue(t)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustEnqueue(t, q, NewDeleteBill(NewCorrelationKey())).ID)
	}

	removed, err := q.Prune(context.Background(), []string{ids[1], ids[3], "not-queued"})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if got, want := snapshotIDs(t, q), []string{ids[0], ids[2], ids[4]}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v left in order, got %v", want, got)
	}

	if removed, err := q.Prune(context.Background(), nil); err != nil || removed != 0 {
		t.Fatalf("empty prune: removed=%d err=%v", removed, err)
	}
}

func TestQueue_MarkAttempt(t *testing.T) {
	q := openMemQueue(t)
	e := mustEnqueue(t, q, NewDeleteBill("k1"))

	if err := q.markAttempt(context.Background(), []string{e.ID}); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}
	if err := q.markAttempt(context.Background(), []string{e.ID}); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}
	entries, err := q.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if entries[0].Attempts != 2 || entries[0].LastAttemptAt == nil {
		t.Fatalf("expected 2 recorded attempts, got %+v", entries[0])
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first := mustEnqueue(t, q1, NewCreateBill("k1", "Insurance", decimal.RequireFromString("310.00"), "2025-07-01", "car", false))
	second := mustEnqueue(t, q1, NewUpdateBillStatus("k1", true))
	if err := q1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()

	if got, want := snapshotIDs(t, q2), []string{first.ID, second.ID}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v after reopen, got %v", want, got)
	}
}
