package billsync_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mobiletoly/go-billsync/billsync"
)

type integrationHarness struct {
	ctx     context.Context
	pool    *pgxpool.Pool
	service *billsync.SyncService
}

func newIntegrationHarness(t *testing.T) *integrationHarness {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("billsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	config := billsync.DefaultServiceConfig()
	config.AppName = "go-billsync-integration-test"
	config.TxRetryBackoff = 10 * time.Millisecond
	service, err := billsync.NewSyncService(pool, config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	return &integrationHarness{ctx: ctx, pool: pool, service: service}
}

func (h *integrationHarness) userCtx() context.Context {
	return billsync.ContextWithPrincipal(h.ctx, billsync.Principal{UserID: "user-" + uuid.NewString()})
}

func (h *integrationHarness) submit(t *testing.T, ctx context.Context, actions ...billsync.Action) (*billsync.SubmitResponse, error) {
	t.Helper()
	req := &billsync.SubmitRequest{}
	for _, a := range actions {
		env, err := billsync.EncodeAction(a)
		require.NoError(t, err)
		req.Actions = append(req.Actions, env)
	}
	return h.service.ProcessSubmit(ctx, req)
}

func rent(id, key, amount string) *billsync.CreateBill {
	return &billsync.CreateBill{ID: id, Key: key, Fields: billsync.BillFields{
		Description: "Rent",
		Amount:      decimal.RequireFromString(amount),
		DueDate:     "2025-05-01",
		Category:    "home",
	}}
}

func TestIntegration_CausalOrderAndNetZero(t *testing.T) {
	h := newIntegrationHarness(t)
	ctx := h.userCtx()

	resp, err := h.submit(t, ctx,
		rent("a1", "k1", "1200"),
		&billsync.UpdateBill{ID: "a2", Key: "k1", Fields: billsync.BillFields{
			Description: "Rent (renewed)", Amount: decimal.RequireFromString("1250.50"), DueDate: "2025-06-01", Category: "home",
		}},
		&billsync.UpdateBillStatus{ID: "a3", Key: "k1", IsPaid: true},
		rent("a4", "k2", "10"),
		&billsync.DeleteBill{ID: "a5", Key: "k2"},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, resp.ProcessedIDs)
	require.Empty(t, resp.UnmatchedIDs)

	bills, err := h.service.ListBills(ctx)
	require.NoError(t, err)
	require.Len(t, bills, 1, "create followed by delete leaves no row")
	require.Equal(t, "k1", bills[0].CorrelationKey)
	require.Equal(t, "Rent (renewed)", bills[0].Description)
	require.True(t, decimal.RequireFromString("1250.5").Equal(bills[0].Amount))
	require.Equal(t, "2025-06-01", bills[0].DueDate)
	require.True(t, bills[0].IsPaid)
}

func TestIntegration_ReplayedCreateDoesNotDuplicate(t *testing.T) {
	h := newIntegrationHarness(t)
	ctx := h.userCtx()

	_, err := h.submit(t, ctx, rent("a1", "k1", "100"))
	require.NoError(t, err)
	// The acknowledgement was lost; the client resubmits the same action.
	_, err = h.submit(t, ctx, rent("a1", "k1", "100"), &billsync.UpdateBillStatus{ID: "a2", Key: "k1", IsPaid: true})
	require.NoError(t, err)

	bills, err := h.service.ListBills(ctx)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	require.True(t, bills[0].IsPaid)
}

func TestIntegration_InvalidActionRejectsWholeBatch(t *testing.T) {
	h := newIntegrationHarness(t)
	ctx := h.userCtx()

	_, err := h.submit(t, ctx, rent("a1", "k1", "75"))
	require.NoError(t, err)

	negative := rent("a4", "k3", "1")
	negative.Fields.Amount = decimal.RequireFromString("-1")
	_, err = h.submit(t, ctx,
		rent("a2", "k2", "20"),
		&billsync.UpdateBillStatus{ID: "a3", Key: "k1", IsPaid: true},
		negative,
	)
	var payloadErr *billsync.PayloadError
	require.True(t, errors.As(err, &payloadErr))
	require.Equal(t, "a4", payloadErr.ActionID)

	bills, err := h.service.ListBills(ctx)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	require.False(t, bills[0].IsPaid)
}

// failBillWrites installs a trigger that makes Postgres reject any bill write
// carrying description.
func failBillWrites(t *testing.T, pool *pgxpool.Pool, description string) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION fail_bill_write() RETURNS trigger AS $$
		BEGIN
			IF NEW.description = %s THEN
				RAISE EXCEPTION 'bill write refused' USING ERRCODE = 'check_violation';
			END IF;
			RETURN NEW;
		END $$ LANGUAGE plpgsql`, "'"+strings.ReplaceAll(description, "'", "''")+"'"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TRIGGER fail_bill_write BEFORE INSERT OR UPDATE ON bills
		FOR EACH ROW EXECUTE FUNCTION fail_bill_write()`)
	require.NoError(t, err)
}

func TestIntegration_DatabaseFailureRollsBack(t *testing.T) {
	h := newIntegrationHarness(t)
	ctx := h.userCtx()

	failBillWrites(t, h.pool, "Yacht")
	yacht := rent("a2", "k2", "1")
	yacht.Fields.Description = "Yacht"

	_, err := h.submit(t, ctx, rent("a1", "k1", "5"), yacht)
	var applyErr *billsync.ApplyError
	require.True(t, errors.As(err, &applyErr))
	require.Equal(t, "a2", applyErr.ActionID)

	bills, err := h.service.ListBills(ctx)
	require.NoError(t, err)
	require.Empty(t, bills, "no partial batch may be visible")
}

func TestIntegration_PrincipalsAreIsolated(t *testing.T) {
	h := newIntegrationHarness(t)
	alice := h.userCtx()
	bob := h.userCtx()

	_, err := h.submit(t, alice, rent("a1", "shared-key", "10"))
	require.NoError(t, err)

	resp, err := h.submit(t, bob, &billsync.UpdateBillStatus{ID: "b1", Key: "shared-key", IsPaid: true},
		&billsync.DeleteBill{ID: "b2", Key: "shared-key"})
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, resp.UnmatchedIDs)

	bills, err := h.service.ListBills(alice)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	require.False(t, bills[0].IsPaid)

	bills, err = h.service.ListBills(bob)
	require.NoError(t, err)
	require.Empty(t, bills)
}
