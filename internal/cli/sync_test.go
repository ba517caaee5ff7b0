package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-billsync/billsync"
)

// ackServer acknowledges every submitted action.
func ackServer(t *testing.T, submissions *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync/queue" || r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		submissions.Add(1)
		var req billsync.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ids := make([]string, len(req.Actions))
		for i, a := range req.Actions {
			ids[i] = a.ID
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(billsync.SubmitResponse{Success: true, ProcessedIDs: ids})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func queueBill(t *testing.T, cfg string) {
	t.Helper()
	_, err := run(t, "--config", cfg, "queue", "add", "--description", "Rent", "--amount", "10", "--due", "2025-03-01")
	require.NoError(t, err)
}

func TestSyncDrainsQueue(t *testing.T) {
	var submissions atomic.Int32
	srv := ackServer(t, &submissions)
	cfg := writeConfig(t, srv.URL, "good-token")
	queueBill(t, cfg)
	queueBill(t, cfg)

	out, err := run(t, "--config", cfg, "--format", "json", "sync")
	require.NoError(t, err)

	var view syncView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.EqualValues(t, 2, view.Pruned)
	assert.Equal(t, 0, view.Pending)
	assert.Empty(t, view.Error)
	assert.EqualValues(t, 1, submissions.Load())

	out, err = run(t, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Equal(t, "All changes synced\n", out)
}

func TestSyncWithoutTokenKeepsQueue(t *testing.T) {
	var submissions atomic.Int32
	srv := ackServer(t, &submissions)
	cfg := writeConfig(t, srv.URL, "")
	queueBill(t, cfg)

	out, err := run(t, "--config", cfg, "sync", "--once")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "1 changes saved locally")
	assert.Zero(t, submissions.Load())

	out, err = run(t, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Equal(t, "1 changes saved locally, not yet synced\n", out)
}

func TestSyncRejectedTokenIsCommandError(t *testing.T) {
	var submissions atomic.Int32
	srv := ackServer(t, &submissions)
	cfg := writeConfig(t, srv.URL, "stale-token")
	queueBill(t, cfg)

	_, err := run(t, "--config", cfg, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSyncUnreachableServerIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := writeConfig(t, url, "good-token")
	queueBill(t, cfg)

	_, err := run(t, "--config", cfg, "sync", "--once")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestTokenCommand(t *testing.T) {
	cfg := writeConfig(t, "", "")

	out, err := run(t, "--config", cfg, "--format", "json", "token", "--user", "alice", "--ttl", "1h")
	require.NoError(t, err)

	var view tokenView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "alice", view.User)
	assert.WithinDuration(t, time.Now().Add(time.Hour), view.ExpiresAt, time.Minute)

	claims, err := billsync.NewJWTAuth(testSecret).ValidateToken(view.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "cli", claims.SessionID)
}

func TestTokenCommandRequiresUser(t *testing.T) {
	cfg := writeConfig(t, "", "")
	_, err := run(t, "--config", cfg, "token")
	require.Error(t, err)
}
