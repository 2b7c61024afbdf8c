package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/protrader-agent/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type checkFunc func(context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	connected := false
	c := NewChecker(testLogger())
	c.AddCheck("redis", NewRedisChecker(client))
	c.AddCheck("link", NewLinkChecker(func() bool { return connected }))
	c.AddCheck("", NewLinkChecker(nil))
	c.AddCheck("ignored", nil)

	results := c.Check(context.Background())
	assert.Equal(t, map[string]string{
		"redis": "OK",
		"link":  "operator link is disconnected",
	}, results)
	assert.False(t, Healthy(results))

	connected = true
	assert.True(t, Healthy(c.Check(context.Background())))
}

func TestNilCheckers(t *testing.T) {
	assert.ErrorIs(t, NewDBChecker(nil).HealthCheck(context.Background()), sql.ErrConnDone)
	assert.ErrorIs(t, NewRedisChecker(nil).HealthCheck(context.Background()), redis.ErrClosed)
	assert.Error(t, NewLinkChecker(nil).HealthCheck(context.Background()))
}

type fakeRuns struct {
	snap *state.Snapshot
	err  error
}

func (f fakeRuns) Latest(context.Context) (*state.Snapshot, error) { return f.snap, f.err }

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestRouter(t *testing.T) {
	failing := NewChecker(testLogger())
	failing.AddCheck("database", checkFunc(func(context.Context) error { return errors.New("connection refused") }))

	healthy := NewChecker(testLogger())
	healthy.AddCheck("link", NewLinkChecker(func() bool { return true }))

	started := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	running := &state.Snapshot{RunID: "run-1", Status: state.StatusRunning, State: "SCAN_PRICES", StartedAt: started}

	testCases := []struct {
		name     string
		checker  *Checker
		runs     RunReader
		path     string
		wantCode int
		wantBody map[string]any
	}{
		{name: "liveness", checker: failing, path: "/healthz", wantCode: http.StatusOK, wantBody: map[string]any{"status": "OK"}},
		{name: "ready", checker: healthy, path: "/readyz", wantCode: http.StatusOK, wantBody: map[string]any{"link": "OK"}},
		{name: "not ready", checker: failing, path: "/readyz", wantCode: http.StatusServiceUnavailable, wantBody: map[string]any{"database": "connection refused"}},
		{name: "no runs", checker: healthy, runs: fakeRuns{err: state.ErrSnapshotNotFound}, path: "/status", wantCode: http.StatusOK, wantBody: map[string]any{"active": false}},
		{name: "no tracker", checker: healthy, path: "/status", wantCode: http.StatusOK, wantBody: map[string]any{"active": false}},
		{name: "tracker error", checker: healthy, runs: fakeRuns{err: errors.New("boom")}, path: "/status", wantCode: http.StatusInternalServerError, wantBody: map[string]any{"error": "status unavailable"}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			code, body := get(t, NewRouter(tc.checker, tc.runs, testLogger()), tc.path)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantBody, body)
		})
	}

	t.Run("active run", func(t *testing.T) {
		code, body := get(t, NewRouter(healthy, fakeRuns{snap: running}, testLogger()), "/status")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["active"])
		assert.Equal(t, "run-1", body["run"].(map[string]any)["run_id"])
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewRouter(healthy, nil, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}
