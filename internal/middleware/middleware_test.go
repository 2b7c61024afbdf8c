package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/protrader-agent/internal/agent"
	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/internal/ratelimit"
	"github.com/Proton-105/protrader-agent/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, int, time.Duration) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Enabled:  true,
		Commands: map[string]config.RateLimitRule{"screenshot": {Limit: 2, Window: time.Minute}},
	})

	calls := 0
	next := func(_ context.Context, cmd agent.Command) (agent.Reply, error) {
		calls++
		return agent.Reply{Type: cmd.Cmd}, nil
	}

	t.Run("rejects over the limit", func(t *testing.T) {
		calls = 0
		action := RateLimit(ratelimit.NewMemoryLimiter(testLogger()), rules, testLogger())(next)

		for i := 0; i < 2; i++ {
			_, err := action(context.Background(), agent.Command{Cmd: "screenshot"})
			require.NoError(t, err)
		}
		_, err := action(context.Background(), agent.Command{Cmd: "screenshot"})

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "E500", appErr.Code)
		assert.Contains(t, appErr.OperatorMessage, "too many 'screenshot' commands")
		assert.Equal(t, 2, calls)
	})

	t.Run("unlimited commands pass", func(t *testing.T) {
		calls = 0
		action := RateLimit(ratelimit.NewMemoryLimiter(testLogger()), rules, testLogger())(next)
		for i := 0; i < 5; i++ {
			_, err := action(context.Background(), agent.Command{Cmd: "status"})
			require.NoError(t, err)
		}
		assert.Equal(t, 5, calls)
	})

	t.Run("limiter failure passes", func(t *testing.T) {
		calls = 0
		action := RateLimit(failingLimiter{}, rules, testLogger())(next)
		_, err := action(context.Background(), agent.Command{Cmd: "screenshot"})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil limiter is a no-op", func(t *testing.T) {
		calls = 0
		action := RateLimit(nil, rules, testLogger())(next)
		_, err := action(context.Background(), agent.Command{Cmd: "screenshot"})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
	assert.Contains(t, buf.String(), "path=/readyz")
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "bytes=15")
}
