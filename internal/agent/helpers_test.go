package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Unix(1769947200, 0)

type fakeSender struct {
	mu     sync.Mutex
	frames []any
}

func (s *fakeSender) Send(frame any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// decoded returns frame i as generic JSON.
func (s *fakeSender) decoded(t *testing.T, i int) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.frames), i)
	return asMap(t, s.frames[i])
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func newTestDispatcher(sender Sender) *Dispatcher {
	d := NewDispatcher(sender, nil, time.Hour, nil, testLogger())
	d.now = func() time.Time { return testNow }
	return d
}

func dispatch(t *testing.T, d *Dispatcher, cmd string, args map[string]any) map[string]any {
	t.Helper()
	return asMap(t, d.Dispatch(context.Background(), Command{Type: TypeCommand, Cmd: cmd, Args: args, CommandID: "c-1"}))
}
