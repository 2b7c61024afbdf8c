package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/internal/idempotency"
	"github.com/Proton-105/protrader-agent/internal/transport"
)

func TestDispatchUnknownCommand(t *testing.T) {
	d := newTestDispatcher(&fakeSender{})

	got := d.Dispatch(context.Background(), Command{Cmd: "dance", CommandID: "c-9"})
	assert.JSONEq(t,
		`{"type":"agent_info","ts":1769947200,"data":{"info":"unknown command 'dance'"},"meta":{"command_id":"c-9"}}`,
		toJSON(t, got))
}

func TestDispatchActionFailure(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "plain error", err: errors.New("disk full"), wantMsg: "disk full"},
		{name: "validation", err: apperrors.NewValidationError("items missing"), wantMsg: "invalid command payload: items missing"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(&fakeSender{})
			d.Register("explode", func(context.Context, Command) (Reply, error) { return Reply{}, tc.err })

			got := dispatch(t, d, "explode", nil)
			assert.Equal(t, TypeAgentError, got["type"])
			assert.Equal(t, tc.wantMsg, got["error"])
			assert.Equal(t, map[string]any{"command_id": "c-1", "cmd": "explode"}, got["meta"])
			assert.EqualValues(t, 1769947200, got["ts"])
		})
	}
}

func TestDispatchMergesReplyMeta(t *testing.T) {
	d := newTestDispatcher(&fakeSender{})
	d.Register("echo", func(_ context.Context, cmd Command) (Reply, error) {
		return Reply{Type: "echoed", Data: cmd.Args, Meta: map[string]any{"path": "/tmp/x"}}, nil
	})

	got := dispatch(t, d, "echo", map[string]any{"a": 1})
	assert.JSONEq(t,
		`{"type":"echoed","ts":1769947200,"data":{"a":1},"meta":{"command_id":"c-1","path":"/tmp/x"}}`,
		toJSON(t, got))
}

func TestPing(t *testing.T) {
	d := newTestDispatcher(&fakeSender{})
	got := dispatch(t, d, "ping", nil)
	assert.Equal(t, "pong", got["type"])
	assert.Equal(t, map[string]any{"ts": float64(1769947200)}, got["data"])
	assert.Contains(t, d.Commands(), "ping")
}

func TestDispatchReplaysByCommandID(t *testing.T) {
	idem := idempotency.NewManager(idempotency.NewMemoryStore(), testLogger())
	d := NewDispatcher(&fakeSender{}, idem, time.Hour, nil, testLogger())
	d.now = func() time.Time { return testNow }

	calls := 0
	d.Register("start_script", func(context.Context, Command) (Reply, error) {
		calls++
		return Reply{Type: "script_result", Data: map[string]any{"ok": true}}, nil
	})

	cmd := Command{Cmd: "start_script", CommandID: "same"}
	first := d.Dispatch(context.Background(), cmd)
	second := d.Dispatch(context.Background(), cmd)

	assert.Equal(t, 1, calls)
	assert.JSONEq(t, toJSON(t, first), toJSON(t, second))

	d.Dispatch(context.Background(), Command{Cmd: "start_script", CommandID: "other"})
	assert.Equal(t, 2, calls)
}

func TestHandleFrames(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender)

	d.Handle(context.Background(), transport.Frame{"type": transport.TypeLocalInfo, "msg": "connected"})
	d.Handle(context.Background(), transport.Frame{"type": "broadcast"})
	assert.Equal(t, 0, sender.count(), "non-command frames get no reply")

	d.Handle(context.Background(), transport.Frame{"type": "command", "cmd": "ping", "command_id": float64(12)})
	reply := sender.decoded(t, 0)
	assert.Equal(t, "pong", reply["type"])
	assert.Equal(t, map[string]any{"command_id": "12"}, reply["meta"])

	d.Handle(context.Background(), transport.Frame{"type": "command", "args": map[string]any{}})
	bad := sender.decoded(t, 1)
	assert.Equal(t, TypeAgentError, bad["type"])
	assert.Contains(t, bad["error"], "command without cmd")
}

type chanReceiver chan transport.Frame

func (c chanReceiver) Receive(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-c:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestServe(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender)
	src := make(chanReceiver, 2)
	src <- transport.Frame{"type": "command", "cmd": "ping"}
	src <- transport.Frame{"type": "command", "cmd": "nope"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, src) }()

	assert.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestDispatchMiddlewareOrder(t *testing.T) {
	d := newTestDispatcher(&fakeSender{})

	var order []string
	tag := func(name string) Middleware {
		return func(next Action) Action {
			return func(ctx context.Context, cmd Command) (Reply, error) {
				order = append(order, name)
				return next(ctx, cmd)
			}
		}
	}
	d.Use(tag("outer"), tag("inner"))

	got := d.Dispatch(context.Background(), Command{Cmd: "ping", CommandID: "c-1"})

	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, "pong", asMap(t, got)["type"])
}

func TestDispatchMiddlewareRejects(t *testing.T) {
	d := newTestDispatcher(&fakeSender{})
	d.Use(func(Action) Action {
		return func(_ context.Context, cmd Command) (Reply, error) {
			return Reply{}, apperrors.NewRateLimitError(cmd.Cmd, 30)
		}
	})

	got := asMap(t, d.Dispatch(context.Background(), Command{Cmd: "ping", CommandID: "c-2"}))

	assert.Equal(t, TypeAgentError, got["type"])
	assert.Equal(t, "too many 'ping' commands, retry in 30 s", got["error"])
}
