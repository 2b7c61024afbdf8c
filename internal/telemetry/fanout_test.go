package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testTime = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type collectingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *collectingSink) Name() string { return "collect" }

func (s *collectingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *collectingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEncodeFrames(t *testing.T) {
	testCases := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "login state",
			ev:   LoginState("SCAN_PRICES", testTime),
			want: `{"type":"login_state","ts":1769947200,"state":"SCAN_PRICES","data":{"state":"SCAN_PRICES"}}`,
		},
		{
			name: "price",
			ev:   Price("ble", "x10", 1250, testTime),
			want: `{"type":"hdv_price","ts":1769947200,"data":{"slug":"ble","qty":"x10","price":1250}}`,
		},
		{
			name: "kamas",
			ev:   Kamas(99300, testTime),
			want: `{"type":"kamas_value","ts":1769947200,"data":{"amount":99300}}`,
		},
		{
			name: "purchase",
			ev:   Purchase(TradePayload{Resource: "ble", QuantityLabel: "x100", Quantity: 100, Price: 7, Amount: 700}, testTime.Add(1500*time.Millisecond)),
			want: `{"type":"purchase_event","ts":1769947201,"data":{"resource":"ble","quantity_label":"x100","quantity":100,"price":7,"amount":700,"date":"2026-02-01T12:00:01Z"}}`,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			out, err := Encode(tc.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(out))
		})
	}
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	failing := &collectingSink{err: errors.New("down")}
	healthy := &collectingSink{}
	f := NewFanout(8, testLogger(), failing, healthy)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.Publish(Kamas(1, testTime))
	f.Publish(Kamas(2, testTime))

	assert.Eventually(t, func() bool { return healthy.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return failing.len() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

type blockingSink struct {
	release chan struct{}
	collectingSink
}

func (s *blockingSink) Name() string { return "slow" }

func (s *blockingSink) Deliver(ctx context.Context, ev Event) error {
	<-s.release
	return s.collectingSink.Deliver(ctx, ev)
}

func TestFanoutSlowSinkDoesNotDelayOthers(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	fast := &collectingSink{}
	f := NewFanout(8, testLogger(), slow, fast)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	for i := 1; i <= 3; i++ {
		f.Publish(Kamas(i, testTime))
	}

	assert.Eventually(t, func() bool { return fast.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, slow.len())

	close(slow.release)
	assert.Eventually(t, func() bool { return slow.len() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestFanoutDropsOldestAndFlushes(t *testing.T) {
	sink := &collectingSink{}
	f := NewFanout(2, testLogger(), sink)

	for i := 1; i <= 3; i++ {
		f.Publish(Kamas(i, testTime))
	}
	f.Flush(context.Background())

	require.Len(t, sink.events, 2)
	assert.Equal(t, KamasPayload{Amount: 2}, sink.events[0].Data)
	assert.Equal(t, KamasPayload{Amount: 3}, sink.events[1].Data)
}

type fakeSender struct {
	frames []any
	ok     bool
}

func (s *fakeSender) Send(frame any) bool {
	s.frames = append(s.frames, frame)
	return s.ok
}

func TestBusSink(t *testing.T) {
	sender := &fakeSender{ok: true}
	sink := NewBusSink(sender)
	require.NoError(t, sink.Deliver(context.Background(), Kamas(5, testTime)))
	assert.Len(t, sender.frames, 1)

	sender.ok = false
	assert.ErrorIs(t, sink.Deliver(context.Background(), Kamas(5, testTime)), ErrBusUnavailable)
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "protrader:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(client, "protrader:events")
	require.NoError(t, sink.Deliver(ctx, Price(" Ble ", "x10", 1250, testTime)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &frame))
	assert.Equal(t, TypePrice, frame["type"])

	price := mr.HGet(PricesKey("ble"), "x10")
	assert.Equal(t, "1250", price)
}

type mockMessenger struct {
	mock.Mock
}

func (m *mockMessenger) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	args := m.Called(to, what)
	msg, _ := args.Get(0).(*telebot.Message)
	return msg, args.Error(1)
}

func TestTelegramSinkForwardsTrades(t *testing.T) {
	m := &mockMessenger{}
	m.On("Send", telebot.ChatID(42), "Bought x100 ble for 700 kamas (7.00 each)").Return(&telebot.Message{}, nil).Once()

	sink := NewTelegramSink(m, 42)
	ctx := context.Background()

	require.NoError(t, sink.Deliver(ctx, Kamas(1, testTime)))
	require.NoError(t, sink.Deliver(ctx, Purchase(TradePayload{Resource: "ble", QuantityLabel: "x100", Quantity: 100, Price: 7, Amount: 700}, testTime)))

	m.AssertExpectations(t)
}

func TestTelegramSinkWrapsFailures(t *testing.T) {
	m := &mockMessenger{}
	m.On("Send", mock.Anything, mock.Anything).Return(nil, errors.New("flood wait"))

	sink := NewTelegramSink(m, 42)
	err := sink.Deliver(context.Background(), Sale(TradePayload{Resource: "ble", QuantityLabel: "x1", Quantity: 1, Price: 10, Amount: 10}, testTime))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "E300", appErr.Code)
}
