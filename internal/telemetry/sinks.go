package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	redis "github.com/redis/go-redis/v9"
	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
)

// ErrBusUnavailable is returned when the realtime bus refused a frame.
var ErrBusUnavailable = errors.New("realtime bus unavailable")

// FrameSender queues a JSON frame for the operator. transport.Client implements it.
type FrameSender interface {
	Send(frame any) bool
}

// BusSink forwards every event to the operator bus.
type BusSink struct {
	sender FrameSender
}

// NewBusSink wraps sender.
func NewBusSink(sender FrameSender) *BusSink {
	return &BusSink{sender: sender}
}

// Name implements Sink.
func (s *BusSink) Name() string { return "bus" }

// Deliver implements Sink.
func (s *BusSink) Deliver(_ context.Context, ev Event) error {
	if !s.sender.Send(ev) {
		return ErrBusUnavailable
	}
	return nil
}

// LogSink logs every event at debug level. It stands in for the bus when the
// agent runs without an operator.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink logging through log.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(ctx context.Context, ev Event) error {
	s.log.DebugContext(ctx, "telemetry event", slog.String("type", ev.Type), slog.String("state", ev.State), slog.Any("data", ev.Data))
	return nil
}

const pricesKeyPrefix = "market:prices:"

// RedisSink mirrors events on a pub/sub channel and keeps the latest price of
// every resource tier in a hash.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink publishes on channel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.channel, payload)
	if p, ok := ev.Data.(PricePayload); ok {
		pipe.HSet(ctx, PricesKey(p.Slug), p.Qty, p.Price)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewExternalAPIError("redis", err)
	}
	return nil
}

// PricesKey is the hash holding the latest prices of slug.
func PricesKey(slug string) string {
	return pricesKeyPrefix + strings.ToLower(strings.TrimSpace(slug))
}

// Messenger is the part of telebot.Bot the Telegram sink uses.
type Messenger interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramSink notifies an operator chat about trades. A circuit breaker stops
// calling Telegram while it keeps failing.
type TelegramSink struct {
	bot     Messenger
	chat    telebot.ChatID
	breaker *apperrors.CircuitBreaker
}

// NewTelegramSink sends to chatID through bot.
func NewTelegramSink(bot Messenger, chatID int64) *TelegramSink {
	return &TelegramSink{
		bot:     bot,
		chat:    telebot.ChatID(chatID),
		breaker: apperrors.NewCircuitBreaker(),
	}
}

// Name implements Sink.
func (s *TelegramSink) Name() string { return "telegram" }

// Deliver implements Sink. Only trade events are forwarded.
func (s *TelegramSink) Deliver(_ context.Context, ev Event) error {
	text, ok := Describe(ev)
	if !ok {
		return nil
	}

	err := s.breaker.Call(func() error {
		_, err := s.bot.Send(s.chat, text)
		return err
	})
	if err != nil {
		return apperrors.NewExternalAPIError("telegram", err)
	}
	return nil
}

// Describe renders trade events as a short operator message.
func Describe(ev Event) (string, bool) {
	p, ok := ev.Data.(TradePayload)
	if !ok {
		return "", false
	}

	var verb string
	switch ev.Type {
	case TypePurchaseEvent:
		verb = "Bought"
	case TypeSaleEvent:
		verb = "Listed"
	default:
		return "", false
	}

	return fmt.Sprintf("%s %s %s for %d kamas (%.2f each)", verb, p.QuantityLabel, p.Resource, p.Amount, p.Price), true
}
