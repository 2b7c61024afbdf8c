// Package idempotency deduplicates operator commands by command id: a command
// replayed while it runs is rejected, and a replay after it completed returns
// the recorded reply without running it again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ErrRequestInProgress is returned for a replay of a command that is still running.
var ErrRequestInProgress = errors.New("command with this id is already in progress")

const lockTTL = 5 * time.Minute

// Operation produces the reply recorded for a command.
type Operation func(ctx context.Context) (any, error)

// Result is the reply of a command. Replayed replies come back as raw JSON.
type Result struct {
	Response  any
	FromCache bool
}

// Manager runs operations at most once per key.
type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store Store
	log   *slog.Logger
}

// NewManager builds a Manager over store.
func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{store: store, log: log}
}

// Execute runs fn unless key already completed. Failed operations are not
// recorded, so the operator can retry them with the same id.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil && record.Status == StatusCompleted {
		m.log.DebugContext(ctx, "replaying recorded reply", slog.String("key", key))
		return &Result{Response: json.RawMessage(record.Response), FromCache: true}, nil
	}

	locked, err := m.store.Lock(ctx, key, lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrRequestInProgress
	}
	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			m.log.WarnContext(ctx, "failed to release command lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(ctx, key, &Record{Status: StatusCompleted, Response: encoded}, ttl); err != nil {
		m.log.WarnContext(ctx, "failed to record command reply", slog.String("key", key), slog.Any("error", err))
	}

	return &Result{Response: result}, nil
}
