package logger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type runIDKey struct{}

type commandIDKey struct{}

// NewID returns a fresh random identifier for runs and commands.
func NewID() string {
	return uuid.NewString()
}

// WithRunID stores the workflow run identifier in ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run identifier stored in ctx, or an empty string when absent.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}

	return ""
}

// WithCommandID stores the operator command identifier in ctx.
func WithCommandID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, commandIDKey{}, id)
}

// CommandIDFromContext returns the command identifier stored in ctx, or an empty string when absent.
func CommandIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(commandIDKey{}).(string); ok {
		return id
	}

	return ""
}

// ContextHandler adds run_id and command_id from the record context.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}

func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if id := RunIDFromContext(ctx); id != "" {
		record.AddAttrs(slog.String("run_id", id))
	}
	if id := CommandIDFromContext(ctx); id != "" {
		record.AddAttrs(slog.String("command_id", id))
	}

	return h.next.Handle(ctx, record)
}
