package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Proton-105/protrader-agent/pkg/config"
)

func TestMaskingHandler_MasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewTextHandler(&buf, nil)))

	log.Info("connecting",
		slog.String("token", "123:abc"),
		slog.Group("database", slog.String("dsn", "postgres://u:p@db/x"), slog.String("host", "db")),
		slog.String("slug", "frene"),
	)

	out := buf.String()
	assert.NotContains(t, out, "123:abc")
	assert.NotContains(t, out, "postgres://")
	assert.Contains(t, out, "token=***")
	assert.Contains(t, out, "database.host=db")
	assert.Contains(t, out, "slug=frene")
}

func TestNewWithWriter_AddsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{AppEnv: "test", Logger: config.LoggerConfig{Level: "debug", Format: "json"}}
	log := NewWithWriter(cfg, &buf)

	ctx := WithCommandID(WithRunID(context.Background(), "run-1"), "cmd-7")
	log.DebugContext(ctx, "tick")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"command_id":"cmd-7"`)
	assert.Contains(t, out, `"env":"test"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestContextHelpers_EmptyContext(t *testing.T) {
	assert.Empty(t, RunIDFromContext(context.Background()))
	assert.Empty(t, CommandIDFromContext(context.Background()))
	assert.NotEmpty(t, NewID())
}
