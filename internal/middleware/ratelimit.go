package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/Proton-105/protrader-agent/internal/agent"
	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/internal/ratelimit"
)

// RateLimit rejects commands that exceed their configured rate with an E500
// error. Limiter failures let the command through.
func RateLimit(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) agent.Middleware {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil || rules == nil {
		return func(next agent.Action) agent.Action { return next }
	}

	return func(next agent.Action) agent.Action {
		return func(ctx context.Context, cmd agent.Command) (agent.Reply, error) {
			limit, window, ok := rules.CommandLimit(cmd.Cmd)
			if !ok {
				return next(ctx, cmd)
			}

			result, err := limiter.Check(ctx, "command:"+cmd.Cmd, limit, window)
			if err != nil {
				log.WarnContext(ctx, "rate limiter error", slog.String("cmd", cmd.Cmd), slog.Any("error", err))
				return next(ctx, cmd)
			}

			if !result.Allowed {
				retryAfter := result.RetryAfter(time.Now())
				log.WarnContext(ctx, "rate limit exceeded", slog.String("cmd", cmd.Cmd), slog.Int("retry_after_s", retryAfter))
				return agent.Reply{}, apperrors.NewRateLimitError(cmd.Cmd, retryAfter)
			}

			return next(ctx, cmd)
		}
	}
}
