package ratelimit

import (
	"strings"
	"time"

	"github.com/Proton-105/protrader-agent/pkg/config"
)

// Rules resolves the configured limit of each command.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// CommandLimit returns the limit and window for command. ok is false when
// the command is not limited.
func (r *Rules) CommandLimit(command string) (limit int, window time.Duration, ok bool) {
	if r == nil || !r.config.Enabled {
		return 0, 0, false
	}

	rule, found := r.config.Commands[strings.ToLower(command)]
	if !found {
		rule = r.config.Default
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return 0, 0, false
	}

	return rule.Limit, rule.Window, true
}
