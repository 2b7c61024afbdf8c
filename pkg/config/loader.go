// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PROTRADER_TRANSPORT_URL.
const EnvPrefix = "PROTRADER"

// Load reads configuration from a YAML file and environment variables, validates it, and returns the resulting Config.
// An empty path selects ./configs/<APP_ENV>.yaml.
func Load(path string) (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	if path == "" {
		path = fmt.Sprintf("./configs/%s.yaml", env)
	}

	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = env
	}

	return cfg, v, nil
}

// Decode validates an in-memory settings tree as if it had been read from disk.
func Decode(raw map[string]any) (*Config, error) {
	v := newViper()
	if err := v.MergeConfigMap(raw); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}

	return decode(v)
}

// Write validates raw and persists it to path in the format implied by its extension.
func Write(path string, raw map[string]any) (*Config, error) {
	cfg, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.MergeConfigMap(raw); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return nil, fmt.Errorf("write config %q: %w", path, err)
	}

	return cfg, nil
}

// Watch invokes fn with the freshly decoded config each time the watched file changes.
// Invalid edits are reported through onErr and leave the previous config in place.
func Watch(v *viper.Viper, fn func(*Config), onErr func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct constraints on cfg.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	return nil
}

// SetDefaults registers the default value of every tunable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.file.max_size_mb", 50)
	v.SetDefault("logger.file.max_backups", 5)
	v.SetDefault("logger.file.max_age_days", 14)

	v.SetDefault("server.addr", "127.0.0.1:9108")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("transport.url", "ws://127.0.0.1:8000/ws/agent")
	v.SetDefault("transport.ping_interval", 30*time.Second)
	v.SetDefault("transport.initial_backoff", time.Second)
	v.SetDefault("transport.max_backoff", 30*time.Second)
	v.SetDefault("transport.outbound_queue", 1000)
	v.SetDefault("transport.inbound_queue", 1000)
	v.SetDefault("transport.handshake_timeout", 10*time.Second)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.events_channel", "protrader:events")
	v.SetDefault("redis.snapshot_ttl", 24*time.Hour)
	v.SetDefault("redis.command_ttl", time.Hour)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("telegram.timeout", 10*time.Second)

	v.SetDefault("vision.monitor_index", 1)
	v.SetDefault("vision.default_threshold", 0.88)
	v.SetDefault("vision.alpha_threshold", 0.92)
	v.SetDefault("vision.nms_threshold", 0.35)
	v.SetDefault("vision.max_results", 10)
	v.SetDefault("vision.alpha_min", 10)
	v.SetDefault("vision.alpha_background", "#585E9B")

	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.page_seg_mode", 7)
	v.SetDefault("ocr.upscale", 2)
	v.SetDefault("ocr.min_digits", 1)
	v.SetDefault("ocr.min_confidence", 40.0)

	v.SetDefault("overlay.ttl", 2*time.Second)
	v.SetDefault("overlay.queue", 256)
	v.SetDefault("overlay.interval", 100*time.Millisecond)

	v.SetDefault("marketplace.base_dir", ".")
	v.SetDefault("marketplace.sale_qty_order", []string{"x1", "x10", "x100", "x1000"})
	v.SetDefault("marketplace.tick_hz", 2.0)
	v.SetDefault("marketplace.settle_delay", time.Second)
	v.SetDefault("marketplace.tiers_per_tick", 1)
	v.SetDefault("marketplace.scan_max_attempts_per_qty", 5)
	v.SetDefault("marketplace.clic_achat_offset_px", 100)
	v.SetDefault("marketplace.vente_click_max_attempts", 6)
	v.SetDefault("marketplace.vente_select_max_attempts", 3)
	v.SetDefault("marketplace.vente_fallback_region_ratio", 0.28)
	v.SetDefault("marketplace.vente_fallback_offset_px", 240)
	v.SetDefault("marketplace.purchase_max_retries", 5)
	v.SetDefault("marketplace.kamas_check_max_attempts", 10)
	v.SetDefault("marketplace.confirm_max_attempts", 10)
	v.SetDefault("marketplace.fortune_cap_ratio", 0.10)
	v.SetDefault("marketplace.resource_match_threshold", 0.67)
	v.SetDefault("marketplace.launch_timeout", 5*time.Minute)
	v.SetDefault("marketplace.login_timeout", 3*time.Minute)
	v.SetDefault("marketplace.market_timeout", time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default.limit", 0)
	v.SetDefault("rate_limit.default.window", time.Minute)
	v.SetDefault("rate_limit.sweep_interval", 5*time.Minute)
	v.SetDefault("rate_limit.commands", map[string]any{
		"start_script":  map[string]any{"limit": 5, "window": "1m"},
		"screenshot":    map[string]any{"limit": 30, "window": "1m"},
		"set_config":    map[string]any{"limit": 10, "window": "1m"},
		"patch_config":  map[string]any{"limit": 10, "window": "1m"},
		"save_template": map[string]any{"limit": 20, "window": "1m"},
	})
}
