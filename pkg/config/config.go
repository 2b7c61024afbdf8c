package config

import (
	"path/filepath"
	"time"
)

// Config holds runtime configuration for the ProTrader agent.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	Logger      LoggerConfig      `mapstructure:"logger"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Server      ServerConfig      `mapstructure:"server"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Vision      VisionConfig      `mapstructure:"vision"`
	OCR         OCRConfig         `mapstructure:"ocr"`
	Overlay     OverlayConfig     `mapstructure:"overlay"`
	Client      ClientConfig      `mapstructure:"client"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

type LoggerConfig struct {
	Level  string        `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string        `mapstructure:"format" validate:"omitempty,oneof=text json"`
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// ServerConfig configures the local metrics and health endpoint.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TransportConfig configures the websocket link to the operator server.
type TransportConfig struct {
	URL              string        `mapstructure:"url" validate:"required,url"`
	PingInterval     time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	OutboundQueue    int           `mapstructure:"outbound_queue" validate:"gt=0"`
	InboundQueue     int           `mapstructure:"inbound_queue" validate:"gt=0"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`

	// EventsChannel receives a copy of every telemetry frame.
	EventsChannel string        `mapstructure:"events_channel"`
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
	CommandTTL    time.Duration `mapstructure:"command_ttl"`
}

type DatabaseConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Driver        string `mapstructure:"driver" validate:"oneof=postgres sqlite3"`
	DSN           string `mapstructure:"dsn" validate:"required_if=Enabled true"`
	// MigrationsDir overrides the embedded migrations when set.
	MigrationsDir string `mapstructure:"migrations_dir"`
	MaxOpenConns  int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

type TelegramConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Token   string        `mapstructure:"token" validate:"required_if=Enabled true"`
	ChatID  int64         `mapstructure:"chat_id" validate:"required_if=Enabled true"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type VisionConfig struct {
	MonitorIndex     int     `mapstructure:"monitor_index" validate:"gte=1"`
	DefaultThreshold float64 `mapstructure:"default_threshold" validate:"gte=0,lte=1"`
	AlphaThreshold   float64 `mapstructure:"alpha_threshold" validate:"gte=0,lte=1"`
	NMSThreshold     float64 `mapstructure:"nms_threshold" validate:"gte=0,lte=1"`
	MaxResults       int     `mapstructure:"max_results" validate:"gte=1"`
	AlphaMin         int     `mapstructure:"alpha_min" validate:"gte=0,lte=255"`
	AlphaBackground  string  `mapstructure:"alpha_background" validate:"hexcolor"`
}

type OCRConfig struct {
	Language  string  `mapstructure:"language"`
	PageSeg   int     `mapstructure:"page_seg_mode" validate:"gte=0,lte=13"`
	Upscale   int     `mapstructure:"upscale" validate:"gte=1,lte=8"`
	MinDigits int     `mapstructure:"min_digits" validate:"gte=1"`
	MinConf   float64 `mapstructure:"min_confidence" validate:"gte=0,lte=100"`
}

type OverlayConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	TTL      time.Duration `mapstructure:"ttl"`
	Queue    int           `mapstructure:"queue" validate:"gte=1"`
	Interval time.Duration `mapstructure:"interval"`
}

// ClientConfig describes how the game client and the host are driven at the
// ends of a run.
type ClientConfig struct {
	LaunchCommand []string `mapstructure:"launch_command"`
	CloseCommand  []string `mapstructure:"close_command"`
	PowerOffOnEnd bool     `mapstructure:"power_off_on_end"`
	PowerOffCmd   []string `mapstructure:"power_off_command"`
}

type MarketplaceConfig struct {
	BaseDir   string            `mapstructure:"base_dir"`
	TempDir   string            `mapstructure:"temp_dir"`
	Templates map[string]string `mapstructure:"templates" validate:"dive,keys,required,endkeys,required"`

	SaleQtyOrder []string `mapstructure:"sale_qty_order" validate:"min=1,dive,oneof=x1 x10 x100 x1000"`

	TickHz       float64       `mapstructure:"tick_hz" validate:"gt=0"`
	MaxRuntime   time.Duration `mapstructure:"max_runtime" validate:"gte=0"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
	TiersPerTick int           `mapstructure:"tiers_per_tick" validate:"gte=0"`

	ScanMaxAttemptsPerQty   int           `mapstructure:"scan_max_attempts_per_qty" validate:"gte=1"`
	BuyClickOffsetPx        int           `mapstructure:"clic_achat_offset_px"`
	SellClickMaxAttempts    int           `mapstructure:"vente_click_max_attempts" validate:"gte=1"`
	SellSelectMaxAttempts   int           `mapstructure:"vente_select_max_attempts" validate:"gte=1"`
	SellFallbackRegionRatio float64       `mapstructure:"vente_fallback_region_ratio" validate:"gte=0,lte=1"`
	SellFallbackOffsetPx    int           `mapstructure:"vente_fallback_offset_px"`
	PurchaseMaxRetries      int           `mapstructure:"purchase_max_retries" validate:"gte=1"`
	KamasCheckMaxAttempts   int           `mapstructure:"kamas_check_max_attempts" validate:"gte=1"`
	ConfirmMaxAttempts      int           `mapstructure:"confirm_max_attempts" validate:"gte=1"`
	FortuneCapRatio         float64       `mapstructure:"fortune_cap_ratio" validate:"gt=0,lte=1"`
	ResourceMatchThreshold  float64       `mapstructure:"resource_match_threshold" validate:"gte=0,lte=1"`
	LaunchTimeout           time.Duration `mapstructure:"launch_timeout" validate:"gte=0"`
	LoginTimeout            time.Duration `mapstructure:"login_timeout" validate:"gte=0"`
	MarketTimeout           time.Duration `mapstructure:"market_timeout" validate:"gte=0"`
	VerifyTimeout           time.Duration `mapstructure:"verify_timeout" validate:"gte=0"`
}

// TemplatePath resolves a template key against BaseDir. Missing keys yield "".
func (m MarketplaceConfig) TemplatePath(key string) string {
	p, ok := m.Templates[key]
	if !ok || p == "" {
		return ""
	}
	if filepath.IsAbs(p) || m.BaseDir == "" {
		return p
	}
	return filepath.Join(m.BaseDir, p)
}

// RateLimitConfig caps how often operator commands may run. Commands without
// their own rule use Default; a zero limit means unlimited.
type RateLimitConfig struct {
	Enabled       bool                     `mapstructure:"enabled"`
	Default       RateLimitRule            `mapstructure:"default"`
	Commands      map[string]RateLimitRule `mapstructure:"commands" validate:"dive"`
	SweepInterval time.Duration            `mapstructure:"sweep_interval"`
}

type RateLimitRule struct {
	Limit  int           `mapstructure:"limit" validate:"gte=0"`
	Window time.Duration `mapstructure:"window" validate:"gte=0"`
}
