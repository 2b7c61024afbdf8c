package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"

	"github.com/Proton-105/protrader-agent/internal/agent"
	"github.com/Proton-105/protrader-agent/internal/database"
	"github.com/Proton-105/protrader-agent/internal/desktop"
	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/internal/health"
	"github.com/Proton-105/protrader-agent/internal/idempotency"
	"github.com/Proton-105/protrader-agent/internal/ledger"
	"github.com/Proton-105/protrader-agent/internal/lifecycle"
	"github.com/Proton-105/protrader-agent/internal/marketplace"
	"github.com/Proton-105/protrader-agent/internal/middleware"
	"github.com/Proton-105/protrader-agent/internal/ocr"
	"github.com/Proton-105/protrader-agent/internal/ocr/tesseract"
	"github.com/Proton-105/protrader-agent/internal/overlay"
	"github.com/Proton-105/protrader-agent/internal/ratelimit"
	"github.com/Proton-105/protrader-agent/internal/state"
	"github.com/Proton-105/protrader-agent/internal/telemetry"
	"github.com/Proton-105/protrader-agent/internal/transport"
	"github.com/Proton-105/protrader-agent/internal/vision"
	"github.com/Proton-105/protrader-agent/migrations"
	"github.com/Proton-105/protrader-agent/pkg/config"
	"github.com/Proton-105/protrader-agent/pkg/graceful"
	"github.com/Proton-105/protrader-agent/pkg/logger"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
	pkgredis "github.com/Proton-105/protrader-agent/pkg/redis"
)

const (
	telemetryQueue  = 1024
	shutdownTimeout = 15 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the operator server and serve commands",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, v, err := config.Load(configPath(cmd))
		if err != nil {
			return err
		}
		return runAgent(cmd.Context(), cfg, v)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// stores are the optional backends selected by configuration.
type stores struct {
	redis   *pkgredis.Client
	db      *sql.DB
	tracker state.Tracker
	idem    idempotency.Manager
	trades  ledger.Recorder
	limiter sweepingLimiter
}

type sweepingLimiter interface {
	ratelimit.Limiter
	ratelimit.Sweeper
}

func runAgent(ctx context.Context, cfg *config.Config, v *viper.Viper) error {
	log := logger.New(*cfg)

	flushSentry, err := logger.InitSentry(*cfg)
	if err != nil {
		log.Warn("sentry disabled", slog.Any("error", err))
	}
	defer flushSentry()

	log.Info("starting protrader agent",
		slog.String("env", cfg.AppEnv),
		slog.String("server", cfg.Transport.URL),
		slog.Int("monitor", cfg.Vision.MonitorIndex),
	)

	shutdown := lifecycle.NewShutdown(log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdown.Execute(sctx); err != nil {
			log.Error("shutdown finished with errors", slog.Any("error", err))
		}
	}()

	st, err := openStores(ctx, cfg, shutdown, log)
	if err != nil {
		return err
	}

	// current holds the latest valid configuration; runs started after an
	// edit pick it up.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	config.Watch(v, func(next *config.Config) {
		current.Store(next)
		log.Info("configuration reloaded")
	}, func(err error) {
		log.Warn("configuration change rejected", slog.Any("error", err))
	})

	link := transport.New(cfg.Transport, log)

	sinks := []telemetry.Sink{telemetry.NewBusSink(link), telemetry.NewLogSink(log)}
	if st.redis != nil {
		sinks = append(sinks, telemetry.NewRedisSink(st.redis.Client, cfg.Redis.EventsChannel))
	}
	if cfg.Telegram.Enabled {
		bot, err := telebot.NewBot(telebot.Settings{
			Token:  cfg.Telegram.Token,
			Client: &http.Client{Timeout: cfg.Telegram.Timeout},
		})
		if err != nil {
			log.Warn("telegram notifications disabled", slog.Any("error", err))
		} else {
			sinks = append(sinks, telemetry.NewTelegramSink(bot, cfg.Telegram.ChatID))
		}
	}
	events := telemetry.NewFanout(telemetryQueue, log, sinks...)
	shutdown.Register(lifecycle.PhaseSinks, "telemetry", func(ctx context.Context) error {
		events.Flush(ctx)
		return nil
	})

	grabber, err := desktop.NewScreen(cfg.Vision.MonitorIndex)
	if err != nil {
		return fmt.Errorf("open monitor %d: %w", cfg.Vision.MonitorIndex, err)
	}
	defaults, err := vision.DefaultsFromConfig(cfg.Vision)
	if err != nil {
		return fmt.Errorf("vision settings: %w", err)
	}
	screen := vision.NewScreen(grabber, nil, vision.NewMatcher(defaults), log)

	engine, err := tesseract.New(cfg.OCR)
	if err != nil {
		return fmt.Errorf("init tesseract: %w", err)
	}
	shutdown.Register(lifecycle.PhaseStorage, "tesseract", func(context.Context) error { return engine.Close() })
	reader := ocr.NewReader(screen, engine, cfg.OCR, log)

	var highlights *overlay.Service
	if cfg.Overlay.Enabled {
		highlights = overlay.New(cfg.Overlay, overlay.NewLogRenderer(log), log)
		screen.SetHighlighter(highlights)
		reader.SetHighlighter(highlights)
	}

	input := desktop.NewInput()
	build := func(progress func(context.Context, marketplace.Progress)) (agent.Workflow, error) {
		cfg := current.Load()
		opts, err := marketplace.OptionsFromConfig(cfg.Marketplace, cfg.Client)
		if err != nil {
			return nil, err
		}
		return marketplace.New(marketplace.Deps{
			Locator:   screen,
			Reader:    reader,
			Input:     input,
			Publisher: events,
			Client:    lifecycle.NewGameClient(cfg.Client, lifecycle.ExecRunner, log),
			Host:      lifecycle.NewHost(cfg.Client, lifecycle.ExecRunner, log),
			Trades:    st.trades,
			Progress:  progress,
			Logger:    log,
		}, opts)
	}

	handler := apperrors.NewHandler(log, cfg.Sentry.Enabled)
	dispatcher := agent.NewDispatcher(link, st.idem, cfg.Redis.CommandTTL, handler, log)

	if cfg.RateLimit.Enabled {
		dispatcher.Use(middleware.RateLimit(st.limiter, ratelimit.NewRules(cfg.RateLimit), log))
	}

	scripts := agent.NewScripts(st.tracker, build, cfg.Marketplace.TempDir, log)
	scripts.Register(dispatcher)
	agent.NewConfigFile(v.ConfigFileUsed(), cfg.Marketplace.BaseDir, log).Register(dispatcher)
	shots := agent.NewScreenshots(func(monitor int) (vision.Grabber, error) {
		s, err := desktop.NewScreen(monitor)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, cfg.Vision.MonitorIndex, log)
	if highlights != nil {
		shots.SetOverlay(highlights)
	}
	shots.Register(dispatcher)

	shutdown.Register(lifecycle.PhaseWorkers, "scripts", func(ctx context.Context) error {
		_, err := scripts.Stop(ctx)
		return err
	})

	log.Info("commands registered", slog.Any("commands", dispatcher.Commands()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return link.Run(gctx) })
	g.Go(func() error { return dispatcher.Serve(gctx, link) })
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		metrics.NewSnapshotCollector(st.tracker).Run(gctx)
		return nil
	})
	if cfg.RateLimit.Enabled {
		g.Go(func() error {
			ratelimit.NewCleaner(st.limiter, log, cfg.RateLimit.SweepInterval).Run(gctx)
			return nil
		})
	}
	if highlights != nil {
		g.Go(func() error {
			highlights.Run(gctx)
			return nil
		})
	}
	if cfg.Server.Enabled {
		checker := health.NewChecker(log)
		checker.AddCheck("link", health.NewLinkChecker(link.Connected))
		if st.redis != nil {
			checker.AddCheck("redis", health.NewRedisChecker(st.redis.Client))
		}
		if st.db != nil {
			checker.AddCheck("database", health.NewDBChecker(st.db))
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           health.NewRouter(checker, st.tracker, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			return graceful.NewServer(log, srv, cfg.Server.ShutdownTimeout).ListenAndServe(gctx)
		})
	}

	err = g.Wait()
	log.Info("protrader agent stopping")
	return err
}

// openStores connects the configured backends and falls back to in-memory
// ones for those that are disabled.
func openStores(ctx context.Context, cfg *config.Config, shutdown *lifecycle.Shutdown, log *slog.Logger) (*stores, error) {
	st := &stores{trades: ledger.Discard{}}

	if cfg.Redis.Enabled {
		client, err := pkgredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		st.redis = client
		shutdown.Register(lifecycle.PhaseStorage, "redis", func(context.Context) error { return client.Close() })

		st.tracker = state.NewTracker(state.NewRedisStorage(client.Client, cfg.Redis.SnapshotTTL, log), log, client.Client)
		st.idem = idempotency.NewManager(idempotency.NewRedisStore(client.Client, log), log)
		st.limiter = ratelimit.NewRedisLimiter(client.Client, log)
	} else {
		st.tracker = state.NewTracker(state.NewMemoryStorage(), log, nil)
		st.idem = idempotency.NewManager(idempotency.NewMemoryStore(), log)
		st.limiter = ratelimit.NewMemoryLimiter(log)
	}

	if cfg.Database.Enabled {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		st.db = db
		shutdown.Register(lifecycle.PhaseStorage, "database", func(context.Context) error { return db.Close() })

		if err := migrate(ctx, database.NewMigrator(db, log), cfg.Database.MigrationsDir); err != nil {
			return nil, err
		}
		st.trades = ledger.NewSQLRepository(db, log)
	}

	return st, nil
}

func migrate(ctx context.Context, m *database.Migrator, dir string) error {
	var err error
	if dir != "" {
		err = m.ApplyDir(ctx, dir)
	} else {
		err = m.Apply(ctx, migrations.FS, ".")
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
