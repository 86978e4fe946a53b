package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/adapters/dashboard"
	"github.com/alejandrodnm/polycopy/internal/adapters/httpclient"
	"github.com/alejandrodnm/polycopy/internal/adapters/notify"
	"github.com/alejandrodnm/polycopy/internal/adapters/oracle"
	"github.com/alejandrodnm/polycopy/internal/adapters/polymarket"
	"github.com/alejandrodnm/polycopy/internal/adapters/storage"
	"github.com/alejandrodnm/polycopy/internal/application/activity"
	"github.com/alejandrodnm/polycopy/internal/application/events"
	"github.com/alejandrodnm/polycopy/internal/application/execution"
	"github.com/alejandrodnm/polycopy/internal/application/ledger"
	"github.com/alejandrodnm/polycopy/internal/application/resolution"
	"github.com/alejandrodnm/polycopy/internal/application/runtime"
	"github.com/alejandrodnm/polycopy/internal/observability"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("v", false, "set log level to debug")
	logFormat := flag.String("log-format", "", "log format: text|json (overrides config)")
	autostart := flag.Bool("autostart", false, "start a session immediately")
	headless := flag.Bool("headless", false, "run without the dashboard server (implies -autostart)")
	quiet := flag.Bool("quiet", false, "console prints only session summaries")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	handler := setupLogger(cfg.Log)
	bus := events.NewBus(cfg.Dashboard.HistorySize, slog.New(handler))
	slog.SetDefault(slog.New(events.NewLogHandler(handler, bus, slog.LevelInfo)))
	logger := slog.Default()

	metrics := observability.NewMetrics("polycopy", nil)
	bus.OnDrop(metrics.RecordDrop)

	logger.Info("polycopy starting",
		"config", *configPath,
		"dry_run", cfg.Bot.DryRun,
		"target", cfg.Bot.TargetWallet,
		"headless", *headless,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := polymarket.NewClient(polymarket.Endpoints{
		CLOB:  cfg.API.CLOBBase,
		Gamma: cfg.API.GammaBase,
		Data:  cfg.API.DataBase,
	}, httpclient.WithLogger(logger))

	sources, err := buildOracles(cfg, logger)
	if err != nil {
		logger.Error("failed to build oracles", "err", err)
		os.Exit(1)
	}
	agg := resolution.New(resolution.Config{
		SourceTimeout: cfg.OracleTimeout(),
		Workers:       cfg.Resolution.Workers,
		Observe:       metrics.RecordOracle,
	}, logger, sources...)

	book := ledger.New(cfg.Paper.InitialBalance)
	paper := execution.NewPaper(book, execution.SlippageModel{
		Kind:      cfg.Paper.SlippageModel,
		SmallBps:  cfg.Paper.SmallBps,
		MediumBps: cfg.Paper.MediumBps,
		LargeBps:  cfg.Paper.LargeBps,
	})

	live, err := buildLive(ctx, cfg, book, logger)
	if err != nil {
		logger.Error("failed to set up live execution", "err", err)
		os.Exit(1)
	}
	if live != nil {
		defer live.close()
	}

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		logger.Error("failed to open journal", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer journal.Close()

	hub := dashboard.NewHub(cfg.Dashboard.HistorySize, logger)
	bus.Subscribe("console", notify.NewConsole(*quiet), 0)
	bus.Subscribe("journal", journal, 0)
	if !*headless {
		bus.Subscribe("dashboard", hub, 0)
	}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("telegram disabled", "err", err)
		} else {
			bus.Subscribe("telegram", tg, 0)
		}
	}

	deps := runtime.Deps{
		Settings:   config.NewSettingsStore(cfg.Bot),
		Poller:     activity.New(client, activityConfig(cfg.Activity), logger),
		Markets:    client,
		Positions:  client,
		Aggregator: agg,
		Ledger:     book,
		Paper:      paper,
		Bus:        bus,
		Metrics:    metrics,
		Logger:     logger,
	}
	if live != nil {
		deps.Live = live.executor
		deps.Wallet = live.wallet
		deps.Redeemer = live.redeemer
	}
	rt := runtime.New(deps, runtime.Options{
		OracleInterval:    cfg.OracleInterval(),
		SettleInterval:    cfg.SettleInterval(),
		ResolutionEnabled: cfg.Resolution.Enabled,
		CandidateLimit:    cfg.Resolution.CandidateLimit,
		AutoRedeem:        cfg.Live.AutoRedeem,
		PaperBalance:      cfg.Paper.InitialBalance,
	})

	if *autostart || *headless {
		if _, err := rt.Start(ctx); err != nil {
			logger.Error("autostart failed", "err", err)
			if *headless {
				os.Exit(1)
			}
		}
	}

	// nil in headless mode, so the select below only waits for a signal
	var srvErr chan error
	if !*headless {
		srvErr = make(chan error, 1)
		srv := dashboard.NewServer(dashboard.Deps{
			Runtime:   rt,
			Settings:  deps.Settings,
			Portfolio: book,
			Journal:   journal,
			History:   bus,
			Hub:       hub,
			Metrics:   metrics.Handler(),
			Logger:    logger,
		})
		go func() { srvErr <- srv.ListenAndServe(ctx, cfg.Dashboard.Addr) }()
	}

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			logger.Error("dashboard server failed", "err", err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if _, ok := rt.Stop(stopCtx, "shutdown"); ok {
		logger.Info("session stopped on shutdown")
	}
	bus.Close()
	logger.Info("polycopy stopped cleanly")
}

func activityConfig(c config.ActivityConfig) activity.Config {
	return activity.Config{
		PageSize:           c.PageSize,
		MaxPages:           c.MaxPages,
		SeenCapacity:       c.SeenCapacity,
		SkipHistoryOnStart: c.SkipHistoryOnStart,
	}
}

// buildOracles registers the resolution sources. The platform source goes
// first so its dispute signal is always queried.
func buildOracles(cfg *config.Config, logger *slog.Logger) ([]ports.OracleSource, error) {
	opts := []httpclient.Option{httpclient.WithLogger(logger), httpclient.WithRetries(1)}
	feed, err := oracle.NewPriceFeed(cfg.API.BinanceBase, cfg.Resolution.MinPriceMove, opts...)
	if err != nil {
		return nil, err
	}
	return []ports.OracleSource{
		oracle.NewPlatform(),
		feed,
		oracle.NewSports(cfg.API.ESPNBase, cfg.Resolution.Leagues, opts...),
		oracle.NewConsensus(cfg.Resolution.LikelyPrice, cfg.Resolution.EffectivePrice),
	}, nil
}

func setupLogger(cfg config.LogConfig) slog.Handler {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}
