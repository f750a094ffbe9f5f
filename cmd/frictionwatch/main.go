package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/frictionwatch/frictionwatch/internal/alerts"
	"github.com/frictionwatch/frictionwatch/internal/attribution"
	"github.com/frictionwatch/frictionwatch/internal/confidence"
	"github.com/frictionwatch/frictionwatch/internal/config"
	"github.com/frictionwatch/frictionwatch/internal/friction"
	"github.com/frictionwatch/frictionwatch/internal/health"
	httpiface "github.com/frictionwatch/frictionwatch/internal/interfaces/http"
	"github.com/frictionwatch/frictionwatch/internal/llm"
	"github.com/frictionwatch/frictionwatch/internal/marketdata"
	"github.com/frictionwatch/frictionwatch/internal/news"
	"github.com/frictionwatch/frictionwatch/internal/persistence/postgres"
	"github.com/frictionwatch/frictionwatch/internal/pipeline"
	"github.com/frictionwatch/frictionwatch/internal/scheduler"
)

const (
	appName = "frictionwatch"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// Secrets come from the environment; a local .env is a convenience.
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Market friction scanner and alerter for NSE symbols",
		Version: version,
		Long: appName + ` watches a stock universe for friction patterns: panic
selling, silent accumulation, sector lag, news underreaction and
overreaction. Scored signals above the confidence gate are dispatched to
Telegram and email with cooldown-based deduplication.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/frictionwatch.yaml", "Path to YAML config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervised scan loop",
		Long:  "Continuous adaptive-interval scanning under the restart supervisor, with the HTTP health/metrics server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSupervised(cmd.Context(), configPath)
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan tick and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), configPath)
		},
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve health and metrics without scanning",
		Long:  "Starts only the HTTP surface, for inspecting a store written by another instance.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), configPath)
		},
	}

	rootCmd.AddCommand(runCmd, scanCmd, monitorCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

// app bundles everything one scan loop needs.
type app struct {
	cfg       *config.Config
	store     *postgres.Store
	pipeline  *pipeline.Pipeline
	runner    *scheduler.Runner
	watchdog  *health.Watchdog
	heartbeat *health.Heartbeater
	server    *httpiface.Server
}

func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyLogLevel(cfg.LogLevel)

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	store, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid market timezone %q: %w", cfg.Market.Timezone, err)
	}

	telegram, err := alerts.NewTelegram(
		cfg.Telegram.Token, cfg.Telegram.ChatID,
		alerts.NewSlidingWindow(time.Hour, cfg.MaxAlertsPerSymbolHour),
		alerts.NewMinInterval(time.Duration(cfg.TelegramMinIntervalSec)*time.Second),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	email := alerts.NewEmail(
		cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.To,
		alerts.NewMinInterval(time.Duration(cfg.EmailMinIntervalSec)*time.Second),
	)
	if telegram == nil && email == nil {
		log.Warn().Msg("no alert channel configured, signals will only be persisted")
	}

	annotator := llm.New(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxDailyCalls)
	dispatcher := alerts.NewDispatcher(
		alerts.NewDeduper(store, time.Duration(cfg.AlertCooldownMinutes)*time.Minute),
		annotator, telegram, email,
	)

	tracker := attribution.NewTracker(store, store, store, cfg.WinRateMinSamples)
	composer := confidence.NewComposer(store, tracker)
	engine := friction.NewEngine(news.NewFetcher())
	heartbeat := health.NewHeartbeater(store, telegram, cfg.DailyHeartbeatHourUTC)

	pipe := pipeline.New(cfg, marketdata.NewClient(), engine, composer,
		tracker, store, store, dispatcher, heartbeat)

	runner := scheduler.NewRunner(
		scheduler.MarketHours{
			Location: loc,
			OpenHour: cfg.Market.OpenHour, OpenMin: cfg.Market.OpenMin,
			CloseHour: cfg.Market.CloseHour, CloseMin: cfg.Market.CloseMin,
		},
		time.Duration(cfg.PollMarketMin)*time.Minute,
		time.Duration(cfg.PollOffMin)*time.Minute,
	)

	watchdog := health.NewWatchdog(store, int(cfg.MaxMemoryMB), cfg.MaxRestartsPerHour)

	return &app{
		cfg:       cfg,
		store:     store,
		pipeline:  pipe,
		runner:    runner,
		watchdog:  watchdog,
		heartbeat: heartbeat,
		server:    httpiface.NewServer(cfg.HTTPAddr, store),
	}, nil
}

func runSupervised(ctx context.Context, configPath string) error {
	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	go func() {
		if err := a.server.Start(); err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown incomplete")
		}
	}()

	supervisor := health.NewSupervisor(a.watchdog, a.cfg.MaxRestartsTotal,
		time.Duration(a.cfg.RestartDelaySec)*time.Second)

	log.Info().Int("watchlist", len(a.cfg.NormalizedWatchlist())).
		Str("market_tz", a.cfg.Market.Timezone).Msg("scan loop starting")

	err = supervisor.Run(ctx, func(ctx context.Context) error {
		return runLoop(ctx, a.runner, func(ctx context.Context) error {
			if err := a.pipeline.Tick(ctx); err != nil {
				return err
			}
			a.pipeline.RunDaily(ctx)
			return nil
		}, a.watchdog.WithinMemoryLimit)
	})
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutdown requested")
		return nil
	}
	return err
}

// loopRunner is the part of scheduler.Runner the scan loop drives.
type loopRunner interface {
	Run(ctx context.Context, tick func(context.Context) error, onError func(error)) error
}

// runLoop drives the scan loop and checks the memory ceiling after every
// clean tick. A breach aborts the runner and is returned to the
// supervisor, which decides whether a restart is still allowed.
func runLoop(ctx context.Context, runner loopRunner, tick func(context.Context) error, memoryOK func() bool) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var memErr error
	err := runner.Run(loopCtx, func(ctx context.Context) error {
		if err := tick(ctx); err != nil {
			return err
		}
		if !memoryOK() {
			memErr = errors.New("memory limit exceeded")
			cancel()
		}
		return nil
	}, nil)
	if memErr != nil {
		return memErr
	}
	return err
}

func runOnce(ctx context.Context, configPath string) error {
	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.pipeline.Tick(ctx); err != nil {
		return err
	}
	a.pipeline.RunDaily(ctx)
	return nil
}

func runMonitor(ctx context.Context, configPath string) error {
	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown incomplete")
		}
	}()
	return a.server.Start()
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
