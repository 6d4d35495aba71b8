package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/doormanhq/doorman/internal/config"
	"github.com/doormanhq/doorman/internal/dispatch"
	"github.com/doormanhq/doorman/internal/gate"
	"github.com/doormanhq/doorman/internal/kv"
	"github.com/doormanhq/doorman/internal/observability"
	"github.com/doormanhq/doorman/internal/platform"
	"github.com/doormanhq/doorman/internal/quiz"
	"github.com/doormanhq/doorman/internal/ratelimit"
	"github.com/doormanhq/doorman/internal/schedule"
	"github.com/doormanhq/doorman/internal/server"
	"github.com/doormanhq/doorman/internal/verification"
)

var (
	cfgFile string
	cfg     = config.Default()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "doorman",
	Short: "Doorman is a challenge-response gatekeeper for chat groups",
	Long:  "Doorman gates group membership behind a quiz challenge and throttles abuse through a shared state store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := config.Load(cfgFile, &cfg); err != nil {
				return err
			}
		}
		setupLogging(cfg.LogLevel)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the doorman service",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (flags override it)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	serveCmd.Flags().StringVar(&cfg.TelegramToken, "telegram-token", cfg.TelegramToken, "Telegram bot token (or set DOORMAN_TELEGRAM_TOKEN)")
	serveCmd.Flags().StringVar(&cfg.QuizFile, "quiz-file", cfg.QuizFile, "JSON quiz file")
	serveCmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for the state store")
	serveCmd.Flags().StringVar(&cfg.Bind, "bind", cfg.Bind, "Admin HTTP bind address")
	serveCmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "Serial lane count")
	serveCmd.Flags().DurationVar(&cfg.Window, "window", cfg.Window, "Verification window")
	serveCmd.Flags().DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Wrong-answer cooldown")
	serveCmd.Flags().DurationVar(&cfg.CleanupDelay, "cleanup-delay", cfg.CleanupDelay, "Delay before deleting resolved prompts")
	serveCmd.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Due-queue poll interval")
	serveCmd.Flags().StringVar(&cfg.RateLimit.Algorithm, "rate-limit-algorithm", cfg.RateLimit.Algorithm, "Rate limiter: fixed_window, token_bucket, or leaky_bucket")
	serveCmd.Flags().Int64Var(&cfg.RateLimit.Limit, "rate-limit-count", cfg.RateLimit.Limit, "Fixed window: calls per window")
	serveCmd.Flags().DurationVar(&cfg.RateLimit.Window, "rate-limit-window", cfg.RateLimit.Window, "Fixed window length")
	serveCmd.Flags().Float64Var(&cfg.RateLimit.Capacity, "rate-limit-capacity", cfg.RateLimit.Capacity, "Token bucket capacity")
	serveCmd.Flags().Float64Var(&cfg.RateLimit.RefillRate, "rate-limit-refill", cfg.RateLimit.RefillRate, "Token bucket refill rate (tokens/sec)")
	serveCmd.Flags().DurationVar(&cfg.RateLimit.Interval, "rate-limit-interval", cfg.RateLimit.Interval, "Leaky bucket interval")
	serveCmd.Flags().BoolVar(&cfg.OtelEnabled, "otel-enabled", cfg.OtelEnabled, "Enable OpenTelemetry tracing")
	serveCmd.Flags().StringVar(&cfg.OtelEndpoint, "otel-endpoint", cfg.OtelEndpoint, "OTLP HTTP endpoint (host:port); empty uses stdout exporter")

	rootCmd.AddCommand(serveCmd)
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.TelegramToken == "" {
		cfg.TelegramToken = os.Getenv("DOORMAN_TELEGRAM_TOKEN")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("starting doorman",
		"bind", cfg.Bind,
		"data_dir", cfg.DataDir,
		"workers", cfg.Workers,
		"window", cfg.Window,
		"rate_limit_algorithm", cfg.RateLimit.Algorithm,
		"otel_enabled", cfg.OtelEnabled,
	)

	otelShutdown, err := observability.InitTracer(cfg.OtelEnabled, "doorman", cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()

	quizzes, err := quiz.LoadFile(cfg.QuizFile)
	if err != nil {
		return fmt.Errorf("load quizzes: %w", err)
	}
	slog.Info("quizzes loaded", "count", quizzes.Len(), "file", cfg.QuizFile)

	store, err := kv.Open(kv.Options{
		Dir:           cfg.DataDir,
		WatchPrefixes: []string{kv.PrefixTrigger, kv.PrefixLegacyTrigger},
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	limiter, err := ratelimit.New(store, cfg.RateLimit.Algorithm, ratelimit.Config{
		Limit:      cfg.RateLimit.Limit,
		Window:     cfg.RateLimit.Window,
		Capacity:   cfg.RateLimit.Capacity,
		RefillRate: cfg.RateLimit.RefillRate,
		Interval:   cfg.RateLimit.Interval,
	})
	if err != nil {
		return err
	}

	tg, err := platform.NewTelegram(cfg.TelegramToken)
	if err != nil {
		return err
	}

	pipeline := dispatch.New(cfg.Workers, limiter)
	sessions := verification.NewManager(store, verification.Config{
		Window:   cfg.Window,
		Margin:   cfg.Margin,
		Cooldown: cfg.Cooldown,
	})
	cleanupQueue := schedule.NewDueQueue(store, "cleanup")
	timeoutQueue := schedule.NewDueQueue(store, "timeout")
	rt := &gate.Runtime{
		Pipeline:     pipeline,
		Sessions:     sessions,
		Quizzes:      quizzes,
		Actions:      tg,
		Cleanup:      cleanupQueue,
		Timeouts:     timeoutQueue,
		CleanupDelay: cfg.CleanupDelay,
	}
	keeper := gate.NewGatekeeper(rt)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	notifier := schedule.NewNotifier(store.Expirations(), keeper.TriggerExpired)
	go notifier.Run(runCtx)
	go schedule.NewPoller(cleanupQueue, cfg.PollInterval, keeper.CleanupDue).Run(runCtx)
	go schedule.NewPoller(timeoutQueue, cfg.PollInterval, keeper.TimeoutDue).Run(runCtx)
	go tg.Listen(keeper)

	started := time.Now()
	srv := server.New(cfg.Bind, func() server.Status {
		stats := pipeline.Stats()
		cleanupLen, _ := cleanupQueue.Len()
		timeoutLen, _ := timeoutQueue.Len()
		return server.Status{
			Uptime:        time.Since(started).Round(time.Second).String(),
			Algorithm:     cfg.RateLimit.Algorithm,
			Quizzes:       quizzes.Len(),
			LaneDepths:    stats.Lanes,
			JobsProcessed: stats.Processed,
			JobsFailed:    stats.Failed,
			CleanupQueue:  cleanupLen,
			TimeoutQueue:  timeoutLen,
		}
	}, keeper)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("doorman ready", "bind", cfg.Bind)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	slog.Info("stopping update listener")
	tg.Stop()

	slog.Info("stopping pollers and notifier")
	runCancel()

	slog.Info("draining pipeline")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := pipeline.Close(drainCtx); err != nil {
		slog.Error("pipeline drain error", "error", err)
	}

	slog.Info("stopping admin server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}

	slog.Info("doorman stopped")
	return nil
}
