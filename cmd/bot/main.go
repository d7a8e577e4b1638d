// Package main is the entry point for the Bybit position-flipping bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/luisarcher/BybitTradingBot/internal/alerting"
	"github.com/luisarcher/BybitTradingBot/internal/config"
	"github.com/luisarcher/BybitTradingBot/internal/engine"
	"github.com/luisarcher/BybitTradingBot/internal/exchange"
	"github.com/luisarcher/BybitTradingBot/internal/metrics"
	"github.com/luisarcher/BybitTradingBot/internal/webhook"
)

// Version information (set by build flags).
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Bybit Trading Bot - Webhook-Driven Position Flipping

Usage:
  bybit-bot <command> [options]

Commands:
  run        Start the trading bot
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  bybit-bot run --config config.yaml
  bybit-bot validate --config config.yaml

Use "bybit-bot <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("bybit-bot version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	// Secrets referenced from the config live in the environment
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Collateral: %s\n", cfg.User.Collateral)
	fmt.Printf("  Tickers: %d\n", len(cfg.Tickers))
	for ticker, tc := range cfg.Tickers {
		fmt.Printf("    %s: leverage %dx/%dx, wallet %.1f%%\n",
			ticker, tc.LongLeverage, tc.ShortLeverage, tc.WalletPerc*100)
	}
	fmt.Printf("  Market fallback slippage: %.2f%%\n", cfg.Execution.MarketOnSlippagePerc)
	fmt.Printf("  Trailing stop: long %.1f%%, short %.1f%%\n",
		cfg.Execution.LongTSLPerc, cfg.Execution.ShortTSLPerc)
	fmt.Printf("  Webhook address: %s\n", cfg.Webhook.Addr)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	// Setup structured logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load .env before the config so ${VAR} references resolve
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("bybit-bot starting",
		"version", Version,
		"tickers", len(cfg.Tickers),
		"collateral", cfg.User.Collateral,
	)

	// Exchange gateway
	gateway := exchange.NewBybit(exchange.BybitConfig{
		APIKey:             cfg.User.APIKey,
		APISecret:          cfg.User.APISecret,
		Collateral:         cfg.User.Collateral,
		BaseURL:            cfg.User.BaseURL,
		RateLimitPerSecond: cfg.Execution.RateLimitPerSecond,
	}, logger)

	// Per-ticker state: leverage sync, qty step, initial price snapshot
	instruments, err := engine.BuildInstruments(ctx, gateway, cfg, logger)
	if err != nil {
		slog.Error("failed to initialize instruments", "err", err)
		os.Exit(1)
	}

	// Alerting
	alerter := buildAlerter(cfg, logger)

	// Metrics
	recorder := metrics.NewRecorder()
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		metricsServer.RegisterHealthCheck("exchange", func() metrics.Check {
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if _, err := gateway.GetWalletBalance(checkCtx, cfg.User.Collateral); err != nil {
				return metrics.Check{Status: "unhealthy", Message: err.Error()}
			}
			return metrics.Check{Status: "healthy"}
		})
		if err := metricsServer.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	// Trading engine
	sizer := engine.NewSizer(gateway, cfg)
	executor := engine.NewExecutor(gateway, cfg, recorder, logger)
	stopLoss := engine.NewStopLoss(gateway, executor, cfg, recorder, logger)
	router := engine.NewRouter(gateway, sizer, executor, stopLoss, instruments, alerter, recorder, logger)

	// Webhook ingress; dispatched tasks run under the process context so
	// execution loops survive the HTTP request that triggered them
	webhookServer := webhook.NewServer(webhook.ServerConfig{
		Addr: cfg.Webhook.Addr,
	}, router, ctx, logger)
	if err := webhookServer.Start(); err != nil {
		slog.Error("failed to start webhook server", "err", err)
		os.Exit(1)
	}

	if alerter != nil {
		_ = alerter.Alert(ctx, alerting.EventSeverity(alerting.EventBotStarted),
			"Bot started", "version", Version, "tickers", len(cfg.Tickers))
	}

	slog.Info("bot running, waiting for signals", "webhook_addr", cfg.Webhook.Addr)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := webhookServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("webhook server shutdown error", "err", err)
	}

	// Give in-flight entry and exit tasks a chance to wind down
	router.Wait()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}

	if alerter != nil {
		_ = alerter.Alert(shutdownCtx, alerting.EventSeverity(alerting.EventBotStopped),
			"Bot stopped", "version", Version)
	}

	slog.Info("bybit-bot shutdown complete")
}

// buildAlerter assembles the configured alert channels. Returns nil when
// alerting is disabled.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		default:
			logger.Warn("unknown alert channel type", "type", ch.Type)
		}
	}
	return multi
}
