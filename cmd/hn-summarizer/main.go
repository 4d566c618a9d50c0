package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shohei81/HN-summarizer/config"
	"github.com/shohei81/HN-summarizer/delivery"
	"github.com/shohei81/HN-summarizer/digest"
	"github.com/shohei81/HN-summarizer/extractor"
	"github.com/shohei81/HN-summarizer/hn"
	"github.com/shohei81/HN-summarizer/scheduler"
	"github.com/shohei81/HN-summarizer/summarizer"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	top := flag.Int("top", 0, "number of top stories to fetch (overrides config)")
	deliveryFlag := flag.String("delivery", "", "comma-separated delivery methods (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	schedule := flag.String("schedule", "", "run daily at HH:MM instead of once")
	timezone := flag.String("timezone", "Local", "timezone for -schedule")
	flag.Parse()

	// A local .env file is optional; variables already set in the
	// environment win over it.
	_ = godotenv.Load()

	// Structured JSON logging to stdout
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	// Apply CLI overrides
	if *top > 0 {
		cfg.Pipeline.Stories = *top
	}
	if *deliveryFlag != "" {
		cfg.Delivery.Method = *deliveryFlag
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	setLogLevel(cfg.LogLevel, *debug)
	slog.Info("config loaded",
		"provider", cfg.Summarizer.Provider,
		"delivery", cfg.Methods(),
		"stories", cfg.Pipeline.Stories,
		"workers", cfg.Pipeline.Workers)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Resolve secrets and channel settings. The chain runs exactly once at
	// startup; the store connection is not needed afterwards.
	var store config.SecretSource
	var sm *config.SecretManagerSource
	if cfg.Security.UseSecretManager {
		sm, err = config.NewSecretManagerSource(ctx, cfg.SecretManagerProject())
		if err != nil {
			slog.Error("failed to connect to secret manager", "error", err)
			os.Exit(2)
		}
		store = sm
	}

	resolved, err := config.NewResolver(cfg, store).Resolve(ctx)
	if sm != nil {
		sm.Close()
	}
	if err != nil {
		slog.Error("configuration resolution failed", "error", err)
		os.Exit(2)
	}

	// Initialize components
	deliveryTimeout := time.Duration(cfg.Pipeline.DeliveryTimeoutSec) * time.Second

	httpClient := &http.Client{Timeout: time.Duration(cfg.Pipeline.FetchTimeoutSec) * time.Second}
	fetcher := hn.NewFetcher(hn.NewClient(httpClient), time.Duration(cfg.Pipeline.RequestDelayMS)*time.Millisecond)
	ext := extractor.New(time.Duration(cfg.Pipeline.ExtractTimeoutSec) * time.Second)
	sum := summarizer.New(newProvider(resolved.Summarizer))

	var channels []delivery.Channel
	if resolved.Email != nil {
		channels = append(channels, delivery.NewEmail(*resolved.Email, deliveryTimeout))
	}
	if resolved.Slack != nil {
		channels = append(channels, delivery.NewSlack(*resolved.Slack, &http.Client{Timeout: deliveryTimeout}))
	}
	dispatcher := delivery.NewDispatcher(channels...)
	slog.Info("pipeline ready", "summarizer", sum.ProviderName(), "channels", dispatcher.Channels())

	var disabled []string
	for _, ch := range resolved.Disabled {
		disabled = append(disabled, ch.Name)
	}
	runner := digest.NewRunner(fetcher, ext, sum, dispatcher, digest.Config{
		Stories:          cfg.Pipeline.Stories,
		Workers:          cfg.Pipeline.Workers,
		SummarizeTimeout: time.Duration(cfg.Pipeline.SummarizeTimeoutSec) * time.Second,
		DeliveryTimeout:  deliveryTimeout,
		DisabledChannels: disabled,
	})

	// One-shot mode: run the pipeline once and exit with its status.
	if *schedule == "" {
		report := runner.Run(ctx)
		os.Exit(report.Status.ExitCode())
	}

	// Daemon mode: run daily at the scheduled time until signaled.
	sched, err := scheduler.New(*timezone)
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(2)
	}
	if err := sched.Schedule(*schedule, func() { runner.Run(ctx) }); err != nil {
		slog.Error("failed to schedule daily run", "error", err)
		os.Exit(2)
	}
	sched.Start()
	slog.Info("scheduler started", "run_time", *schedule, "timezone", *timezone)

	<-ctx.Done()
	sched.Stop()
	slog.Info("shutdown complete")
}

// newProvider builds the summarization backend selected in the resolved
// settings. Validation has already restricted the provider name.
func newProvider(s config.SummarizerSettings) summarizer.Provider {
	switch s.Provider {
	case "openai":
		return summarizer.NewOpenAI(s.APIKey.Value, s.Model, s.MaxTokens)
	case "anthropic":
		return summarizer.NewAnthropic(s.APIKey.Value, s.Model, s.MaxTokens)
	case "ollama":
		return summarizer.NewOllama(s.OllamaURL, s.Model, s.MaxTokens, nil)
	default:
		return summarizer.NewGemini(s.APIKey.Value, s.Model, s.MaxTokens, nil)
	}
}

// setLogLevel reconfigures the default logger. -debug wins over the
// configured level.
func setLogLevel(level string, debug bool) {
	if debug {
		level = "debug"
	}

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

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}
