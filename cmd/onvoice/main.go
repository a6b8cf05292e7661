// Command onvoice is the main entry point for the onvoice transcript
// consolidation and translation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mooner92/onvoice/internal/config"
	"github.com/mooner92/onvoice/internal/dedup"
	"github.com/mooner92/onvoice/internal/health"
	"github.com/mooner92/onvoice/internal/ingest"
	"github.com/mooner92/onvoice/internal/observe"
	"github.com/mooner92/onvoice/internal/pipeline"
	"github.com/mooner92/onvoice/internal/resilience"
	"github.com/mooner92/onvoice/internal/session"
	"github.com/mooner92/onvoice/internal/translate"
	"github.com/mooner92/onvoice/internal/vad"
	"github.com/mooner92/onvoice/pkg/provider/asr"
	asropenai "github.com/mooner92/onvoice/pkg/provider/asr/openai"
	"github.com/mooner92/onvoice/pkg/provider/mt"
	mtanyllm "github.com/mooner92/onvoice/pkg/provider/mt/anyllm"
	mtopenai "github.com/mooner92/onvoice/pkg/provider/mt/openai"
	"github.com/mooner92/onvoice/pkg/store"
	storemock "github.com/mooner92/onvoice/pkg/store/mock"
	"github.com/mooner92/onvoice/pkg/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "onvoice: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "onvoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("onvoice starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must come before the first DefaultMetrics call so the Prometheus
	// exporter is the global meter provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	recognizer, err := buildRecognizer(cfg.Providers.Recognition)
	if err != nil {
		slog.Error("failed to create recognition provider", "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "recognition", "name", cfg.Providers.Recognition.Name)

	translator, err := buildTranslator(cfg.Providers.Translation)
	if err != nil {
		slog.Error("failed to create translation provider", "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "translation", "name", translator.Name())

	// ── Storage ───────────────────────────────────────────────────────────────
	var (
		backing store.Store
		pinger  health.Pinger
	)
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pg, err := postgres.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		backing = pg
		pinger = pg
		slog.Info("postgres store connected")
	} else {
		backing = &storemock.Store{}
		slog.Warn("no postgres_dsn configured; using volatile in-memory store")
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	pc := cfg.Pipeline
	sessions := session.New(session.WithIdleTimeout(pc.SessionIdleTimeout))

	deduper := dedup.New(
		dedup.WithSimilarityThreshold(pc.Dedup.SimilarityThreshold),
		dedup.WithSimilarityWindow(pc.Dedup.SimilarityWindow, pc.Dedup.SimilarityMaxAge),
	)

	segmenter := vad.New(vad.Config{
		NewDetector:   detectorFactory(pc.VAD.Mode),
		SilenceHold:   pc.VAD.SilenceHold,
		MaxBuffer:     pc.VAD.MaxBuffer,
		FlushInterval: pc.VAD.FlushInterval,
		Overlap:       pc.VAD.Overlap,
	})

	fanout := translate.New(translator, backing,
		translate.WithParallelism(pc.Translation.Parallelism),
		translate.WithRetryConfig(resilience.RetryConfig{
			MaxAttempts: pc.Translation.RetryMaxAttempts,
			BaseDelay:   pc.Translation.RetryBaseDelay,
		}),
		translate.WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
			Name: translator.Name(),
		})),
	)

	pipe, err := pipeline.New(pipeline.Config{
		Sessions:       sessions,
		Deduper:        deduper,
		Segmenter:      segmenter,
		Translator:     fanout,
		Recognizer:     recognizer,
		Segments:       backing,
		DefaultTargets: pc.TargetLanguages,
		Metrics:        metrics,
	})
	if err != nil {
		slog.Error("failed to initialise pipeline", "err", err)
		return 1
	}
	pipe.Start(ctx)
	defer pipe.Close()

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/ws", ingest.NewHandler(pipe))
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.StoreChecker(pinger)).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		slog.Error("serve error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildRecognizer(entry config.ProviderEntry) (asr.Provider, error) {
	switch entry.Name {
	case "", "openai":
		var opts []asropenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, asropenai.WithModel(entry.Model))
		}
		if entry.MIMEType != "" {
			opts = append(opts, asropenai.WithMIMEType(entry.MIMEType))
		}
		return asropenai.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown recognition provider %q", entry.Name)
	}
}

func buildTranslator(entry config.ProviderEntry) (mt.Provider, error) {
	switch entry.Name {
	case "", "openai":
		var opts []mtopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, mtopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, mtopenai.WithModel(entry.Model))
		}
		return mtopenai.New(entry.APIKey, opts...)
	case "anyllm":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return mtanyllm.New(entry.Backend, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown translation provider %q", entry.Name)
	}
}

// detectorFactory returns a per-session detector constructor for the
// configured VAD mode. Defaults and thresholds live in the vad package.
func detectorFactory(mode config.VADMode) func() vad.Detector {
	if mode == config.VADEnergy {
		return func() vad.Detector { return vad.NewEnergyDetector(0) }
	}
	return func() vad.Detector { return vad.NewSizeDetector(0, 0) }
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         onvoice — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Recognition", providerLabel(cfg.Providers.Recognition))
	printEntry("Translation", providerLabel(cfg.Providers.Translation))
	if cfg.Storage.PostgresDSN != "" {
		printEntry("Storage", "postgres")
	} else {
		printEntry("Storage", "in-memory")
	}
	printEntry("VAD mode", string(cfg.Pipeline.VAD.Mode))
	printEntry("Targets", fmt.Sprintf("%d configured", len(cfg.Pipeline.TargetLanguages)))
	printEntry("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(entry config.ProviderEntry) string {
	name := entry.Name
	if name == "" {
		name = "openai"
	}
	if entry.Model != "" {
		return name + " / " + entry.Model
	}
	return name
}

func printEntry(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
