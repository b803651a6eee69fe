// Command gateway is the entry point for the real-time character voice-chat
// gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gimseonjin/realtime-character/internal/config"
	"github.com/gimseonjin/realtime-character/internal/gateway"
	"github.com/gimseonjin/realtime-character/internal/health"
	"github.com/gimseonjin/realtime-character/internal/observe"
	"github.com/gimseonjin/realtime-character/internal/turn"
	"github.com/gimseonjin/realtime-character/pkg/history"
	"github.com/gimseonjin/realtime-character/pkg/provider/llm"
	llmmock "github.com/gimseonjin/realtime-character/pkg/provider/llm/mock"
	llmopenai "github.com/gimseonjin/realtime-character/pkg/provider/llm/openai"
	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
	"github.com/gimseonjin/realtime-character/pkg/provider/tts/dummy"
	ttsopenai "github.com/gimseonjin/realtime-character/pkg/provider/tts/openai"
	"github.com/gimseonjin/realtime-character/pkg/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	envFile := flag.String("env-file", ".env", "path to an optional .env file seeding the environment")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("gateway starting",
		"listen_addr", cfg.ListenAddr,
		"llm_provider", cfg.LLMProvider,
		"tts_provider", cfg.TTSProvider,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Storage ───────────────────────────────────────────────────────────────
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.CacheURL})
	defer rdb.Close()
	hist := history.New(rdb,
		history.WithMaxTurns(cfg.HistoryMaxTurns),
		history.WithLogger(logger),
	)

	// ── Turn pipeline ─────────────────────────────────────────────────────────
	streamerFor := llmFactory(cfg)
	synthFor := ttsFactory(cfg)
	factory := func(ch store.Character) *turn.Orchestrator {
		return turn.NewOrchestrator(streamerFor(ch), synthFor(ch), hist,
			turn.WithAudioFormat(cfg.AudioFormat),
			turn.WithLogger(logger),
		)
	}
	turns := turn.NewService(st, factory,
		turn.WithServiceLogger(logger),
		turn.WithMetrics(metrics),
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := gateway.New(st, turns,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithHealthCheckers(
			health.Checker{Name: "database", Check: st.Ping},
			health.Checker{Name: "cache", Check: hist.Ping},
		),
	)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-serveErr:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// llmFactory returns a per-character streamer constructor. The character's
// model and system prompt override the configured defaults.
func llmFactory(cfg *config.Config) func(store.Character) llm.Streamer {
	if cfg.LLMProvider == config.LLMMock {
		echo := llmmock.NewEcho()
		return func(store.Character) llm.Streamer { return echo }
	}

	// Share one pooled transport across per-character clients.
	httpClient := &http.Client{Timeout: 60 * time.Second}
	return func(ch store.Character) llm.Streamer {
		model := ch.Model
		if model == "" {
			model = cfg.OpenAILLMModel
		}
		prompt := ch.SystemPrompt
		if prompt == "" {
			prompt = cfg.OpenAILLMSystemPrompt
		}

		opts := []llmopenai.Option{llmopenai.WithHTTPClient(httpClient)}
		if prompt != "" {
			opts = append(opts, llmopenai.WithSystemPrompt(prompt))
		}
		if cfg.HasTemperature {
			opts = append(opts, llmopenai.WithTemperature(cfg.OpenAILLMTemperature))
		}
		if cfg.OpenAILLMMaxTokens > 0 {
			opts = append(opts, llmopenai.WithMaxTokens(cfg.OpenAILLMMaxTokens))
		}

		s, err := llmopenai.New(cfg.OpenAIAPIKey, model, opts...)
		if err != nil {
			// Config validation guarantees key and model; keep the turn alive
			// with the offline streamer if that ever regresses.
			slog.Error("llm streamer construction failed, falling back to mock", "err", err)
			return llmmock.NewEcho()
		}
		return s
	}
}

// ttsFactory returns a per-character synthesis constructor. The character's
// voice overrides the configured default.
func ttsFactory(cfg *config.Config) func(store.Character) tts.Client {
	if cfg.TTSProvider == config.TTSDummy {
		synth := tts.Truncate(dummy.New(dummy.WithSampleRate(cfg.TTSSampleRate)), cfg.TTSMaxTextLen)
		return func(store.Character) tts.Client { return synth }
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	return func(ch store.Character) tts.Client {
		voice := ch.Voice
		if voice == "" {
			voice = cfg.OpenAITTSVoice
		}

		opts := []ttsopenai.Option{ttsopenai.WithHTTPClient(httpClient)}
		if cfg.TTSURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(cfg.TTSURL))
		}

		c, err := ttsopenai.New(cfg.OpenAIAPIKey, cfg.OpenAITTSModel, voice, opts...)
		if err != nil {
			slog.Error("tts client construction failed, falling back to dummy", "err", err)
			return dummy.New(dummy.WithSampleRate(cfg.TTSSampleRate))
		}
		return tts.Truncate(c, cfg.TTSMaxTextLen)
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
