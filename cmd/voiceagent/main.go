// Command voiceagent is the main entry point for the VoiceAgent voice AI server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dealerline/voiceagent/internal/calendar"
	"github.com/dealerline/voiceagent/internal/config"
	"github.com/dealerline/voiceagent/internal/health"
	"github.com/dealerline/voiceagent/internal/observe"
	"github.com/dealerline/voiceagent/internal/orchestrator"
	"github.com/dealerline/voiceagent/internal/repo"
	"github.com/dealerline/voiceagent/internal/session"
	"github.com/dealerline/voiceagent/internal/sessionstore"
	"github.com/dealerline/voiceagent/internal/telephony"
	"github.com/dealerline/voiceagent/internal/tools"
	"github.com/dealerline/voiceagent/internal/vindecode"
	"github.com/dealerline/voiceagent/pkg/provider/llm"
	"github.com/dealerline/voiceagent/pkg/provider/llm/anthropic"
	"github.com/dealerline/voiceagent/pkg/provider/llm/openai"
	"github.com/dealerline/voiceagent/pkg/provider/stt"
	"github.com/dealerline/voiceagent/pkg/provider/stt/deepgram"
	"github.com/dealerline/voiceagent/pkg/provider/tts"
	"github.com/dealerline/voiceagent/pkg/provider/tts/elevenlabs"
)

// dealershipPersona is the base system-prompt text every call starts from,
// before session_init.go layers in call-type-specific context.
const dealershipPersona = `You are the voice assistant for a car dealership's service department. You help callers schedule, reschedule, and cancel service appointments, look up their vehicle and appointment history, and decode VINs. Be concise and friendly — you are speaking, not writing.`

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceagent: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceagent: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voiceagent starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		slog.Error("failed to initialise observability providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	deps, closeDeps, err := buildDependencies(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to build dependencies", "err", err)
		return 1
	}
	defer closeDeps()

	orch := orchestrator.New(deps)

	mux := http.NewServeMux()
	registerHealthChecks(mux, deps)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/media-stream", mediaStreamHandler(orch))

	srv := &http.Server{
		Addr:        cfg.Server.ListenAddr,
		Handler:     observe.Middleware(metrics)(mux),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// mediaStreamHandler accepts the telephony bridge's duplex WebSocket
// connection and hands it to the Orchestrator for the lifetime of the call.
// Calls in flight when the server's base context is cancelled (SIGINT/
// SIGTERM) are cancelled along with it, since the server's BaseContext is
// that signal context and HandleConn derives its own work from r.Context().
func mediaStreamHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := telephony.Accept(w, r)
		if err != nil {
			slog.Warn("media-stream: accept failed", "error", err)
			return
		}
		if err := orch.HandleConn(r.Context(), conn); err != nil {
			slog.Warn("media-stream: call ended with error", "error", err)
		}
	}
}

// buildDependencies constructs every collaborator the Orchestrator needs:
// the Postgres pool and its migrated stores, the Redis-backed session
// store, the calendar/VIN REST clients, the Tool Registry, and the
// concrete STT/TTS/LLM providers named in cfg. The returned close function
// releases every resource that needs explicit teardown.
func buildDependencies(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (orchestrator.Dependencies, func(), error) {
	pool, err := newPostgresPool(ctx, cfg.Database)
	if err != nil {
		return orchestrator.Dependencies{}, nil, fmt.Errorf("connect postgres: %w", err)
	}

	customers := repo.NewCustomerStore(pool)
	vehicles := repo.NewVehicleStore(pool)
	appointments := repo.NewAppointmentStore(pool)
	callLogs := repo.NewCallLogStore(pool)

	for _, m := range []interface {
		Migrate(context.Context) error
	}{customers, vehicles, appointments, callLogs} {
		if err := m.Migrate(ctx); err != nil {
			pool.Close()
			return orchestrator.Dependencies{}, nil, fmt.Errorf("migrate: %w", err)
		}
	}

	sessionCfg, err := sessionStoreConfig(cfg.Session)
	if err != nil {
		pool.Close()
		return orchestrator.Dependencies{}, nil, fmt.Errorf("parse session store url: %w", err)
	}
	sessionStore := sessionstore.New(ctx, sessionCfg)

	calClient := calendar.New(calendar.Config{
		ClientID:     cfg.Calendar.ClientID,
		ClientSecret: cfg.Calendar.ClientSecret,
		RefreshToken: cfg.Calendar.RefreshToken,
	})
	vinClient := vindecode.New(vindecode.Config{
		Endpoint: cfg.VIN.Endpoint,
		Timeout:  cfg.VIN.Timeout,
	})

	registry, err := tools.New(tools.Dependencies{
		Customers:    customers,
		Vehicles:     vehicles,
		Appointments: appointments,
		Session:      sessionStore,
		Calendar:     calClient,
		VIN:          vinClient,
		Business:     cfg.Business,
	})
	if err != nil {
		pool.Close()
		return orchestrator.Dependencies{}, nil, fmt.Errorf("build tool registry: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		pool.Close()
		return orchestrator.Dependencies{}, nil, fmt.Errorf("create llm provider: %w", err)
	}
	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		pool.Close()
		return orchestrator.Dependencies{}, nil, fmt.Errorf("create stt provider: %w", err)
	}
	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		pool.Close()
		return orchestrator.Dependencies{}, nil, fmt.Errorf("create tts provider: %w", err)
	}

	deps := orchestrator.Dependencies{
		STT: sttProvider,
		STTConfig: stt.StreamConfig{
			SampleRate: cfg.Providers.STT.SampleRate,
			Channels:   1,
			Encoding:   cfg.Providers.STT.Encoding,
			Language:   cfg.Providers.STT.Language,
		},
		TTS:          ttsProvider,
		Voice:        tts.VoiceProfile{ID: cfg.Providers.TTS.VoiceID, Provider: cfg.Providers.TTS.Name},
		LLM:          llmProvider,
		Tools:        registry,
		Session:      sessionStore,
		Customers:    customers,
		Appointments: appointments,
		CallLogs:     callLogs,
		Summariser:   session.NewLLMSummariser(llmProvider),
		Metrics:      metrics,
		Persona:      dealershipPersona,
	}

	closeFn := func() {
		if err := sessionStore.Close(); err != nil {
			slog.Warn("close session store error", "err", err)
		}
		pool.Close()
	}

	return deps, closeFn, nil
}

// newPostgresPool connects to Postgres following the teacher's own
// pgxpool.ParseConfig → NewWithConfig → Ping sequence, bounding the pool
// per cfg's min/max settings.
func newPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MinPoolSize > 0 {
		poolCfg.MinConns = int32(cfg.MinPoolSize)
	}
	if cfg.MaxPoolSize > 0 {
		poolCfg.MaxConns = int32(cfg.MaxPoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// sessionStoreConfig converts the single-URL session store config into the
// discrete Addr/Password/DB fields sessionstore.Config wants, via the same
// redis.ParseURL the go-redis client itself uses to parse a connection
// string.
func sessionStoreConfig(cfg config.SessionConfig) (sessionstore.Config, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return sessionstore.Config{}, err
	}
	return sessionstore.Config{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: cfg.PoolSize,
	}, nil
}

// registerHealthChecks wires /healthz and /readyz, with readiness gated on
// the Redis-backed session store actually being reachable.
func registerHealthChecks(mux *http.ServeMux, deps orchestrator.Dependencies) {
	h := health.New(
		health.Checker{Name: "session_store", Check: func(ctx context.Context) error {
			ok, err := deps.Session.Health(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("session store not ready")
			}
			return nil
		}},
	)
	h.Register(mux)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers the concrete provider factories this
// build ships with: OpenAI and Anthropic for LLM, Deepgram for STT,
// ElevenLabs for TTS.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(cfg config.LLMConfig) (llm.Provider, error) {
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)
	})

	reg.RegisterLLM("anthropic", func(cfg config.LLMConfig) (llm.Provider, error) {
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(cfg.MaxTokens))
		}
		return anthropic.New(cfg.APIKey, cfg.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(cfg config.STTConfig) (stt.Provider, error) {
		var opts []deepgram.Option
		if cfg.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Language))
		}
		if cfg.SampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(cfg.SampleRate))
		}
		return deepgram.New(cfg.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(cfg config.TTSConfig) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if cfg.Model != "" {
			opts = append(opts, elevenlabs.WithModel(cfg.Model))
		}
		return elevenlabs.New(cfg.APIKey, opts...)
	})
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
