package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/config"
	"diagnostic-assistant/internal/consultation"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/patient"
	"diagnostic-assistant/internal/platform/database"
	"diagnostic-assistant/internal/platform/httpx"
	"diagnostic-assistant/internal/platform/metrics"
	"diagnostic-assistant/internal/platform/middleware"
	"diagnostic-assistant/internal/platform/telegram"
	"diagnostic-assistant/internal/report"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// A diagnosis turn runs the chat call and the extraction back to back.
	writeTimeout := cfg.ChatTimeout + cfg.DiagnosisTimeout + 30*time.Second
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("llm_mode", cfg.ResolvedLLMMode()).Bool("database", cfg.UsesDatabase()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

type app struct {
	router http.Handler
	close  func()
}

// newApp wires stores, clients and services. Without DATABASE_URL it runs on
// the in-memory stores; without an LLM key it uses the simulated gateway.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	closeFn := func() {}

	var (
		consultationStore consultation.Store
		patientStore      patient.Store
	)
	if cfg.UsesDatabase() {
		if cfg.AutoMigrate {
			if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsDir, database.Up, logger); err != nil {
				return nil, err
			}
		}
		pool, err := database.NewPool(ctx, database.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		closeFn = pool.Close
		consultationStore = consultation.NewPostgresStore(pool)
		patientStore = patient.NewPostgresStore(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		consultationStore = consultation.NewMemoryStore()
		patientStore = patient.NewMemoryStore()
	}

	var gateway agent.Gateway
	if cfg.ResolvedLLMMode() == config.LLMModeProvider {
		gateway = agent.NewProviderClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMRateLimitRPS, logger,
			agent.WithSampling(agent.Sampling{
				FrequencyPenalty: cfg.LLMFrequencyPenalty,
				PresencePenalty:  cfg.LLMPresencePenalty,
				TopP:             cfg.LLMTopP,
			}),
		)
	} else {
		logger.Warn().Msg("LLM provider not configured, using simulated gateway")
		gateway = agent.NewSimulatedGateway()
	}

	extractor := diagnosis.NewExtractor(gateway, diagnosis.ExtractorConfig{
		Model:       cfg.DiagnosisModel,
		Temperature: cfg.DiagnosisTemperature,
		MaxTokens:   cfg.DiagnosisMaxTokens,
		Timeout:     cfg.DiagnosisTimeout,
	}, logger)

	var (
		stt consultation.Transcriber
		tts consultation.Synthesizer
		tg  report.TelegramClient
	)
	if cfg.STTURL != "" {
		stt = agent.NewWhisperClient(cfg.STTURL)
	}
	if cfg.TTSAPIKey != "" {
		tts = agent.NewElevenLabsClient("", cfg.TTSAPIKey, cfg.TTSVoiceID)
	}
	if cfg.TelegramBotToken != "" {
		tg = telegram.NewClient(cfg.TelegramBotToken, "")
	}
	reports := report.NewService(tg, cfg.DoctorChatID, cfg.ReportFontPath, logger)

	patientSvc := patient.NewService(patientStore, logger)
	consultationSvc := consultation.NewService(consultationStore, gateway, extractor, consultation.Config{
		Chat: agent.Options{
			Model:       cfg.ChatModel,
			Temperature: cfg.ChatTemperature,
			MaxTokens:   cfg.ChatMaxTokens,
		},
		ChatTimeout:   cfg.ChatTimeout,
		HistoryWindow: cfg.HistoryWindow,
	}, logger,
		consultation.WithPatients(patientSvc),
		consultation.WithReports(reports),
		consultation.WithSpeech(stt, tts),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(metrics.Middleware)
	r.NotFound(middleware.NotFound)
	r.MethodNotAllowed(middleware.MethodNotAllowed)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := consultationSvc.Ping(pingCtx); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware)
		patient.RegisterRoutes(r, patient.NewHandler(patientSvc, consultationSvc))
		consultation.RegisterRoutes(r, consultation.NewHandler(consultationSvc))
	})

	return &app{router: r, close: closeFn}, nil
}
