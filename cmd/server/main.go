package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pesio-ai/be-cm-works/internal/client"
	"github.com/pesio-ai/be-cm-works/internal/config"
	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/handler"
	"github.com/pesio-ai/be-cm-works/internal/logger"
	"github.com/pesio-ai/be-cm-works/internal/middleware"
	natsclient "github.com/pesio-ai/be-cm-works/internal/nats"
	"github.com/pesio-ai/be-cm-works/internal/repository"
	"github.com/pesio-ai/be-cm-works/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting CM Works Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply schema migrations
	if err := database.Migrate(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS (optional; generation runs fine without it)
	var nats *natsclient.Client
	if cfg.NATS.URL != "" {
		nats, err = natsclient.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, event publishing disabled")
		} else {
			defer nats.Close()
			log.Info().Str("nats_url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize repositories
	customerRepo := repository.NewCustomerRepository(db)
	stepRuleRepo := repository.NewStepRuleRepository(db)
	userRepo := repository.NewUserRepository(db)
	workRepo := repository.NewWorkRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	runRepo := repository.NewGenerationRunRepository(db)

	// Initialize services
	notifier := client.NewRunNotifier(nats, log.Logger)
	generationService := service.NewGenerationService(customerRepo, stepRuleRepo, workRepo, runRepo, notifier, log)
	workService := service.NewWorkService(workRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(generationService, workService, stepRuleRepo, userRepo, settingsRepo, runRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Work routes
	mux.HandleFunc("/api/v1/works", httpHandler.ListWorks)
	mux.HandleFunc("/api/v1/works/get", httpHandler.GetWork)
	mux.HandleFunc("/api/v1/works/generate", httpHandler.Generate)
	mux.HandleFunc("/api/v1/works/update", httpHandler.UpdateWork)
	mux.HandleFunc("/api/v1/works/steps/update", httpHandler.UpdateStep)
	mux.HandleFunc("/api/v1/works/steps/close", httpHandler.CloseStep)
	mux.HandleFunc("/api/v1/step-rules", httpHandler.StepRules)
	mux.HandleFunc("/api/v1/users", httpHandler.ListUsers)
	mux.HandleFunc("/api/v1/settings/auto-generation", httpHandler.AutoGeneration)
	mux.HandleFunc("/api/v1/generation-runs", httpHandler.ListGenerationRuns)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start the auto-generation scheduler
	go runScheduler(ctx, log, settingsRepo, generationService)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// runScheduler evaluates the trigger policy once per day and fires the
// unattended generation run when the trigger day arrives and the toggle is
// on. Generation is idempotent, so a double fire is harmless.
func runScheduler(ctx context.Context, log *logger.Logger, settings *repository.SettingsRepository, generation *service.GenerationService) {
	policy := service.TriggerPolicy{}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	check := func() {
		today := time.Now().UTC()

		enabled, err := settings.AutoGenerationEnabled(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Scheduler: failed to read auto-generation toggle")
			return
		}
		if !policy.ShouldRun(today, enabled) {
			return
		}

		target := policy.TargetPeriod(today)
		result, err := generation.RunForPeriod(ctx, target, nil, "auto")
		if err != nil {
			log.Error().Err(err).Str("period", target.String()).Msg("Scheduled generation run failed")
			return
		}
		log.Info().
			Str("period", target.String()).
			Int("created", result.Created).
			Int("existed", result.Existed).
			Int("steps_created", result.StepsCreated).
			Msg("Scheduled generation run completed")
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
