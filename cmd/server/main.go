package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/veridoc/veridoc-api/internal/analytics"
	"github.com/veridoc/veridoc-api/internal/config"
	"github.com/veridoc/veridoc-api/internal/consensus"
	"github.com/veridoc/veridoc-api/internal/dispatch"
	"github.com/veridoc/veridoc-api/internal/documents"
	"github.com/veridoc/veridoc-api/internal/handlers"
	"github.com/veridoc/veridoc-api/internal/llm"
	"github.com/veridoc/veridoc-api/internal/middleware"
	"github.com/veridoc/veridoc-api/internal/migration"
	"github.com/veridoc/veridoc-api/internal/notification"
	"github.com/veridoc/veridoc-api/internal/orchestrator"
	"github.com/veridoc/veridoc-api/internal/repository"
	"github.com/veridoc/veridoc-api/internal/routes"
	"github.com/veridoc/veridoc-api/internal/schema"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	notifications notification.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Initialize notification service.
	notificationRepo := repository.NewNotificationRepository(db)
	notificationService := notification.NewService(notificationRepo, logger)

	// Create the application instance.
	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: notificationService,
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.Logging(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "X-Owner"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	// Repositories
	batchRepo := repository.NewBatchRepository(app.db)
	runRepo := repository.NewRunRepository(app.db)

	// Completion providers and the run pipeline.
	registry, err := llm.NewRegistry(app.config.Completion, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure completion providers")
	}
	store := documents.NewDirStore(app.config.DocumentsDir)
	validator := schema.NewValidator(schema.ParsePolicy(app.config.Worker.StreamPolicy))
	dispatcher := dispatch.NewDispatcher(registry, store, validator, app.config.Worker.RunTimeout, logger)
	orch := orchestrator.New(batchRepo, runRepo, dispatcher, app.notifications, app.config.Worker.MaxConcurrentRuns, logger)

	// Reporting
	aggregator := analytics.NewAggregator(batchRepo, runRepo)
	consensusEngine := consensus.NewEngine(batchRepo, runRepo)

	// Handlers
	batchHandler := handlers.NewBatchHandler(batchRepo, runRepo, orch, aggregator, consensusEngine, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(batchHandler, notificationHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server. In-flight batches keep
	// running until their goroutines finish or the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
