package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signal-sentinel/internal/clients/quotes"
	"github.com/aristath/signal-sentinel/internal/config"
	"github.com/aristath/signal-sentinel/internal/database"
	"github.com/aristath/signal-sentinel/internal/events"
	"github.com/aristath/signal-sentinel/internal/modules/alerts"
	"github.com/aristath/signal-sentinel/internal/modules/automation"
	"github.com/aristath/signal-sentinel/internal/modules/opportunities"
	"github.com/aristath/signal-sentinel/internal/modules/scanner"
	"github.com/aristath/signal-sentinel/internal/scheduler"
	"github.com/aristath/signal-sentinel/internal/secrets"
	"github.com/aristath/signal-sentinel/internal/server"
	"github.com/aristath/signal-sentinel/pkg/logger"
)

func main() {
	// Load configuration first so the logger honors LOG_LEVEL
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Signal Sentinel")

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	store := newSecretStore(cfg, log)
	emitter := events.NewManager(log)

	// Clients
	quoteClient := quotes.NewClient(cfg.QuotesBaseURL, log)
	webhookClient := automation.NewWebhookClient(log)

	// Repositories
	ruleRepo := alerts.NewRuleRepository(db.Conn(), log)
	alertEventRepo := alerts.NewEventRepository(db.Conn(), log)
	profileRepo := automation.NewProfileRepository(db.Conn(), store, log)
	autoEventRepo := automation.NewEventRepository(db.Conn(), log)
	oppRepo := opportunities.NewRepository(db.Conn(), log)

	// Services
	guardrails := automation.NewGuardrailChecker(autoEventRepo, log)
	resolver := automation.NewResolver(profileRepo, autoEventRepo, guardrails, webhookClient, emitter, log)
	tracker := opportunities.NewTracker(oppRepo, emitter, log)
	scanService := scanner.NewService(cfg.Watchlist, quoteClient, ruleRepo, tracker, emitter, log)
	engine := alerts.NewEngine(ruleRepo, alertEventRepo, quoteClient, scanService, resolver, emitter, log)
	resolveJob := opportunities.NewResolveJob(tracker)

	// Scheduler and jobs
	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, scanService, engine, resolveJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	// Prime the snapshot and run the first polling tick immediately so a
	// restart does not wait a full interval to resume alerting.
	if err := sched.RunNow(scanService); err != nil {
		log.Warn().Err(err).Msg("Initial scan failed, snapshot empty until next tick")
	}
	if err := sched.RunNow(engine); err != nil {
		log.Warn().Err(err).Msg("Initial polling tick failed")
	}

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:   cfg.Port,
		Log:    log,
		Config: cfg,
		Deps: server.Deps{
			Rules:         ruleRepo,
			AlertEvents:   alertEventRepo,
			Profiles:      profileRepo,
			AutoEvents:    autoEventRepo,
			Resolver:      resolver,
			Opportunities: oppRepo,
		},
		DevMode: cfg.DevMode,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	scanService *scanner.Service,
	engine *alerts.Engine,
	resolveJob *opportunities.ResolveJob,
) error {
	if err := sched.AddJob(everyMS(cfg.PollIntervalMS), engine); err != nil {
		return err
	}
	if err := sched.AddJob(everyMS(cfg.ScanIntervalMS), scanService); err != nil {
		return err
	}
	return sched.AddJob(everyMS(cfg.ResolveIntervalMS), resolveJob)
}

func everyMS(intervalMS int) string {
	return fmt.Sprintf("@every %dms", intervalMS)
}

// newSecretStore builds the profile secret store. Without a SECRET_KEY
// webhook URLs are stored in the clear, acceptable only in development.
func newSecretStore(cfg *config.Config, log zerolog.Logger) secrets.Store {
	if cfg.SecretKey == "" {
		log.Warn().Msg("SECRET_KEY not set, webhook URLs will be stored unencrypted")
		return secrets.Plaintext{}
	}

	box, err := secrets.NewBox(cfg.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SECRET_KEY")
	}
	return box
}
