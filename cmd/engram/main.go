// Engram memory server — persistent memory for AI agents: handoffs,
// knowledge notes, capsules, a typed memory graph and progressive
// consolidation, exposed over an MCP JSON-RPC surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/engram-memory/engram/pkg/auth"
	"github.com/engram-memory/engram/pkg/cleanup"
	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/consolidation"
	"github.com/engram-memory/engram/pkg/database"
	"github.com/engram-memory/engram/pkg/embedding"
	"github.com/engram-memory/engram/pkg/llm"
	"github.com/engram-memory/engram/pkg/mcp"
	"github.com/engram-memory/engram/pkg/services"
	"github.com/engram-memory/engram/pkg/store"
	"github.com/engram-memory/engram/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting engram", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbConfig.EmbeddingDimension = cfg.Embedding.Dimension

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient)
	warningsService := services.NewSystemWarningsService()

	// 3. Embedding pipeline
	embedClient := embedding.NewClient(cfg.Embedding)
	embedQueue := embedding.NewQueue(embedClient, embedding.NewStoreSink(st),
		cfg.Embedding.Workers, cfg.Embedding.QueueSize, warningsService)
	embedQueue.Start(ctx)
	defer embedQueue.Stop()
	slog.Info("Embedding pipeline started",
		"provider", cfg.Embedding.Provider,
		"dimension", cfg.Embedding.Dimension,
		"workers", cfg.Embedding.Workers)

	// 4. LLM service (summaries fall back to deterministic text when absent)
	llmService := llm.NewService(cfg.LLM, warningsService)

	// 5. Domain services
	memoryService := services.NewMemoryService(st, embedQueue)
	capsuleService := services.NewCapsuleService(st, embedQueue)
	decisionService := services.NewDecisionService(st)
	feedbackService := services.NewFeedbackService(st, embedQueue)
	graphService := services.NewGraphService(st)
	recallService := services.NewRecallService(st, embedClient)
	wakeService := services.NewWakeService(st)
	systemService := services.NewSystemService(st, dbClient.DB(), embedQueue, warningsService)
	slog.Info("Services initialized")

	// 6. Consolidation engine + cron scheduler
	engine := consolidation.NewEngine(st, llmService, cfg.Consolidation, embedQueue, warningsService)
	scheduler, err := consolidation.NewScheduler(engine, cfg.Consolidation)
	if err != nil {
		slog.Error("Failed to build consolidation schedule", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()
	slog.Info("Consolidation schedule registered",
		"daily", cfg.Consolidation.DailySchedule,
		"weekly", cfg.Consolidation.WeeklySchedule,
		"monthly", cfg.Consolidation.MonthlySchedule)

	// 7. Maintenance loop (capsule expiry, idempotency TTL, event retention)
	cleanupService := cleanup.NewService(cfg.Maintenance, st)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 8. Auth
	verifier, err := auth.NewVerifier(ctx, cfg.Auth, cfg.IsProduction())
	if err != nil {
		slog.Error("Failed to initialize auth", "error", err)
		os.Exit(1)
	}

	// 9. MCP server
	dispatcher := mcp.NewDispatcher(&mcp.Services{
		Memory:        memoryService,
		Capsules:      capsuleService,
		Decisions:     decisionService,
		Feedback:      feedbackService,
		Graph:         graphService,
		Recall:        recallService,
		Wake:          wakeService,
		System:        systemService,
		Consolidation: engine,
	})
	httpServer := mcp.NewServer(cfg.Server, verifier, dispatcher)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Engram started", "addr", cfg.Server.Addr(), "environment", cfg.Environment)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop accepting requests, then drain background
	// workers via the deferred Stops.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
