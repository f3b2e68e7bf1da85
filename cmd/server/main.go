// Fabric Gateway - multi-source query orchestration server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/telcoinsights/fabric-gateway/internal/api"
	"github.com/telcoinsights/fabric-gateway/internal/azauth"
	"github.com/telcoinsights/fabric-gateway/internal/cache"
	"github.com/telcoinsights/fabric-gateway/internal/config"
	"github.com/telcoinsights/fabric-gateway/internal/fabric"
	"github.com/telcoinsights/fabric-gateway/internal/foundry"
	"github.com/telcoinsights/fabric-gateway/internal/intent"
	"github.com/telcoinsights/fabric-gateway/internal/jobs"
	"github.com/telcoinsights/fabric-gateway/internal/metrics"
	"github.com/telcoinsights/fabric-gateway/internal/middleware"
	"github.com/telcoinsights/fabric-gateway/internal/normalize"
	"github.com/telcoinsights/fabric-gateway/internal/orchestrator"
	"github.com/telcoinsights/fabric-gateway/internal/session"
	"github.com/telcoinsights/fabric-gateway/internal/sources"
	"github.com/telcoinsights/fabric-gateway/internal/store"
	"github.com/telcoinsights/fabric-gateway/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"fabric", cfg.FabricConfigured(), "foundry", cfg.FoundryConfigured())

	// Initialize dependencies.
	archive, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := archive.Close(); closeErr != nil {
			slog.Error("Failed to close archive", "error", closeErr)
		}
	}()

	if err := archive.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	sessions := session.NewMemoryStore(cfg.SessionMaxEntries, cfg.SessionMaxMessages)
	resultCache := cache.New(cfg.CacheTTL)

	// Agent backends. Missing credentials fall back to the mock data agent
	// so the chat surface keeps answering in local development.
	var dataAgent orchestrator.DataAgent = fabric.Mock{}
	if cfg.FabricConfigured() {
		tokens, err := azauth.NewTokenSource(azauth.FabricScope, azauth.Options{
			TenantID:     cfg.TenantID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		})
		if err != nil {
			slog.Error("Failed to build Fabric credential", "error", err)
			os.Exit(1)
		}
		dataAgent = fabric.New(cfg.DataAgentURL, cfg.DataAgentName, tokens, nil)
		slog.Info("Fabric Data Agent configured", "agent", cfg.DataAgentName)
	} else {
		slog.Warn("Fabric Data Agent not configured, using mock responses")
	}

	var foundrySvc *foundry.Service
	if cfg.FoundryConfigured() {
		tokens, err := azauth.NewTokenSource(azauth.CognitiveScope, azauth.Options{
			TenantID:     cfg.TenantID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		})
		if err != nil {
			slog.Error("Failed to build Foundry credential", "error", err)
			os.Exit(1)
		}
		foundrySvc = foundry.New(foundry.Options{
			AgentEndpoint:       cfg.AgentEndpoint,
			ReasoningEndpoint:   cfg.ReasoningEndpoint,
			ReasoningDeployment: cfg.ReasoningDeployment,
			ModelDeployment:     cfg.AgentModelDeployment,
			BingConnectionName:  cfg.BingConnectionName,
			IDFile:              filepath.Join(filepath.Dir(cfg.DBPath), "agent_ids.json"),
			Tokens:              tokens,
		})
		slog.Info("AI Foundry project configured")
	} else {
		slog.Warn("AI Foundry project not configured, running table reads through the data agent only")
	}

	mapping := normalize.DefaultMapping()
	if cfg.BrandMappingFile != "" {
		loaded, err := normalize.LoadMapping(cfg.BrandMappingFile)
		if err != nil {
			slog.Error("Failed to load brand mapping", "path", cfg.BrandMappingFile, "error", err)
			os.Exit(1)
		}
		mapping = loaded
	}

	// Source fetchers and routing.
	transcripts := &sources.TranscriptFetcher{Dir: cfg.TranscriptDir}
	web := &sources.WebFetcher{}
	knowledge := &sources.KnowledgeFetcher{Deployment: cfg.ReasoningDeployment}
	if foundrySvc.Available() {
		web.Runner = foundrySvc
	}
	var detector *intent.Detector
	if foundrySvc.ReasoningAvailable() {
		knowledge.LLM = foundrySvc
		detector = intent.NewDetector(nil, &intentClassifier{svc: foundrySvc, deployment: cfg.PlannerDeployment})
	} else {
		detector = intent.NewDetector(nil, nil)
	}

	var reasoning orchestrator.ReasoningAgent
	if foundrySvc != nil {
		reasoning = foundrySvc
	}
	orch := orchestrator.New(dataAgent, reasoning, detector, transcripts, web, knowledge)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resultCache.StartSweeper(ctx, 5*time.Minute)
	runner := jobs.NewRunner(ctx, resultCache, archive, 10*time.Minute)

	var llm sources.Completer
	if foundrySvc.ReasoningAvailable() {
		llm = foundrySvc
	}
	handler := api.NewHandler(api.Deps{
		Config:   cfg,
		Sessions: sessions,
		Orch:     orch,
		Data:     dataAgent,
		LLM:      llm,
		Runner:   runner,
		Results:  resultCache,
		Mapping:  mapping,
		Archive:  archive,
	})
	wsHandler := ws.NewChatHandler(sessions, orch, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(metrics.Middleware)

	handler.Routes(r)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Agent runs can poll for up to a minute; leave room above that.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

// intentClassifier adapts the planning deployment to the source routing
// classifier: it returns a JSON array of category names.
type intentClassifier struct {
	svc        *foundry.Service
	deployment string
}

const classifierPrompt = `Classify which data sources can answer the user's question.
Respond with a JSON array drawn from: "transcript", "web", "knowledgebase". Nothing else.`

func (c *intentClassifier) Classify(ctx context.Context, query string) (string, error) {
	return c.svc.Chat(ctx, c.deployment, classifierPrompt, query, 0)
}
