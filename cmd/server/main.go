package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uni.edu.pe/chatbot-uni/internal/answerer"
	"uni.edu.pe/chatbot-uni/internal/api"
	"uni.edu.pe/chatbot-uni/internal/auth"
	"uni.edu.pe/chatbot-uni/internal/config"
	"uni.edu.pe/chatbot-uni/internal/core"
	"uni.edu.pe/chatbot-uni/internal/knowledge"
	"uni.edu.pe/chatbot-uni/internal/live"
	"uni.edu.pe/chatbot-uni/internal/logger"
	"uni.edu.pe/chatbot-uni/internal/middleware"
	"uni.edu.pe/chatbot-uni/internal/store"
)

func main() {
	// Command line flags for one-shot modes
	ingestDataFlag := flag.Bool("ingest", false, "Ingest the knowledge file into the chunk store and exit")
	healthcheckFlag := flag.Bool("healthcheck", false, "Probe the answering backend and exit 0 if it is reachable")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx := context.Background()

	// Initialize answering backend
	ans, closeAnswerer, err := newAnswerer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize answering backend: %v", err)
	}
	defer closeAnswerer()

	if *healthcheckFlag {
		hctx, cancel := context.WithTimeout(ctx, cfg.AnswerTimeout)
		defer cancel()
		if err := ans.Health(hctx); err != nil {
			slog.Error("answering backend unreachable", "backend", cfg.AnswerBackend, "error", err)
			os.Exit(1)
		}
		slog.Info("answering backend reachable", "backend", cfg.AnswerBackend)
		return
	}

	if *ingestDataFlag {
		if err := ingest(ctx, cfg, ans); err != nil {
			log.Fatalf("Data ingestion failed: %v", err)
		}
		return
	}

	// Initialize database store
	dbStore, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Live history updates
	hub := live.NewHub()
	hub.Start()
	defer hub.Stop()
	dbStore.SetOnChangeListener(hub)

	// Core services
	sessions := core.NewSessionManager(core.SessionDeps{Store: dbStore, Answerer: ans}, cfg.SessionIdleTTL)
	sessions.Start(time.Minute)
	defer sessions.Stop()

	var federated auth.FederatedVerifier
	if cfg.GoogleClientID != "" {
		federated = auth.NewGoogleVerifier(cfg.GoogleClientID)
	}
	identity := core.NewIdentityService(core.IdentityDeps{
		Store:     dbStore,
		Tokens:    auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		Federated: federated,
		Sessions:  sessions,
	})
	history := core.NewHistoryService(dbStore, hub, time.Local)

	authLimiter := middleware.NewLimiterStore(cfg.AuthRateLimit, cfg.AuthRateLimit, 5*time.Minute)
	defer authLimiter.Stop()
	messageLimiter := middleware.NewLimiterStore(cfg.MessageRateLimit, cfg.MessageRateLimit, 5*time.Minute)
	defer messageLimiter.Stop()

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(identity, sessions, history, ans)
	router := api.NewRouter(apiHandler, api.RouterConfig{
		StaticDir:      cfg.StaticDir,
		AuthLimiter:    authLimiter,
		MessageLimiter: messageLimiter,
	})

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AnswerTimeout + 30*time.Second, // answers can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		slog.Info("starting server", "addr", serverAddr, "store", cfg.StoreDriver, "answerer", cfg.AnswerBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server exiting gracefully")
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return store.NewMongoStore(cctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}

// newAnswerer builds the configured backend. The Gemini backend answers from
// the knowledge chunks ingested into the SQLite file at DATABASE_URL.
func newAnswerer(ctx context.Context, cfg *config.Config) (answerer.Answerer, func(), error) {
	if cfg.AnswerBackend != config.AnswerBackendGemini {
		return answerer.NewHTTPClient(cfg.AnswerAPIURL, cfg.AnswerTimeout), func() {}, nil
	}

	gemini, err := answerer.NewGeminiAnswerer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, nil, err
	}

	chunks, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		gemini.Close()
		return nil, nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}
	retriever, err := knowledge.NewRetriever(ctx, chunks, gemini)
	if err != nil {
		slog.Warn("answering without retrieval context", "error", err)
	} else {
		gemini.SetRetriever(retriever)
	}

	return gemini, func() {
		gemini.Close()
		_ = chunks.Close()
	}, nil
}

func ingest(ctx context.Context, cfg *config.Config, ans answerer.Answerer) error {
	embedder, ok := ans.(knowledge.Embedder)
	if !ok {
		return fmt.Errorf("ingestion needs ANSWER_BACKEND=%s", config.AnswerBackendGemini)
	}

	chunks, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open knowledge store: %w", err)
	}
	defer chunks.Close()

	slog.Info("starting data ingestion", "file", cfg.KnowledgeFile)
	n, err := knowledge.IngestFile(ctx, cfg.KnowledgeFile, embedder, chunks)
	if err != nil {
		return err
	}
	slog.Info("data ingestion complete", "chunks", n)
	return nil
}
