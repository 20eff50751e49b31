package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docuseek/rag/internal/auth"
	"github.com/docuseek/rag/internal/config"
	"github.com/docuseek/rag/internal/embedder"
	"github.com/docuseek/rag/internal/identity"
	"github.com/docuseek/rag/internal/ingestion"
	"github.com/docuseek/rag/internal/llm"
	"github.com/docuseek/rag/internal/repository/postgres"
	"github.com/docuseek/rag/internal/reranker"
	"github.com/docuseek/rag/internal/retrieval"
	"github.com/docuseek/rag/internal/server"
	"github.com/docuseek/rag/internal/service"
	"github.com/docuseek/rag/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting retrieval service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Application store
	appDB, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to application database: %w", err)
	}
	defer appDB.Close()
	slog.Info("connected to application database")

	// Identity store lives in a separate operational database
	identityDB, err := postgres.New(ctx, cfg.IdentityDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to identity database: %w", err)
	}
	defer identityDB.Close()
	slog.Info("connected to identity database")

	collectionRepo := postgres.NewCollectionRepo(appDB)
	documentRepo := postgres.NewDocumentRepo(appDB)
	apiKeyRepo := postgres.NewAPIKeyRepo(appDB)
	identityRepo := postgres.NewIdentityRepo(identityDB)

	identityCache := identity.NewCache(identityRepo,
		identity.WithTTL(cfg.IdentityCacheTTL),
		identity.WithLogger(slog.Default()))

	// Qdrant vector store
	vectorStore, err := vectorstore.NewQdrantStore(ctx,
		fmt.Sprintf("%s:%d", cfg.QdrantHost, cfg.QdrantPort))
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	// Embedding sidecar
	embed := embedder.NewFastEmbedClient(embedder.FastEmbedConfig{
		BaseURL:     cfg.EmbedURL,
		DenseModel:  cfg.DenseModel,
		SparseModel: cfg.SparseModel,
		LateModel:   cfg.LateModel,
	})
	slog.Info("initialized embedder",
		"dense_model", cfg.DenseModel, "late_model", cfg.LateModel)

	// Cross-encoder backend
	var encoder reranker.CrossEncoder
	switch cfg.RerankerBackend {
	case "llm":
		llmClient := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaModel),
		)
		encoder = reranker.NewLLMReranker(llmClient)
		slog.Info("initialized LLM reranker", "model", cfg.OllamaModel)
	default:
		encoder = reranker.NewFlagReranker(reranker.FlagRerankerConfig{
			BaseURL: cfg.RerankURL,
			Model:   cfg.RerankModel,
		})
		slog.Info("initialized cross-encoder reranker", "model", cfg.RerankModel)
	}

	// Retrieval pipeline
	retriever := retrieval.NewRetriever(
		retrieval.NewSearcher(vectorStore, embed,
			retrieval.WithSearchLimits(cfg.PrefetchLimit, cfg.FusionLimit)),
		retrieval.NewReassembler(vectorStore,
			retrieval.WithReassemblyConcurrency(cfg.ReassemblyConcurrency)),
		retrieval.NewReranker(encoder,
			retrieval.WithThresholds(cfg.RerankThreshold, cfg.RerankFallbackThreshold)),
		retrieval.WithTopK(cfg.TopK),
	)

	// Ingestion pipeline
	pipeline, err := ingestion.NewPipeline(embed, vectorStore,
		ingestion.WithChunkerConfig(ingestion.ChunkerConfig{
			TargetSize: cfg.ChunkTargetSize,
			MaxSize:    cfg.ChunkMaxSize,
			Overlap:    cfg.ChunkOverlap,
		}),
		ingestion.WithPoolSize(cfg.IngestionPoolSize),
		ingestion.WithBatchSize(cfg.IngestionBatchSize),
	)
	if err != nil {
		return fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}
	defer pipeline.Release()

	// Services
	collectionSvc := service.NewCollectionService(collectionRepo, vectorStore, embed, identityCache, slog.Default())
	documentSvc := service.NewDocumentService(documentRepo, collectionSvc, vectorStore, pipeline, slog.Default())
	retrievalSvc := service.NewRetrievalService(retriever, collectionSvc, identityCache, encoder, slog.Default())

	// Auth
	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "docuseek",
	})
	authMiddleware := auth.NewMiddleware(jwtManager, apiKeyRepo, slog.Default())

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		Auth:           authMiddleware,
		Retrieval:      retrievalSvc,
		Collections:    collectionSvc,
		Documents:      documentSvc,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
