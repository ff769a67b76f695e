package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/api/handlers"
	"github.com/congresssignal/backend/internal/cache/redis"
	"github.com/congresssignal/backend/internal/digest"
	"github.com/congresssignal/backend/internal/extraction"
	"github.com/congresssignal/backend/internal/indexing"
	"github.com/congresssignal/backend/internal/ingestion"
	"github.com/congresssignal/backend/internal/llm"
	"github.com/congresssignal/backend/internal/mailer"
	"github.com/congresssignal/backend/internal/matching"
	"github.com/congresssignal/backend/internal/metrics"
	"github.com/congresssignal/backend/internal/middleware/ratelimit"
	"github.com/congresssignal/backend/internal/middleware/security"
	"github.com/congresssignal/backend/internal/middleware/webhookauth"
	"github.com/congresssignal/backend/internal/source/govinfo"
	"github.com/congresssignal/backend/internal/storage/sqlite"
	"github.com/congresssignal/backend/internal/vector/milvus"
	"github.com/congresssignal/backend/pkg/config"
	appLogger "github.com/congresssignal/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Congress Signal API Server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	vectorIndex, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer vectorIndex.Close()

	err = vectorIndex.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	var embeddingCache *redis.Client
	if cfg.Redis.Enabled {
		embeddingCache, err = redis.NewClient(
			fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			cfg.Redis.Password,
			cfg.Redis.DB,
			24*time.Hour,
		)
		if err != nil {
			// The cache only saves embedding calls; run without it.
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
			embeddingCache = nil
		} else {
			defer embeddingCache.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	source := govinfo.NewClient(cfg.Source.BaseURL, cfg.Source.PageSize, cfg.Source.TimeoutSec)
	mailClient := mailer.NewClient(cfg.Mailer.BaseURL, cfg.Mailer.APIKey, cfg.Mailer.TimeoutSec)

	ingestor := ingestion.NewIngestor(source, store)
	docExtractor := extraction.NewDocumentExtractor(llmClient, cfg.Source.TimeoutSec)
	engine := extraction.NewEngine(store, docExtractor, extraction.RelevanceReduce(cfg.Digest.RelevanceReduce))
	indexer := indexing.NewIndexer(store, llmClient, embeddingCache, vectorIndex)
	matcher := matching.NewMatcher(llmClient, embeddingCache, vectorIndex, store, cfg.Digest.FallbackQuery)

	freeService := digest.NewFreeService(store, matcher, mailClient, digest.FreeConfig{
		WelcomeFloor: float32(cfg.Digest.WelcomeFloor),
		WelcomeTopK:  cfg.Digest.WelcomeTopK,
		From:         cfg.Mailer.FreeFrom,
	})
	proService := digest.NewProService(store, matcher, docExtractor, mailClient, digest.ProConfig{
		Floor:        float32(cfg.Digest.ProFloor),
		TopK:         cfg.Digest.ProTopK,
		OnboardFloor: float32(cfg.Digest.ProOnboardFloor),
		OnboardTopK:  cfg.Digest.ProOnboardTopK,
		From:         cfg.Mailer.ProFrom,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.HeadersMiddleware(cfg.Server.IsDevelopment()))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	subscriptionHandler := handlers.NewSubscriptionHandler(store, freeService, proService)
	webhookHandler := handlers.NewWebhookHandler(freeService, proService, indexer)
	jobHandler := handlers.NewJobHandler(ingestor, engine, indexer, freeService, proService)

	api := app.Group("/api/v1")

	signupLimiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 10})
	api.Post("/subscriptions", signupLimiter.Middleware(), subscriptionHandler.CreateSubscription)
	api.Post("/subscriptions/pro", signupLimiter.Middleware(), subscriptionHandler.CreateProSubscription)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.Handler())

	hooks := app.Group("/webhooks", webhookauth.Middleware(cfg.Webhook.Secret))
	hooks.Post("/subscription", webhookHandler.HandleSubscriptionEvent)
	hooks.Post("/pro-onboard", webhookHandler.HandleProOnboardEvent)
	hooks.Post("/extraction", webhookHandler.HandleExtractionEvent)
	hooks.Post("/pro-digest", webhookHandler.HandleProDigestTrigger)

	jobs := app.Group("/jobs", webhookauth.Middleware(cfg.Webhook.Secret))
	jobs.Post("/ingest", jobHandler.RunIngest)
	jobs.Post("/extract", jobHandler.RunExtract)
	jobs.Post("/reindex", jobHandler.RunReindex)
	jobs.Post("/digest", jobHandler.RunDigest)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
