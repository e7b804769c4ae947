package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/internal/analytics"
	"github.com/piotroramus/10x-cards-sub000/internal/auth"
	"github.com/piotroramus/10x-cards-sub000/internal/cards"
	"github.com/piotroramus/10x-cards-sub000/internal/config"
	"github.com/piotroramus/10x-cards-sub000/internal/generation"
	"github.com/piotroramus/10x-cards-sub000/internal/handlers"
	"github.com/piotroramus/10x-cards-sub000/internal/httpserver"
	"github.com/piotroramus/10x-cards-sub000/internal/llm"
	"github.com/piotroramus/10x-cards-sub000/internal/metrics"
	"github.com/piotroramus/10x-cards-sub000/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("cards_backend", cfg.CardsBackend),
		zap.String("analytics_backend", cfg.AnalyticsBackend),
		zap.String("model", cfg.OpenRouterModel),
	)

	// ----- Redis client (only if a backend needs it) -----
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- OpenRouter client -----
	llmClient, err := llm.NewClient(llm.Config{
		APIKey:        cfg.OpenRouterAPIKey,
		BaseURL:       cfg.OpenRouterBaseURL,
		DefaultModel:  cfg.OpenRouterModel,
		Timeout:       cfg.LLMTimeout,
		RetryAttempts: cfg.LLMRetryAttempts,
		RetryDelay:    cfg.LLMRetryDelay,
		AppURL:        cfg.AppURL,
		AppName:       cfg.AppName,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Analytics -----
	sink, err := analytics.New(cfg.AnalyticsBackend, redisClient, logger)
	if err != nil {
		return err
	}
	dispatcher := analytics.NewDispatcher(sink, logger)
	defer dispatcher.Close()

	// ----- Card store -----
	store := cards.NewStore(cards.Config{
		Backend: cfg.CardsBackend,
		Prefix:  "tenx",
	}, redisClient)

	// ----- Generation service -----
	generator, err := generation.NewService(llmClient, dispatcher, logger, generation.Options{
		Model: cfg.OpenRouterModel,
	})
	if err != nil {
		return err
	}

	// ----- Auth -----
	verifier := auth.NewVerifier(cfg.AuthJWTSecret)
	if verifier.DevMode() {
		logger.Warn("AUTH_JWT_SECRET is empty, requests are trusted via X-User-ID")
	}

	// ----- Handlers -----
	generationsHandler := handlers.NewGenerationsHandler(generator)
	cardsHandler := handlers.NewCardsHandler(store, dispatcher)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, verifier, generationsHandler, cardsHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation requests can legitimately ride out several upstream
		// retries, so the write budget exceeds the per-request timeout.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting server",
		zap.String("addr", srv.Addr),
		zap.String("cards_backend", cfg.CardsBackend),
		zap.String("analytics_backend", cfg.AnalyticsBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
