package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"crm-gateway/internal/common/logging"
	"crm-gateway/internal/config"
	"crm-gateway/internal/crm"
	"crm-gateway/internal/handlers"
	"crm-gateway/internal/jobs"
	"crm-gateway/internal/notify"
	"crm-gateway/internal/redis"
	"crm-gateway/internal/server"
	"crm-gateway/internal/storage"
	"crm-gateway/internal/storage/postgres"
	"crm-gateway/internal/storage/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	// Token cache. Redis being down is survivable: the gateway then logs in
	// on every call instead of reusing a cached token.
	var tokenCache crm.TokenCache
	var cacheHealth handlers.HealthChecker
	cache, err := redis.NewClient(&redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Warn("Redis unreachable, running without token cache", logging.Err(err))
	} else {
		defer cache.Close()
		tokenCache = cache
		cacheHealth = cache
	}

	// Users store.
	sqlite.Register()
	postgres.Register()
	store, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// CRM gateway.
	auth := crm.NewAuthenticator(cfg.CRMHostname, crm.Credentials{
		Email:  cfg.CRMEmail,
		APIKey: cfg.CRMAPIKey,
	}, cfg.CRMRequestTimeout, logger)
	tokens := crm.NewTokenManager(tokenCache, auth, cfg.CRMTokenTTL, logger)

	opts := crm.DefaultOptions(cfg.CRMHostname)
	opts.RequestLimit = cfg.CRMRequestLimit
	opts.MaxRetries = cfg.CRMMaxRetries
	opts.RetryDelay = cfg.CRMRetryDelay
	opts.RequestTimeout = cfg.CRMRequestTimeout
	opts.Logger = logger

	gateway, err := crm.NewClient(opts, tokens)
	if err != nil {
		log.Fatalf("Failed to initialize CRM gateway: %v", err)
	}

	// Periodic jobs.
	notifier := notify.NewTelegram(cfg.TelegramBotToken, logger)
	scheduler, err := jobs.NewScheduler(
		jobs.New(gateway, tokens, store, notifier, logger),
		jobs.DefaultSchedule(), logger)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP API.
	h := handlers.New(gateway, store, cacheHealth, logger)
	srv := server.New(h.Routes(), cfg.Port)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	logger.Info("server started", logging.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", err)
	}
}
