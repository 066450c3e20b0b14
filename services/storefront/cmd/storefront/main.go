package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"storefront/internal/util"
	"storefront/pkg/cache"
	"storefront/pkg/chat"
	"storefront/pkg/identity"
	"storefront/services/storefront/internal/app"
	"storefront/services/storefront/internal/config"
	"storefront/services/storefront/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	catalogTTL, err := config.ParseOptionalDuration(cfg.CatalogTTL, cache.DefaultTTL)
	if err != nil {
		log.Fatalf("failed to parse catalog TTL: %v", err)
	}
	sessionLatency, err := config.ParseOptionalDuration(cfg.SessionLatency, identity.DefaultLatency)
	if err != nil {
		log.Fatalf("failed to parse session latency: %v", err)
	}
	messageLatency, err := config.ParseOptionalDuration(cfg.MessageLatency, chat.DefaultLatency)
	if err != nil {
		log.Fatalf("failed to parse message latency: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DurableBackend: cfg.DurableBackend,
		DataDir:        cfg.DataDir,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		DatabaseURL:    cfg.DatabaseURL,
		KeyPrefix:      cfg.KeyPrefix,
		CatalogURL:     cfg.CatalogURL,
		CatalogTTL:     catalogTTL,
		SeedUsersPath:  cfg.SeedUsersPath,
		SessionLatency: sessionLatency,
		MessageLatency: messageLatency,
		SessionSecret:  cfg.SessionSecret,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		AMQPURL:        cfg.AMQPURL,
		AMQPExchange:   cfg.AMQPExchange,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SigninRateLimitPerMinute: cfg.SigninRateLimitPerMinute,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		TrustedProxyCIDRs:        cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
