package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qpay-bridge/config"
	"qpay-bridge/internal/cache"
	"qpay-bridge/internal/handler"
	"qpay-bridge/internal/provider/qpay"
	"qpay-bridge/internal/repository"
	"qpay-bridge/internal/router"
	"qpay-bridge/internal/usecase"
	"qpay-bridge/pkg/client"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting qpay bridge")

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, relying on environment")
	}

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("qpay_environment", cfg.QPay.Environment))

	dbPool, err := pgxpool.New(context.Background(), cfg.Database.ConnString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("connected to database",
		zap.String("database", cfg.Database.DBName))

	paymentRepo := repository.NewPaymentRepository(dbPool)

	var deduper *cache.NotificationDeduper
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deduper = cache.NewNotificationDeduper(redisClient, 24*time.Hour)
		logger.Info("notification dedup enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}

	qpayClient := qpay.NewClient(cfg.QPay, logger)
	shopifyClient := client.NewShopifyClient(cfg.Shopify, logger)

	invoiceWorkflow := usecase.NewInvoiceWorkflow(
		paymentRepo,
		qpayClient,
		shopifyClient,
		cfg.QPay,
		logger,
	)

	webhookReconciler := usecase.NewWebhookReconciler(
		paymentRepo,
		shopifyClient,
		cfg.QPay.WebhookSecret,
		deduper,
		logger,
	)

	invoiceHandler := handler.NewInvoiceHandler(invoiceWorkflow, logger)
	webhookHandler := handler.NewWebhookHandler(webhookReconciler, logger)

	r := router.SetupRoutes(invoiceHandler, webhookHandler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("qpay bridge started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
