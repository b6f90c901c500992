package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beybars1/napoleon-tseh/internal/api/router"
	"github.com/beybars1/napoleon-tseh/internal/app/bootstrap"
	"github.com/beybars1/napoleon-tseh/internal/classify"
	appconfig "github.com/beybars1/napoleon-tseh/internal/config"
	"github.com/beybars1/napoleon-tseh/internal/conversation"
	"github.com/beybars1/napoleon-tseh/internal/http/handlers"
	"github.com/beybars1/napoleon-tseh/internal/messages"
	"github.com/beybars1/napoleon-tseh/internal/observability/metrics"
	"github.com/beybars1/napoleon-tseh/internal/orders"
	"github.com/beybars1/napoleon-tseh/internal/report"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting napoleon-tseh API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := bootstrap.BuildPgxPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	convDB, err := bootstrap.BuildSQLDB(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer convDB.Close()

	queues, err := bootstrap.BuildQueues(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build lane queues", "error", err)
		os.Exit(1)
	}
	defer queues.Close()

	messageStore := messages.NewStore(pool)
	orderStore := orders.NewStore(pool)
	convStore := conversation.NewStore(convDB, logger)
	classifier := classify.New(classify.Config{
		Managers: cfg.ManagerChatIDs,
		Clients:  cfg.ClientChatIDs,
	})
	pipelineMetrics := metrics.NewPipelineMetrics(nil)
	digest := report.NewDigest(orderStore)

	webhookHandler := handlers.NewWebhookHandler(handlers.WebhookConfig{
		Store:        messageStore,
		Classifier:   classifier,
		ManagerQueue: queues.Manager,
		ClientQueue:  queues.Client,
		Logger:       logger,
		Metrics:      pipelineMetrics,
	})
	ordersHandler := handlers.NewOrdersHandler(orderStore, digest, logger)
	conversationsHandler := handlers.NewConversationsHandler(convStore, logger)
	adminHandler := handlers.NewAdminHandler(messageStore, classifier, queues.Manager, queues.Client, logger)
	healthHandler := handlers.NewHealthHandler(pool)

	r := router.New(&router.Config{
		Logger:             logger,
		Webhooks:           webhookHandler,
		Orders:             ordersHandler,
		Conversations:      conversationsHandler,
		Admin:              adminHandler,
		Health:             healthHandler,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
