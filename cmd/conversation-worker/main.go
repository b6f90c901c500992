package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/beybars1/napoleon-tseh/internal/app/bootstrap"
	appconfig "github.com/beybars1/napoleon-tseh/internal/config"
	"github.com/beybars1/napoleon-tseh/internal/conversation"
	"github.com/beybars1/napoleon-tseh/internal/dedup"
	"github.com/beybars1/napoleon-tseh/internal/extraction"
	"github.com/beybars1/napoleon-tseh/internal/messages"
	"github.com/beybars1/napoleon-tseh/internal/observability/metrics"
	"github.com/beybars1/napoleon-tseh/internal/orders"
	"github.com/beybars1/napoleon-tseh/internal/outbound"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting conversation worker", "env", cfg.Env)

	if cfg.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	messageStore := messages.NewStore(pool)
	dispatcher := buildDispatcher(cfg, messageStore, logger)

	ex := extraction.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.ExtractionTimeout)
	engine := conversation.NewEngine(ex, conversation.Replies{BusinessName: cfg.BusinessName}, cfg.FieldRetryCeiling)

	worker := conversation.NewWorker(
		engine,
		queues.Client,
		messageStore,
		dedup.NewGuard(pool),
		conversation.NewStore(convDB, logger),
		orders.NewStore(pool),
		dispatcher,
		logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithReceiveBatchSize(cfg.ReceiveBatchSize),
		conversation.WithReceiveWait(cfg.ReceiveWaitSeconds),
		conversation.WithMaxAttempts(cfg.QueueMaxAttempts),
		conversation.WithHistoryLimit(cfg.HistoryLimit),
		conversation.WithIdleTimeout(cfg.ConversationIdleTTL),
	).WithMetrics(metrics.NewPipelineMetrics(nil))

	if redisClient != nil {
		worker = worker.
			WithTurnLock(dedup.NewTurnLock(redisClient)).
			WithTranscript(conversation.NewTranscriptStore(redisClient, cfg.ConversationIdleTTL))
	}

	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}

// buildDispatcher registers a sender per configured channel and wraps the
// registry so every reply lands in the outbound message log.
func buildDispatcher(cfg *appconfig.Config, store *messages.Store, logger *logging.Logger) outbound.Dispatcher {
	registry := outbound.NewRegistry()
	if cfg.TelegramBotToken != "" {
		registry.Register("telegram", outbound.NewTelegramSender(cfg.TelegramBotToken, logger))
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set; telegram replies disabled")
	}
	if cfg.GreenAPIInstance != "" && cfg.GreenAPIToken != "" {
		registry.Register("whatsapp", outbound.NewGreenAPISender(cfg.GreenAPIBaseURL, cfg.GreenAPIInstance, cfg.GreenAPIToken, logger))
	} else {
		logger.Warn("Green API credentials not set; whatsapp replies disabled")
	}
	return outbound.WrapWithPersistence(registry, store, logger)
}
