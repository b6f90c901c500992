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
	"github.com/beybars1/napoleon-tseh/internal/dedup"
	"github.com/beybars1/napoleon-tseh/internal/extraction"
	"github.com/beybars1/napoleon-tseh/internal/extractor"
	"github.com/beybars1/napoleon-tseh/internal/messages"
	"github.com/beybars1/napoleon-tseh/internal/observability/metrics"
	"github.com/beybars1/napoleon-tseh/internal/orders"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting order extraction worker", "env", cfg.Env)

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

	queues, err := bootstrap.BuildQueues(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build lane queues", "error", err)
		os.Exit(1)
	}
	defer queues.Close()

	ex := extraction.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.ExtractionTimeout)
	worker := extractor.NewWorker(
		ex,
		queues.Manager,
		messages.NewStore(pool),
		dedup.NewGuard(pool),
		orders.NewStore(pool),
		logger,
		extractor.WithWorkerCount(cfg.WorkerCount),
		extractor.WithReceiveBatchSize(cfg.ReceiveBatchSize),
		extractor.WithReceiveWait(cfg.ReceiveWaitSeconds),
		extractor.WithMaxAttempts(cfg.QueueMaxAttempts),
	).WithMetrics(metrics.NewPipelineMetrics(nil))

	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down order extraction worker...")
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
		logger.Info("order extraction worker stopped")
	case <-doneCtx.Done():
		logger.Error("order extraction worker shutdown timed out", "error", doneCtx.Err())
	}
}
