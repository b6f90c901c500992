package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/beybars1/napoleon-tseh/internal/config"
	"github.com/beybars1/napoleon-tseh/internal/queue"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

// Queues bundles the two lane transports plus an optional closer for broker
// connections.
type Queues struct {
	Manager queue.Queue
	Client  queue.Queue
	closers []func() error
}

// Close releases broker connections held by the queues.
func (q *Queues) Close() {
	for _, closeFn := range q.closers {
		_ = closeFn()
	}
}

// BuildQueues constructs the lane transports for the configured driver:
// "sqs" (default), "rabbit", or "memory" for local development and tests.
func BuildQueues(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Queues, error) {
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.QueueDriver {
	case "sqs", "":
		if cfg.ManagerQueueURL == "" || cfg.ClientQueueURL == "" {
			return nil, fmt.Errorf("bootstrap: sqs driver requires MANAGER_QUEUE_URL and CLIENT_QUEUE_URL")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg)
		logger.Info("lane queues ready", "driver", "sqs")
		return &Queues{
			Manager: queue.NewSQSQueue(client, cfg.ManagerQueueURL),
			Client:  queue.NewSQSQueue(client, cfg.ClientQueueURL),
		}, nil

	case "rabbit":
		if cfg.RabbitURL == "" {
			return nil, fmt.Errorf("bootstrap: rabbit driver requires RABBIT_URL")
		}
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect rabbitmq: %w", err)
		}
		manager, err := queue.NewRabbitQueue(conn, cfg.RabbitManagerQueue, cfg.ReceiveBatchSize)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("bootstrap: declare manager queue: %w", err)
		}
		client, err := queue.NewRabbitQueue(conn, cfg.RabbitClientQueue, cfg.ReceiveBatchSize)
		if err != nil {
			manager.Close()
			conn.Close()
			return nil, fmt.Errorf("bootstrap: declare client queue: %w", err)
		}
		logger.Info("lane queues ready", "driver", "rabbit",
			"manager_queue", cfg.RabbitManagerQueue, "client_queue", cfg.RabbitClientQueue)
		return &Queues{
			Manager: manager,
			Client:  client,
			closers: []func() error{manager.Close, client.Close, conn.Close},
		}, nil

	case "memory":
		logger.Warn("using in-memory lane queues; messages do not survive restarts")
		return &Queues{
			Manager: queue.NewMemoryQueue(256),
			Client:  queue.NewMemoryQueue(256),
		}, nil
	}

	return nil, fmt.Errorf("bootstrap: unknown queue driver %q", cfg.QueueDriver)
}

// BuildRedisClient connects to Redis, or returns nil when no address is
// configured. Redis only backs optimizations here, so a missing Redis is a
// warning, not a failure.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.RedisAddr == "" {
		logger.Warn("redis not configured; turn locks and transcript cache disabled")
		return nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable; turn locks and transcript cache disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr)
	return client
}
