package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const turnLockKeyPrefix = "turn_lock:"

// TurnLock is a short-lived Redis lock that narrows the window in which two
// consumers work on the same chat before the durable conversation-turn
// claim decides the winner. It is an optimization, not the correctness
// mechanism; a nil TurnLock is a no-op.
type TurnLock struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

// NewTurnLock creates a lock helper; returns nil when redis is not configured.
func NewTurnLock(redisClient *redis.Client) *TurnLock {
	if redisClient == nil {
		return nil
	}
	return &TurnLock{
		redis:  redisClient,
		tracer: otel.Tracer("napoleon.internal.dedup.turn_lock"),
		ttl:    30 * time.Second,
	}
}

// Acquire tries to take the per-chat lock. When it succeeds, the returned
// release func must be called once the turn is finished.
func (l *TurnLock) Acquire(ctx context.Context, chatID string) (bool, func(), error) {
	if l == nil || l.redis == nil {
		return true, func() {}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := l.tracer.Start(ctx, "dedup.turn_lock.acquire")
	defer span.End()

	key := turnLockKeyPrefix + chatID
	ok, err := l.redis.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("dedup: acquire turn lock: %w", err)
	}
	if !ok {
		return false, nil, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.redis.Del(releaseCtx, key)
	}
	return true, release, nil
}
