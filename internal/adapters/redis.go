package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gioleppe/Word-Quizzle/internal/bootstrap"
)

// AdapterRedis owns the Redis client used by the remote word source to
// cache per-word translation sets fetched from the word oracle.
type AdapterRedis struct {
	client *redis.Client
	cfg    *bootstrap.Config
}

func NewAdapterRedis(cfg *bootstrap.Config) *AdapterRedis {
	return &AdapterRedis{cfg: cfg}
}

func (a *AdapterRedis) Init(ctx context.Context, log *zap.SugaredLogger) error {
	a.client = redis.NewClient(&redis.Options{
		Addr: a.cfg.RedisURL,
		DB:   0,
	})

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.client.Ping(ctxPing).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	log.Info("connected to redis")
	return nil
}

func (a *AdapterRedis) GetClient() *redis.Client {
	return a.client
}

func (a *AdapterRedis) Close(ctx context.Context) error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}
