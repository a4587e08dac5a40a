package pacer

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window limiter shared by every worker process:
// at most Max calls per key within each Window.
type RedisWindow struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func NewRedisWindow(client *rdb.Client, max int, window time.Duration) *RedisWindow {
	return &RedisWindow{Client: client, Prefix: "rl:", Max: int64(max), Window: window}
}

func (l *RedisWindow) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, key, winStart.UnixMilli())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, 2*l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	if incr.Val() <= l.Max {
		return Result{Allowed: true}, nil
	}
	return Result{RetryAfter: winStart.Add(l.Window).Sub(now)}, nil
}
