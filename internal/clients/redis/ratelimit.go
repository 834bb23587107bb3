package redis

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
)

// Window reports the throttle state for one provider/model pair.
type Window struct {
	Throttled        bool
	SecondsRemaining int
	HitCount         int
}

// RateLimitCoordinator is the sole piece of cross-task mutable shared state:
// every worker in every process consults it before an outbound AI call, and
// records throttle windows into it. Entries expire naturally by TTL.
//
// Check-then-call races are tolerated: a worker may pass Check and still hit
// a fresh throttle, which the normal retry path absorbs.
type RateLimitCoordinator interface {
	Check(ctx context.Context, provider, model string) (Window, error)
	Set(ctx context.Context, provider, model string, seconds int) error
}

type rateLimitCoordinator struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRateLimitCoordinator(log *logger.Logger) (RateLimitCoordinator, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRateLimitCoordinatorWithClient(log, rdb), nil
}

func NewRateLimitCoordinatorWithClient(log *logger.Logger, rdb *goredis.Client) RateLimitCoordinator {
	return &rateLimitCoordinator{
		log: log.With("component", "RateLimitCoordinator"),
		rdb: rdb,
	}
}

func rateLimitKey(provider, model string) string {
	return "ratelimit:" + provider + ":" + model
}

// Check fails open on redis errors: a broken coordinator should degrade to
// uncoordinated calls, not stop the pipeline.
func (c *rateLimitCoordinator) Check(ctx context.Context, provider, model string) (Window, error) {
	key := rateLimitKey(provider, model)

	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		c.log.Warn("Rate limit check failed, failing open", "provider", provider, "model", model, "error", err)
		return Window{}, nil
	}
	if ttl <= 0 {
		return Window{}, nil
	}

	hits := 0
	if raw, gErr := c.rdb.Get(ctx, key).Result(); gErr == nil {
		if n, pErr := strconv.Atoi(raw); pErr == nil {
			hits = n
		}
	}

	return Window{
		Throttled:        true,
		SecondsRemaining: int(math.Ceil(ttl.Seconds())),
		HitCount:         hits,
	}, nil
}

func (c *rateLimitCoordinator) Set(ctx context.Context, provider, model string, seconds int) error {
	if seconds <= 0 {
		return nil
	}
	key := rateLimitKey(provider, model)

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Duration(seconds)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit window: %w", err)
	}

	c.log.Warn("Rate limit window recorded", "provider", provider, "model", model, "seconds", seconds, "hit_count", incr.Val())
	return nil
}
