package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
)

func newTestCoordinator(t *testing.T) (RateLimitCoordinator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRateLimitCoordinatorWithClient(logger.NewNop(), rdb), mr
}

func TestCheckUnthrottledByDefault(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	win, err := coord.Check(context.Background(), "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if win.Throttled {
		t.Fatalf("fresh pair should not be throttled")
	}
}

func TestSetThenCheck(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	if err := coord.Set(ctx, "openai", "gpt-4o", 90); err != nil {
		t.Fatalf("set: %v", err)
	}

	win, err := coord.Check(ctx, "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !win.Throttled {
		t.Fatalf("pair should be throttled after Set")
	}
	if win.SecondsRemaining <= 0 || win.SecondsRemaining > 90 {
		t.Fatalf("seconds remaining=%d, want within (0,90]", win.SecondsRemaining)
	}
	if win.HitCount != 1 {
		t.Fatalf("hit count=%d, want 1", win.HitCount)
	}
}

func TestSetAccumulatesHits(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := coord.Set(ctx, "openai", "gpt-4o", 60); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	win, err := coord.Check(ctx, "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if win.HitCount != 3 {
		t.Fatalf("hit count=%d, want 3", win.HitCount)
	}
}

func TestWindowExpiresByTTL(t *testing.T) {
	coord, mr := newTestCoordinator(t)
	ctx := context.Background()

	if err := coord.Set(ctx, "openai", "gpt-4o", 30); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(31 * time.Second)

	win, err := coord.Check(ctx, "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if win.Throttled {
		t.Fatalf("window should expire after its TTL")
	}
}

func TestWindowsAreScopedPerProviderModel(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	if err := coord.Set(ctx, "openai", "gpt-4o", 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	win, err := coord.Check(ctx, "openai", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("check other model: %v", err)
	}
	if win.Throttled {
		t.Fatalf("throttle on one model must not leak to another")
	}
}

func TestSetIgnoresNonPositiveWindow(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	if err := coord.Set(ctx, "openai", "gpt-4o", 0); err != nil {
		t.Fatalf("set zero: %v", err)
	}
	win, err := coord.Check(ctx, "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if win.Throttled {
		t.Fatalf("zero-second window should record nothing")
	}
}
