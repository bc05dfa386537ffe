package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"binance-decision-core/internal/logging"

	"github.com/redis/go-redis/v9"
)

func TestNewCacheServiceDisabled(t *testing.T) {
	if _, err := NewCacheService(Config{Enabled: false}, logging.Nop()); err == nil {
		t.Error("Expected error for disabled redis")
	}
}

func TestStructureStateKey(t *testing.T) {
	if got := StructureStateKey("ETHUSDT"); got != "session:ETHUSDT:structure" {
		t.Errorf("Expected session:ETHUSDT:structure, got %s", got)
	}
}

func TestDegradedModeReturnsUnavailable(t *testing.T) {
	cs := &CacheService{
		client:        redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
		logger:        logging.Nop(),
		maxFailures:   3,
		checkInterval: time.Hour,
		lastCheck:     time.Now(),
	}
	defer cs.Close()

	var out map[string]string
	if err := cs.GetJSON(context.Background(), "k", &out); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if err := cs.SetJSON(context.Background(), "k", out, time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestFailureBreakerTrips(t *testing.T) {
	cs := &CacheService{logger: logging.Nop(), maxFailures: 2, healthy: true}
	cs.recordFailure()
	if !cs.IsHealthy() {
		t.Error("Expected healthy after one failure")
	}
	cs.recordFailure()
	if cs.IsHealthy() {
		t.Error("Expected unhealthy after reaching max failures")
	}
	cs.recordSuccess()
	if !cs.IsHealthy() || cs.GetStats().FailureCount != 0 {
		t.Error("Expected recovery to reset failures")
	}
}

func TestJSONRoundTripAgainstRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	cs, err := NewCacheService(Config{Enabled: true, Address: addr, PoolSize: 2}, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer cs.Close()

	ctx := context.Background()
	key := StructureStateKey("TESTUSDT")
	defer cs.Delete(ctx, key)

	if err := cs.SetJSON(ctx, key, map[string]string{"trend": "BULLISH"}, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	var got map[string]string
	if err := cs.GetJSON(ctx, key, &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got["trend"] != "BULLISH" {
		t.Errorf("Expected BULLISH, got %s", got["trend"])
	}
}
