package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CreditForge/internal/pkg/env"
)

// testRedisDB keeps test keys away from a developer's working data.
const testRedisDB = 14

// newTestRedis connects to CACHE_HOST:CACHE_PORT, flushes testRedisDB and
// skips the test when Redis is not running.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:     env.GetEnv("CACHE_HOST", "localhost") + ":" + env.GetEnv("CACHE_PORT", "6379"),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       testRedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not reachable: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("flush redis db %d: %v", testRedisDB, err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
