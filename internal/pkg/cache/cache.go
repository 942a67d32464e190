package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// Options describes the Redis endpoint shared by the broker, job store and
// rate limiter.
type Options struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (o Options) Addr() string {
	return fmt.Sprintf("%s:%s", o.Host, o.Port)
}

// SetupCache initializes the shared Redis client. A failed ping is logged;
// callers that need Redis fail on first use.
func SetupCache(opts Options) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     opts.Addr(),
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", opts.Addr(), err)
	} else {
		log.Infof("[Cache] Connected to Redis at %s: %s", opts.Addr(), pong)
	}
	return client
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}

// Ping reports whether Redis answers.
func Ping(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("cache not initialized")
	}
	return client.Ping(ctx).Err()
}

// Close releases the shared client.
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
