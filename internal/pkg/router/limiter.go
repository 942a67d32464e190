package router

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/cache"
)

// limiterDatabase keeps rate limit counters apart from broker and job keys.
const limiterDatabase = 1

// NewLimiterStorage derives a Redis storage for the rate limiter from the
// shared cache client. It returns nil (in-memory counters) when no cache is
// configured or Redis does not answer, since redis.New panics on a failed
// connection.
func NewLimiterStorage(password string) fiber.Storage {
	cacheClient := cache.GetClient()
	if cacheClient == nil {
		log.Warn("[Router] No cache client, rate limiting uses in-memory counters")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		log.Warnf("[Router] Redis unreachable, rate limiting uses in-memory counters: %v", err)
		return nil
	}
	host := "localhost"
	port := 6379
	addr := cacheClient.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	// Prefer password from the underlying client if present
	if p := cacheClient.Options().Password; p != "" {
		password = p
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

// newLimiter limits per API key prefix when present, per client IP otherwise.
func newLimiter(max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	cfg := limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			key := c.Get("X-API-Key")
			if key == "" {
				key = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
			}
			if prefix, _, err := models.SplitAPIKey(key); err == nil {
				return "key:" + prefix
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}
	if storage != nil {
		cfg.Storage = storage
	}
	return limiter.New(cfg)
}
