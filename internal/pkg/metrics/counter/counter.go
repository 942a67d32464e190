// Package counter keeps per-service job outcome counters.
package counter

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeUnbilled = "unbilled"
)

// Outcomes lists every counted outcome.
var Outcomes = []string{OutcomeSuccess, OutcomeError, OutcomeUnbilled}

const keyPrefix = "jobs:counters:"

// Counter records job outcomes per service.
type Counter interface {
	Add(ctx context.Context, outcome, service string) error
	// Snapshot returns outcome -> service -> count.
	Snapshot(ctx context.Context) (map[string]map[string]int64, error)
}

type redisCounter struct {
	client *redis.Client
}

// NewRedisCounter keeps one hash per outcome, keyed by service, so counts
// survive restarts and are shared by every API instance.
func NewRedisCounter(client *redis.Client) Counter {
	return &redisCounter{client: client}
}

// Add increments the counter of outcome for service in Redis
func (c *redisCounter) Add(ctx context.Context, outcome, service string) error {
	return c.client.HIncrBy(ctx, keyPrefix+outcome, service, 1).Err()
}

func (c *redisCounter) Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(Outcomes))
	for _, outcome := range Outcomes {
		data, err := c.client.HGetAll(ctx, keyPrefix+outcome).Result()
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int64, len(data))
		for service, v := range data {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			counts[service] = n
		}
		out[outcome] = counts
	}
	return out, nil
}

// MemoryCounter is the in-process Counter.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]map[string]int64)}
}

func (c *MemoryCounter) Add(_ context.Context, outcome, service string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[outcome] == nil {
		c.counts[outcome] = make(map[string]int64)
	}
	c.counts[outcome][service]++
	return nil
}

func (c *MemoryCounter) Snapshot(_ context.Context) (map[string]map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]int64, len(Outcomes))
	for _, outcome := range Outcomes {
		counts := make(map[string]int64, len(c.counts[outcome]))
		for svc, n := range c.counts[outcome] {
			counts[svc] = n
		}
		out[outcome] = counts
	}
	return out, nil
}
