package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	MessageKeyPrefix    = "msg:"
	processingKeySuffix = ":processing"
	startedKeySuffix    = ":started"

	DefaultVisibilityTimeout = 10 * time.Minute
	DefaultSweepInterval     = time.Minute
)

// RedisBroker is a reliable list queue. Deliveries move atomically to a
// processing list and only leave it on ack, so a crashed consumer's messages
// are recovered by the stuck sweeper.
type RedisBroker struct {
	client     *redis.Client
	visibility time.Duration
	sweepEvery time.Duration
	pollWait   time.Duration

	mu     sync.Mutex
	closed bool
}

type RedisBrokerOption func(*RedisBroker)

// WithVisibilityTimeout sets how long a delivery may stay unacked before the
// sweeper requeues it.
func WithVisibilityTimeout(d time.Duration) RedisBrokerOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.visibility = d
		}
	}
}

func WithSweepInterval(d time.Duration) RedisBrokerOption {
	return func(b *RedisBroker) {
		if d > 0 {
			b.sweepEvery = d
		}
	}
}

func NewRedisBroker(client *redis.Client, opts ...RedisBrokerOption) *RedisBroker {
	b := &RedisBroker{
		client:     client,
		visibility: DefaultVisibilityTimeout,
		sweepEvery: DefaultSweepInterval,
		pollWait:   time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func processingKey(queue string) string { return queue + processingKeySuffix }
func startedKey(queue string) string    { return queue + startedKeySuffix }

// Publish stores the body and pushes its id onto the queue.
func (b *RedisBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	id := uuid.New().String()

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, MessageKeyPrefix+id, body, JobTTL)
	pipe.LPush(ctx, queue, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Consume blocks until ctx is done. In-flight handlers finish before it
// returns.
func (b *RedisBroker) Consume(ctx context.Context, queue string, concurrency int, handler Handler) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	log.Infof("[RedisBroker] Consuming %s with %d workers", queue, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			b.consumeLoop(ctx, queue, id, handler)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.stuckSweeper(ctx, queue)
	}()

	wg.Wait()
	log.Infof("[RedisBroker] Stopped consuming %s", queue)
	return nil
}

func (b *RedisBroker) consumeLoop(ctx context.Context, queue string, worker int, handler Handler) {
	processing := processingKey(queue)
	for {
		if ctx.Err() != nil {
			return
		}

		id, err := b.client.BRPopLPush(ctx, queue, processing, b.pollWait).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Errorf("[RedisBroker] Worker %d on %s: dequeue error: %v", worker, queue, err)
			sleepCtx(ctx, time.Second)
			continue
		}

		// Handlers outlive shutdown so an in-flight message is settled.
		hctx := context.WithoutCancel(ctx)
		b.client.HSet(hctx, startedKey(queue), id, strconv.FormatInt(time.Now().Unix(), 10))

		body, err := b.client.Get(hctx, MessageKeyPrefix+id).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[RedisBroker] Worker %d: body of %s unavailable: %v", worker, id, err)
				b.requeue(hctx, queue, id)
				continue
			}
			log.Warnf("[RedisBroker] Worker %d: message %s expired, dropping", worker, id)
			b.ack(hctx, queue, id)
			continue
		}

		switch handler(hctx, body) {
		case Requeue:
			b.requeue(hctx, queue, id)
		default:
			b.ack(hctx, queue, id)
		}
	}
}

func (b *RedisBroker) ack(ctx context.Context, queue, id string) {
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, processingKey(queue), 1, id)
	pipe.HDel(ctx, startedKey(queue), id)
	pipe.Del(ctx, MessageKeyPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[RedisBroker] Failed to ack %s on %s: %v", id, queue, err)
	}
}

func (b *RedisBroker) requeue(ctx context.Context, queue, id string) {
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, processingKey(queue), 1, id)
	pipe.HDel(ctx, startedKey(queue), id)
	pipe.RPush(ctx, queue, id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[RedisBroker] Failed to requeue %s on %s: %v", id, queue, err)
	}
}

// stuckSweeper periodically requeues deliveries that stayed in the
// processing list longer than the visibility timeout.
func (b *RedisBroker) stuckSweeper(ctx context.Context, queue string) {
	log.Infof("[RedisBroker] Stuck sweeper for %s running (visibility=%s, interval=%s)", queue, b.visibility, b.sweepEvery)
	ticker := time.NewTicker(b.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(ctx, queue); n > 0 {
				log.Warnf("[RedisBroker] Recovered %d stuck messages on %s", n, queue)
			}
		}
	}
}

// Sweep requeues stuck deliveries of queue and returns how many moved.
// Entries without a start mark get one so they age from now.
func (b *RedisBroker) Sweep(ctx context.Context, queue string) int {
	ids, err := b.client.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		log.Errorf("[RedisBroker] Sweeper LRange error: %v", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}
	started, err := b.client.HGetAll(ctx, startedKey(queue)).Result()
	if err != nil {
		log.Errorf("[RedisBroker] Sweeper HGetAll error: %v", err)
		return 0
	}

	now := time.Now()
	recovered := 0
	for _, id := range ids {
		raw, ok := started[id]
		if !ok {
			b.client.HSetNX(ctx, startedKey(queue), id, strconv.FormatInt(now.Unix(), 10))
			continue
		}
		sec, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || now.Sub(time.Unix(sec, 0)) > b.visibility {
			b.requeue(ctx, queue, id)
			recovered++
		}
	}
	return recovered
}

// Depth reports the waiting and in-flight message counts of queue.
func (b *RedisBroker) Depth(ctx context.Context, queue string) (int64, int64, error) {
	pipe := b.client.Pipeline()
	pending := pipe.LLen(ctx, queue)
	inFlight := pipe.LLen(ctx, processingKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return pending.Val(), inFlight.Val(), nil
}

// Close stops new publishes. The redis client is owned by the caller.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *RedisBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
