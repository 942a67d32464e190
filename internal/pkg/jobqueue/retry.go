package jobqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
)

const (
	deadLetterSuffix = "-dead"

	// maxTrackedMessages caps the attempt table; a message settled by another
	// process never reports back here.
	maxTrackedMessages = 10000
)

// DeadLetterQueue is where deliveries of queue are parked after their last
// attempt.
func DeadLetterQueue(queue string) string {
	return queue + deadLetterSuffix
}

// RetryPolicy bounds redelivery of a message whose handler keeps asking for a
// requeue.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("QUEUE_MAX_ATTEMPTS must be positive")
	}
	if p.BaseDelay < 0 || p.MaxDelay < p.BaseDelay {
		return errors.New("QUEUE_RETRY_MAX must not be below QUEUE_RETRY_BASE")
	}
	return nil
}

// Backoff is the wait after the given failed attempt, counting from 1. It
// doubles per attempt and is capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type retrier struct {
	broker   Broker
	queue    string
	policy   RetryPolicy
	handler  Handler
	mu       sync.Mutex
	attempts map[string]int
}

// WithRetry wraps handler so a delivery it keeps requeueing waits out a
// capped backoff between attempts and is moved to DeadLetterQueue(queue)
// after policy.MaxAttempts. Attempts are counted per process.
func WithRetry(broker Broker, queue string, policy RetryPolicy, handler Handler) Handler {
	r := &retrier{
		broker:   broker,
		queue:    queue,
		policy:   policy,
		handler:  handler,
		attempts: make(map[string]int),
	}
	return r.handle
}

func (r *retrier) handle(ctx context.Context, body []byte) Action {
	key := messageKey(body)
	if r.handler(ctx, body) == Ack {
		r.forget(key)
		return Ack
	}

	attempt := r.fail(key)
	if attempt < r.policy.MaxAttempts {
		log.Warnf("[JobQueue] Delivery on %s failed (attempt %d/%d), retrying", r.queue, attempt, r.policy.MaxAttempts)
		sleepCtx(ctx, r.policy.Backoff(attempt))
		return Requeue
	}

	dead := DeadLetterQueue(r.queue)
	if err := r.broker.Publish(ctx, dead, body); err != nil {
		log.Errorf("[JobQueue] Failed to park delivery on %s: %v", dead, err)
		sleepCtx(ctx, r.policy.MaxDelay)
		return Requeue
	}
	r.forget(key)
	log.Errorf("[JobQueue] Delivery on %s failed %d times, parked on %s", r.queue, attempt, dead)
	monitoring.CaptureError(errors.New("delivery parked after retries"), map[string]string{"component": "jobqueue", "queue": r.queue})
	return Ack
}

func (r *retrier) fail(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[key]; !ok && len(r.attempts) >= maxTrackedMessages {
		r.attempts = make(map[string]int)
	}
	r.attempts[key]++
	return r.attempts[key]
}

func (r *retrier) forget(key string) {
	r.mu.Lock()
	delete(r.attempts, key)
	r.mu.Unlock()
}

func messageKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
