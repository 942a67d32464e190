package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"github.com/ManuelReschke/CreditForge/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
)

// Debiter charges a finished job.
type Debiter interface {
	Debit(ctx context.Context, userID, service string, amount int64, requestID string) (*models.UsageRecord, error)
}

// Correlator matches results to outstanding jobs and bills successful ones.
type Correlator struct {
	broker      Broker
	codec       Codec
	jobs        JobStore
	ledger      Debiter
	services    []string
	concurrency int
	counter     counter.Counter
	retry       *RetryPolicy
	now         func() time.Time
}

func NewCorrelator(broker Broker, codec Codec, jobs JobStore, debiter Debiter, concurrency int) *Correlator {
	if codec == nil {
		codec = JSONCodec
	}
	if concurrency <= 0 {
		concurrency = DefaultWorkerConcurrency
	}
	return &Correlator{
		broker:      broker,
		codec:       codec,
		jobs:        jobs,
		ledger:      debiter,
		services:    Services,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithCounter records every resolved job's outcome.
func (c *Correlator) WithCounter(cnt counter.Counter) *Correlator {
	c.counter = cnt
	return c
}

// WithRetry backs off between redeliveries of a failing result and parks it
// on the queue's dead letter queue after policy.MaxAttempts.
func (c *Correlator) WithRetry(policy RetryPolicy) *Correlator {
	c.retry = &policy
	return c
}

// Outcomes returns the recorded outcome counters, or nil without a counter.
func (c *Correlator) Outcomes(ctx context.Context) (map[string]map[string]int64, error) {
	if c.counter == nil {
		return nil, nil
	}
	return c.counter.Snapshot(ctx)
}

func (c *Correlator) count(ctx context.Context, rec *JobRecord) {
	if c.counter == nil {
		return
	}
	outcome := counter.OutcomeError
	switch {
	case rec.Unbilled:
		outcome = counter.OutcomeUnbilled
	case rec.Status == JobStatusSuccess:
		outcome = counter.OutcomeSuccess
	}
	if err := c.counter.Add(ctx, outcome, rec.Service); err != nil {
		log.Warnf("[Correlator] Failed to count job %s: %v", rec.RequestID, err)
	}
}

// Run consumes every results queue until ctx is done.
func (c *Correlator) Run(ctx context.Context) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, svc := range c.services {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			handler := Handler(c.Handle)
			if c.retry != nil {
				handler = WithRetry(c.broker, queue, *c.retry, c.Handle)
			}
			if err := c.broker.Consume(ctx, queue, c.concurrency, handler); err != nil {
				log.Errorf("[Correlator] Consumer of %s stopped: %v", queue, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(ResultQueue(svc))
	}
	wg.Wait()
	return firstErr
}

// Handle settles one result delivery.
func (c *Correlator) Handle(ctx context.Context, body []byte) Action {
	res, err := DecodeResult(c.codec, body)
	if err != nil {
		log.Errorf("[Correlator] Dropping malformed result: %v", err)
		return Ack
	}

	rec, err := c.jobs.Get(ctx, res.RequestID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			log.Warnf("[Correlator] Dropping result for unknown job %s", res.RequestID)
			return Ack
		}
		log.Errorf("[Correlator] Lookup of job %s failed, requeueing: %v", res.RequestID, err)
		return Requeue
	}
	if rec.IsResolved() {
		log.Debugf("[Correlator] Job %s already resolved, ignoring duplicate result", rec.RequestID)
		return Ack
	}

	if res.Status == JobStatusSuccess && rec.Cost > 0 {
		if action, ok := c.bill(ctx, rec); !ok {
			return action
		}
	}

	resolvedAt := c.now().UTC()
	rec.Status = res.Status
	rec.Result = res.Result
	rec.Error = res.Error
	rec.ResolvedAt = &resolvedAt

	claimed, err := c.jobs.Resolve(ctx, rec)
	if err != nil {
		log.Errorf("[Correlator] Failed to resolve job %s, requeueing: %v", rec.RequestID, err)
		return Requeue
	}
	if !claimed {
		log.Debugf("[Correlator] Job %s resolved concurrently", rec.RequestID)
		return Ack
	}
	c.count(ctx, rec)
	log.Infof("[Correlator] Job %s resolved as %s", rec.RequestID, rec.Status)
	return Ack
}

// bill debits the job. ok is false when the delivery must be settled with
// action instead of resolving the job.
func (c *Correlator) bill(ctx context.Context, rec *JobRecord) (Action, bool) {
	_, err := c.ledger.Debit(ctx, rec.UserID, rec.Service, rec.Cost, ledger.JobRequestID(rec.RequestID))
	switch {
	case err == nil:
		return Ack, true
	case errors.Is(err, ledger.ErrDuplicateRequest):
		log.Debugf("[Correlator] Job %s was already billed", rec.RequestID)
		return Ack, true
	case errors.Is(err, ledger.ErrRequestConflict):
		log.Errorf("[Correlator] Ledger entry of job %s does not match the job, delivered unbilled", rec.RequestID)
		monitoring.CaptureError(err, map[string]string{"component": "correlator", "service": rec.Service})
		rec.Unbilled = true
		return Ack, true
	case errors.Is(err, ledger.ErrInsufficientCredits), errors.Is(err, ledger.ErrUserNotFound):
		log.Warnf("[Correlator] Job %s delivered unbilled: %v", rec.RequestID, err)
		rec.Unbilled = true
		return Ack, true
	default:
		log.Errorf("[Correlator] Debit for job %s failed, requeueing: %v", rec.RequestID, err)
		monitoring.CaptureError(err, map[string]string{"component": "correlator", "service": rec.Service})
		return Requeue, false
	}
}
