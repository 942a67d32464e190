package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
)

// CostChecker is the part of the ledger the dispatcher needs.
type CostChecker interface {
	ServiceCost(ctx context.Context, userID, service string) (int64, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// Dispatcher turns generation requests into queued jobs. Credits are only
// checked here; the debit happens when the success result comes back.
type Dispatcher struct {
	broker Broker
	codec  Codec
	jobs   JobStore
	ledger CostChecker
	now    func() time.Time
}

func NewDispatcher(broker Broker, codec Codec, jobs JobStore, costs CostChecker) *Dispatcher {
	if codec == nil {
		codec = JSONCodec
	}
	return &Dispatcher{broker: broker, codec: codec, jobs: jobs, ledger: costs, now: time.Now}
}

// Dispatch queues a job for service and returns its pending record.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, service string, payload map[string]interface{}) (*JobRecord, error) {
	if !IsService(service) || !models.IsGenerationService(service) {
		return nil, fmt.Errorf("%w: %q", ledger.ErrUnknownService, service)
	}

	cost, err := d.ledger.ServiceCost(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	balance, err := d.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		log.Infof("[Dispatcher] Rejecting %s job for user %s: balance %d < cost %d", service, userID, balance, cost)
		return nil, ledger.ErrInsufficientCredits
	}

	now := d.now()
	job := &Job{
		RequestID: uuid.New().String(),
		UserID:    userID,
		Service:   service,
		Timestamp: nowMillis(now),
		Payload:   payload,
	}
	body, err := EncodeJob(d.codec, job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	rec := &JobRecord{
		RequestID: job.RequestID,
		UserID:    userID,
		Service:   service,
		Cost:      cost,
		Status:    JobStatusPending,
		CreatedAt: now.UTC(),
	}
	if err := d.jobs.Save(ctx, rec); err != nil {
		return nil, err
	}
	if err := d.broker.Publish(ctx, RequestQueue(service), body); err != nil {
		return nil, err
	}

	log.Infof("[Dispatcher] Queued %s job %s for user %s (cost %d)", service, job.RequestID, userID, cost)
	return rec, nil
}

// Job returns the record of requestID.
func (d *Dispatcher) Job(ctx context.Context, requestID string) (*JobRecord, error) {
	return d.jobs.Get(ctx, requestID)
}
