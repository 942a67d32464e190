package jobqueue

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
)

const DefaultWorkerConcurrency = 4

// Worker consumes one service's request queue and answers every job with
// exactly one result on the service's results queue.
type Worker struct {
	service     string
	broker      Broker
	codec       Codec
	chain       *Chain
	concurrency int
	retry       *RetryPolicy
	now         func() time.Time
}

func NewWorker(broker Broker, codec Codec, chain *Chain, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultWorkerConcurrency
	}
	if codec == nil {
		codec = JSONCodec
	}
	return &Worker{
		service:     chain.Service(),
		broker:      broker,
		codec:       codec,
		chain:       chain,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithRetry backs off between redeliveries of a job whose result could not be
// published and parks it after policy.MaxAttempts.
func (w *Worker) WithRetry(policy RetryPolicy) *Worker {
	w.retry = &policy
	return w
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	log.Infof("[Worker %s] Starting with providers %v", w.service, w.chain.Providers())
	queue := RequestQueue(w.service)
	handler := Handler(w.Handle)
	if w.retry != nil {
		handler = WithRetry(w.broker, queue, *w.retry, w.Handle)
	}
	return w.broker.Consume(ctx, queue, w.concurrency, handler)
}

// Handle processes one request delivery. Malformed messages are acked and
// dropped. The request is acked only once its result has been published.
func (w *Worker) Handle(ctx context.Context, body []byte) Action {
	job, err := DecodeJob(w.codec, body)
	if err != nil {
		log.Errorf("[Worker %s] Dropping malformed message: %v", w.service, err)
		return Ack
	}
	if job.Service != "" && job.Service != w.service {
		log.Warnf("[Worker %s] Job %s is tagged for %s", w.service, job.RequestID, job.Service)
	}

	result := w.process(ctx, job)
	out, err := EncodeResult(w.codec, result)
	if err != nil {
		log.Errorf("[Worker %s] Result of job %s is not encodable: %v", w.service, job.RequestID, err)
		result = &Result{
			RequestID: job.RequestID,
			Status:    JobStatusError,
			Error:     "result could not be encoded",
			Timestamp: nowMillis(w.now()),
		}
		if out, err = EncodeResult(w.codec, result); err != nil {
			return Ack
		}
	}

	if err := w.broker.Publish(ctx, ResultQueue(w.service), out); err != nil {
		log.Errorf("[Worker %s] Failed to publish result of job %s, requeueing: %v", w.service, job.RequestID, err)
		monitoring.CaptureError(err, map[string]string{"component": "worker", "service": w.service})
		return Requeue
	}
	log.Infof("[Worker %s] Job %s finished with %s", w.service, job.RequestID, result.Status)
	return Ack
}

func (w *Worker) process(ctx context.Context, job *Job) *Result {
	started := w.now()
	res, provider, err := w.chain.Run(ctx, job)
	result := &Result{RequestID: job.RequestID, Timestamp: nowMillis(w.now())}
	if err != nil {
		result.Status = JobStatusError
		result.Error = err.Error()
		monitoring.CaptureError(err, map[string]string{"component": "worker", "service": w.service})
		return result
	}
	result.Status = JobStatusSuccess
	result.Result = res
	log.Debugf("[Worker %s] Job %s served by %s in %s", w.service, job.RequestID, provider, w.now().Sub(started))
	return result
}
