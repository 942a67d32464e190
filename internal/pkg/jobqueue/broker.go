package jobqueue

import (
	"context"
	"fmt"
	"strings"
)

// Action tells the broker what to do with a delivered message.
type Action int

const (
	// Ack removes the message from the queue.
	Ack Action = iota
	// Requeue returns the message for redelivery.
	Requeue
)

func (a Action) String() string {
	if a == Requeue {
		return "requeue"
	}
	return "ack"
}

// Handler processes one delivery. It runs once per delivery and must be safe
// for concurrent use.
type Handler func(ctx context.Context, body []byte) Action

// Broker is a durable at-least-once queue.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume runs handler with up to concurrency deliveries in flight and
	// blocks until ctx is done.
	Consume(ctx context.Context, queue string, concurrency int, handler Handler) error
	Close() error
}

// DepthReporter is implemented by brokers that can report queue depth.
type DepthReporter interface {
	Depth(ctx context.Context, queue string) (pending int64, inFlight int64, err error)
}

const (
	BrokerRedis    = "redis"
	BrokerRabbitMQ = "rabbitmq"
	BrokerMemory   = "memory"
)

// ValidateBrokerKind normalizes a QUEUE_BROKER value.
func ValidateBrokerKind(kind string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch k {
	case "":
		return BrokerRedis, nil
	case BrokerRedis, BrokerRabbitMQ, BrokerMemory:
		return k, nil
	default:
		return "", fmt.Errorf("unknown queue broker %q", kind)
	}
}
