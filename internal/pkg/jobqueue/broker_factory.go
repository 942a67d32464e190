package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BrokerOptions selects and configures a broker implementation.
type BrokerOptions struct {
	Kind              string
	Redis             *redis.Client
	RabbitURL         string
	Codec             Codec
	VisibilityTimeout time.Duration
}

// brokerPingTimeout bounds the reachability check done before a redis
// broker is handed out.
const brokerPingTimeout = 5 * time.Second

// OpenBroker builds the broker named by opts.Kind. A redis broker is only
// returned once the server answers a PING.
func OpenBroker(ctx context.Context, opts BrokerOptions) (Broker, error) {
	kind, err := ValidateBrokerKind(opts.Kind)
	if err != nil {
		return nil, err
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec
	}

	switch kind {
	case BrokerRedis:
		if opts.Redis == nil {
			return nil, errors.New("redis broker needs a redis client")
		}
		pctx, cancel := context.WithTimeout(ctx, brokerPingTimeout)
		defer cancel()
		if err := opts.Redis.Ping(pctx).Err(); err != nil {
			return nil, fmt.Errorf("redis broker unreachable at %s: %w", opts.Redis.Options().Addr, err)
		}
		return NewRedisBroker(opts.Redis, WithVisibilityTimeout(opts.VisibilityTimeout)), nil
	case BrokerRabbitMQ:
		b, err := NewRabbitBroker(opts.RabbitURL, codec.ContentType())
		if err != nil {
			return nil, err
		}
		return b, nil
	case BrokerMemory:
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown queue broker %q", kind)
	}
}
