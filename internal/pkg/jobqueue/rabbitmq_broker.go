package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	amqp "github.com/rabbitmq/amqp091-go"
	rabbitmq "github.com/wagslane/go-rabbitmq"
)

// Queues are bound to the default direct exchange by name.
const rabbitExchange = "amq.direct"

// RabbitBroker publishes persistent messages through amq.direct, routed by
// queue name, and consumes durable queues with manual settlement.
type RabbitBroker struct {
	url         string
	conn        *rabbitmq.Conn
	publisher   *rabbitmq.Publisher
	contentType string

	mu        sync.Mutex
	consumers []*rabbitmq.Consumer
	closed    bool
}

// NewRabbitBroker dials url. contentType labels published bodies.
func NewRabbitBroker(url, contentType string) (*RabbitBroker, error) {
	conn, err := rabbitmq.NewConn(url, rabbitmq.WithConnectionOptionsLogging)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	pub, err := rabbitmq.NewPublisher(conn, rabbitmq.WithPublisherOptionsLogging)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	pub.NotifyReturn(func(r rabbitmq.Return) {
		log.Errorf("[RabbitBroker] Message returned unroutable on %s: %s", r.RoutingKey, r.ReplyText)
	})
	return &RabbitBroker{url: url, conn: conn, publisher: pub, contentType: contentType}, nil
}

func (b *RabbitBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.publisher.Publish(body, []string{queue},
		rabbitmq.WithPublishOptionsExchange(rabbitExchange),
		rabbitmq.WithPublishOptionsContentType(b.contentType),
		rabbitmq.WithPublishOptionsPersistentDelivery,
		rabbitmq.WithPublishOptionsMandatory,
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Consume declares the durable queue, binds it and blocks until ctx is done.
func (b *RabbitBroker) Consume(ctx context.Context, queue string, concurrency int, handler Handler) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	// Nothing consumes the dead letter queue, so it is declared here or
	// parked messages would come back unroutable.
	if err := b.declareQueue(DeadLetterQueue(queue)); err != nil {
		return err
	}

	hctx := context.WithoutCancel(ctx)
	consumer, err := rabbitmq.NewConsumer(b.conn,
		func(d rabbitmq.Delivery) rabbitmq.Action {
			if handler(hctx, d.Body) == Requeue {
				return rabbitmq.NackRequeue
			}
			return rabbitmq.Ack
		},
		queue,
		rabbitmq.WithConsumerOptionsRoutingKey(queue),
		rabbitmq.WithConsumerOptionsExchangeName(rabbitExchange),
		rabbitmq.WithConsumerOptionsQueueDurable,
		rabbitmq.WithConsumerOptionsConcurrency(concurrency),
		rabbitmq.WithConsumerOptionsLogging,
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	b.mu.Lock()
	b.consumers = append(b.consumers, consumer)
	b.mu.Unlock()
	log.Infof("[RabbitBroker] Consuming %s with %d workers", queue, concurrency)

	<-ctx.Done()
	if b.forget(consumer) {
		consumer.Close()
	}
	log.Infof("[RabbitBroker] Stopped consuming %s", queue)
	return nil
}

// declareQueue declares a durable queue bound to rabbitExchange by its name.
func (b *RabbitBroker) declareQueue(name string) error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", name, err)
	}
	if err := ch.QueueBind(name, name, rabbitExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", name, err)
	}
	return nil
}

func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.consumers = nil
	b.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	b.publisher.Close()
	return b.conn.Close()
}

// forget drops c from the tracked consumers; false if Close already took it.
func (b *RabbitBroker) forget(c *rabbitmq.Consumer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, tracked := range b.consumers {
		if tracked == c {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			return true
		}
	}
	return false
}

func (b *RabbitBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
