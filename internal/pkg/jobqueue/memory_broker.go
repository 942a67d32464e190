package jobqueue

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process broker for tests and single-binary setups.
// Messages are lost on restart.
type MemoryBroker struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queues   map[string][][]byte
	inFlight map[string]int
	acked    map[string]int
	requeued map[string]int
	closed   bool
}

func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		queues:   make(map[string][][]byte),
		inFlight: make(map[string]int),
		acked:    make(map[string]int),
		requeued: make(map[string]int),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	msg := make([]byte, len(body))
	copy(msg, body)
	b.queues[queue] = append(b.queues[queue], msg)
	b.cond.Broadcast()
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	hctx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				body, ok := b.take(ctx, queue)
				if !ok {
					return
				}
				b.settle(queue, body, handler(hctx, body))
			}
		}()
	}
	wg.Wait()
	return nil
}

func (b *MemoryBroker) take(ctx context.Context, queue string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queues[queue]) == 0 {
		if ctx.Err() != nil || b.closed {
			return nil, false
		}
		b.cond.Wait()
	}
	body := b.queues[queue][0]
	b.queues[queue] = b.queues[queue][1:]
	b.inFlight[queue]++
	return body, true
}

func (b *MemoryBroker) settle(queue string, body []byte, action Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight[queue]--
	if action == Requeue {
		b.requeued[queue]++
		b.queues[queue] = append(b.queues[queue], body)
		b.cond.Broadcast()
		return
	}
	b.acked[queue]++
}

// Receive pops the next message of queue without a consumer, waiting up to
// timeout. The message counts as acked.
func (b *MemoryBroker) Receive(queue string, timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		if msgs := b.queues[queue]; len(msgs) > 0 {
			body := msgs[0]
			b.queues[queue] = msgs[1:]
			b.acked[queue]++
			b.mu.Unlock()
			return body, true
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Stats returns how many deliveries of queue were acked and requeued.
func (b *MemoryBroker) Stats(queue string) (acked, requeued int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[queue], b.requeued[queue]
}

func (b *MemoryBroker) Depth(_ context.Context, queue string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queues[queue])), int64(b.inFlight[queue]), nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
