package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const DefaultStatsInterval = time.Minute

// Manager runs the correlator and a queue depth reporter in the API process
// and owns the broker's lifecycle.
type Manager struct {
	broker        Broker
	correlator    *Correlator
	statsInterval time.Duration

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewManager(broker Broker, correlator *Correlator) *Manager {
	return &Manager{broker: broker, correlator: correlator, statsInterval: DefaultStatsInterval}
}

// Start launches the background consumers. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[JobQueue Manager] Starting correlator and background tasks")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.correlator.Run(ctx); err != nil {
			log.Errorf("[JobQueue Manager] Correlator stopped with error: %v", err)
		}
	}()

	if reporter, ok := m.broker.(DepthReporter); ok {
		m.wg.Add(1)
		go m.statsWorker(ctx, reporter)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop waits for in-flight results and closes the broker.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")
	m.cancel()
	m.running = false
	m.wg.Wait()

	if err := m.broker.Close(); err != nil {
		log.Errorf("[JobQueue Manager] Failed to close broker: %v", err)
	}
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// QueueDepth is the backlog of one queue.
type QueueDepth struct {
	Queue    string `json:"queue"`
	Pending  int64  `json:"pending"`
	InFlight int64  `json:"inFlight"`
}

// Depths reports every request and results queue. ok is false when the
// broker cannot report depth.
func (m *Manager) Depths(ctx context.Context) ([]QueueDepth, bool, error) {
	reporter, ok := m.broker.(DepthReporter)
	if !ok {
		return nil, false, nil
	}
	out := make([]QueueDepth, 0, len(Services)*2)
	for _, svc := range Services {
		for _, q := range []string{RequestQueue(svc), ResultQueue(svc)} {
			pending, inFlight, err := reporter.Depth(ctx, q)
			if err != nil {
				return nil, true, err
			}
			out = append(out, QueueDepth{Queue: q, Pending: pending, InFlight: inFlight})
		}
	}
	return out, true, nil
}

// Outcomes returns the correlator's job outcome counters.
func (m *Manager) Outcomes(ctx context.Context) (map[string]map[string]int64, error) {
	return m.correlator.Outcomes(ctx)
}

func (m *Manager) statsWorker(ctx context.Context, reporter DepthReporter) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("[JobQueue Manager] Stats worker stopping")
			return
		case <-ticker.C:
			for _, svc := range Services {
				q := RequestQueue(svc)
				pending, inFlight, err := reporter.Depth(ctx, q)
				if err != nil {
					log.Errorf("[JobQueue Manager] Depth of %s unavailable: %v", q, err)
					continue
				}
				if pending > 0 || inFlight > 0 {
					log.Debugf("[JobQueue Manager] %s: %d pending, %d in flight", q, pending, inFlight)
				}
			}
		}
	}
}
