package devices

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PresenceChecker is polled by a Monitor.
type PresenceChecker interface {
	Name() string
	CheckPresence(ctx context.Context) error
}

// Monitor re-reads a sensor's chip id at a fixed interval so a sensor that
// drops off the bus is reported while nobody is talking to it.
type Monitor struct {
	target   PresenceChecker
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewMonitor(target PresenceChecker, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		target:   target,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.wg.Add(1)

	go m.loop()

	m.logger.Info("Presence monitor started",
		zap.String("sensor", m.target.Name()),
		zap.Duration("interval", m.interval))
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()

	m.logger.Info("Presence monitor stopped", zap.String("sensor", m.target.Name()))
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval/2)
	defer cancel()

	// the controller logs and reports transitions itself
	_ = m.target.CheckPresence(ctx)
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
