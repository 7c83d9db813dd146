package telemetry

import (
	"sync"
	"time"
)

// IsolationStatsProvider reports live sessions grouped by effective isolation label
type IsolationStatsProvider interface {
	IsolationCounts() map[string]int
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider IsolationStatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	lastSeen map[string]struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider IsolationStatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	counts := mc.provider.IsolationCounts()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Levels that disappeared since the last pass drop to zero
	for label := range mc.lastSeen {
		if _, ok := counts[label]; !ok {
			SessionsByIsolation.With(label).Set(0)
			delete(mc.lastSeen, label)
		}
	}

	for label, n := range counts {
		SessionsByIsolation.With(label).Set(float64(n))
		mc.lastSeen[label] = struct{}{}
	}
}
