package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability for the marketplace backend.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	tradesRecorded atomic.Uint64
	tradesDropped  atomic.Uint64
	notifications  atomic.Uint64
	listenerPanics atomic.Uint64
	loadFallbacks  atomic.Uint64
	ordersPlaced   atomic.Uint64
	ordersFailed   atomic.Uint64
	errorsTotal    atomic.Uint64

	// Latency tracking (history loads)
	loadLatencySumNs atomic.Int64
	loadLatencyCount atomic.Uint64

	// Gauges
	activeSubscribers atomic.Int64
	activeStreams     atomic.Int32
}

// GlobalMetrics is the process-wide metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTrade records a trade applied to the price history.
func (m *Metrics) RecordTrade() {
	m.tradesRecorded.Add(1)
}

// RecordDroppedTrade records a trade that was rejected or could not be queued.
func (m *Metrics) RecordDroppedTrade() {
	m.tradesDropped.Add(1)
}

// RecordNotification records one listener invocation.
func (m *Metrics) RecordNotification() {
	m.notifications.Add(1)
}

// RecordListenerPanic records a listener that panicked during fan-out.
func (m *Metrics) RecordListenerPanic() {
	m.listenerPanics.Add(1)
}

// RecordLoad records a history load with its latency and whether it fell back to synthetic data.
func (m *Metrics) RecordLoad(latencyNs int64, fallback bool) {
	m.loadLatencySumNs.Add(latencyNs)
	m.loadLatencyCount.Add(1)
	if fallback {
		m.loadFallbacks.Add(1)
	}
}

// RecordOrderPlaced records a settled order.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderFailed records an order that failed on the ledger.
func (m *Metrics) RecordOrderFailed() {
	m.ordersFailed.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// AddSubscribers adjusts the active subscriber gauge.
func (m *Metrics) AddSubscribers(delta int64) {
	m.activeSubscribers.Add(delta)
}

// IncrementStreams increments active websocket streams by 1.
func (m *Metrics) IncrementStreams() {
	m.activeStreams.Add(1)
}

// DecrementStreams decrements active websocket streams by 1.
func (m *Metrics) DecrementStreams() {
	m.activeStreams.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TradesRecorded    uint64
	TradesDropped     uint64
	Notifications     uint64
	ListenerPanics    uint64
	LoadFallbacks     uint64
	OrdersPlaced      uint64
	OrdersFailed      uint64
	ErrorsTotal       uint64
	AvgLoadLatencyNs  int64
	ActiveSubscribers int64
	ActiveStreams     int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.loadLatencyCount.Load()
	if count > 0 {
		avgLatency = m.loadLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TradesRecorded:    m.tradesRecorded.Load(),
		TradesDropped:     m.tradesDropped.Load(),
		Notifications:     m.notifications.Load(),
		ListenerPanics:    m.listenerPanics.Load(),
		LoadFallbacks:     m.loadFallbacks.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		OrdersFailed:      m.ordersFailed.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLoadLatencyNs:  avgLatency,
		ActiveSubscribers: m.activeSubscribers.Load(),
		ActiveStreams:     m.activeStreams.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.tradesRecorded.Store(0)
	m.tradesDropped.Store(0)
	m.notifications.Store(0)
	m.listenerPanics.Store(0)
	m.loadFallbacks.Store(0)
	m.ordersPlaced.Store(0)
	m.ordersFailed.Store(0)
	m.errorsTotal.Store(0)
	m.loadLatencySumNs.Store(0)
	m.loadLatencyCount.Store(0)
	m.activeSubscribers.Store(0)
	m.activeStreams.Store(0)
}
