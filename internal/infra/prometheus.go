package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "realty"

// NewPrometheusRegistry exposes m through a dedicated registry. Values are read
// from the atomic counters at scrape time.
func NewPrometheusRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(subsystem, name, help string, read func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read()) })
	}
	gauge := func(subsystem, name, help string, read func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, read)
	}

	reg.MustRegister(
		counter("hub", "trades_recorded_total", "Trades applied to price history.", m.tradesRecorded.Load),
		counter("hub", "trades_dropped_total", "Trades rejected or not queued.", m.tradesDropped.Load),
		counter("hub", "notifications_total", "Listener invocations.", m.notifications.Load),
		counter("hub", "listener_panics_total", "Listeners that panicked during fan-out.", m.listenerPanics.Load),
		counter("hub", "load_fallbacks_total", "History loads that fell back to synthetic data.", m.loadFallbacks.Load),
		counter("orders", "placed_total", "Orders settled on the ledger.", m.ordersPlaced.Load),
		counter("orders", "failed_total", "Orders that failed on the ledger.", m.ordersFailed.Load),
		counter("", "errors_total", "Errors from external services.", m.errorsTotal.Load),
		gauge("hub", "active_subscribers", "Registered price listeners.", func() float64 {
			return float64(m.activeSubscribers.Load())
		}),
		gauge("api", "active_streams", "Open websocket price streams.", func() float64 {
			return float64(m.activeStreams.Load())
		}),
		gauge("hub", "load_latency_avg_seconds", "Average history load latency.", func() float64 {
			return float64(m.Snapshot().AvgLoadLatencyNs) / 1e9
		}),
	)
	return reg
}

// MetricsHandler serves the registry in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
