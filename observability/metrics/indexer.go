package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// IndexerMetrics tracks the health of the event stream, not the ledger
// itself: ledger aggregates live in the entity store and are served to the
// read API, while these counters feed operational dashboards and alerts.
type IndexerMetrics struct {
	eventsProcessed    *prometheus.CounterVec
	eventsSkipped      *prometheus.CounterVec
	readCallFallbacks  *prometheus.CounterVec
	blocksProcessed    prometheus.Counter
	lastProcessedBlock prometheus.Gauge
	headBlock          prometheus.Gauge
}

var (
	indexerOnce     sync.Once
	indexerRegistry *IndexerMetrics
)

// Indexer returns the lazily-initialised singleton metrics registry.
func Indexer() *IndexerMetrics {
	indexerOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "railscan_events_processed_total",
				Help: "Count of successfully applied contract events by type.",
			}, []string{"type"}),
			eventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "railscan_events_skipped_total",
				Help: "Count of events skipped without mutation by reason.",
			}, []string{"reason"}),
			readCallFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "railscan_read_call_fallbacks_total",
				Help: "Count of chain read-calls that fell back to defaults.",
			}, []string{"call"}),
			blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "railscan_blocks_processed_total",
				Help: "Count of blocks whose events were committed.",
			}),
			lastProcessedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "railscan_last_processed_block",
				Help: "Highest block number committed to the ledger.",
			}),
			headBlock: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "railscan_head_block",
				Help: "Latest chain head observed by the log source.",
			}),
		}
		prometheus.MustRegister(
			indexerRegistry.eventsProcessed,
			indexerRegistry.eventsSkipped,
			indexerRegistry.readCallFallbacks,
			indexerRegistry.blocksProcessed,
			indexerRegistry.lastProcessedBlock,
			indexerRegistry.headBlock,
		)
	})
	return indexerRegistry
}

// ObserveEvent records one successfully applied event.
func (m *IndexerMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType).Inc()
}

// ObserveSkip records an event skipped without mutation.
func (m *IndexerMetrics) ObserveSkip(reason string) {
	if m == nil {
		return
	}
	m.eventsSkipped.WithLabelValues(reason).Inc()
}

// ObserveFallback records a chain read-call that substituted a default.
func (m *IndexerMetrics) ObserveFallback(call string) {
	if m == nil {
		return
	}
	m.readCallFallbacks.WithLabelValues(call).Inc()
}

// ObserveBlock records a committed block.
func (m *IndexerMetrics) ObserveBlock(block uint64) {
	if m == nil {
		return
	}
	m.blocksProcessed.Inc()
	m.lastProcessedBlock.Set(float64(block))
}

// ObserveHead records the chain head seen by the log source.
func (m *IndexerMetrics) ObserveHead(block uint64) {
	if m == nil {
		return
	}
	m.headBlock.Set(float64(block))
}
