package coordinator

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Coordinator's Prometheus collectors. They are
// registered against prometheus.DefaultRegisterer so callers embedding
// the coordinator into an existing HTTP server get them for free via
// promhttp.Handler.
type metrics struct {
	ramBlocksFree     prometheus.Gauge
	ramBlockDenials   prometheus.Counter
	writeQueueDepth   prometheus.Gauge
	writeBackTotal    prometheus.Counter
	writeBackFailures prometheus.Counter
	prefetchFiles     prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		ramBlocksFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockcache",
			Subsystem: "coordinator",
			Name:      "ram_blocks_free",
			Help:      "RAM-block permits currently available for admission.",
		}),
		ramBlockDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockcache",
			Subsystem: "coordinator",
			Name:      "ram_block_denials_total",
			Help:      "RequestRAMBlock calls that found the budget exhausted.",
		}),
		writeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockcache",
			Subsystem: "coordinator",
			Name:      "write_queue_depth",
			Help:      "Write-back tasks currently queued or running.",
		}),
		writeBackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockcache",
			Subsystem: "coordinator",
			Name:      "write_back_total",
			Help:      "Blocks successfully written back to disk.",
		}),
		writeBackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockcache",
			Subsystem: "coordinator",
			Name:      "write_back_failures_total",
			Help:      "Write-back attempts that exhausted their retry limit.",
		}),
		prefetchFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockcache",
			Subsystem: "coordinator",
			Name:      "prefetch_files_registered",
			Help:      "Files currently registered for the periodic prefetch tick.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.ramBlocksFree, m.ramBlockDenials, m.writeQueueDepth,
		m.writeBackTotal, m.writeBackFailures, m.prefetchFiles,
	} {
		_ = prometheus.Register(c)
	}
	return m
}
