package cstore

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus collectors for table writers and readers.
// A nil *Metrics records nothing.
type Metrics struct {
	RowsWritten    prometheus.Counter
	StripesWritten prometheus.Counter
	BytesWritten   prometheus.Counter
	BlocksRead     prometheus.Counter
	BlocksSkipped  prometheus.Counter
}

// NewMetrics creates a set of collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cstore",
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		RowsWritten:    counter("rows_written_total", "Total number of rows written."),
		StripesWritten: counter("stripes_written_total", "Total number of stripes flushed."),
		BytesWritten:   counter("stripe_bytes_written_total", "Total number of stripe bytes flushed."),
		BlocksRead:     counter("blocks_read_total", "Total number of blocks decoded by readers."),
		BlocksSkipped:  counter("blocks_skipped_total", "Total number of blocks skipped by predicate pruning."),
	}
}

// Register registers all collectors.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RowsWritten,
		m.StripesWritten,
		m.BytesWritten,
		m.BlocksRead,
		m.BlocksSkipped,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) addRowsWritten(n int) {
	if m != nil {
		m.RowsWritten.Add(float64(n))
	}
}

func (m *Metrics) addStripeWritten(bytes int64) {
	if m != nil {
		m.StripesWritten.Inc()
		m.BytesWritten.Add(float64(bytes))
	}
}

func (m *Metrics) addBlocksRead(n int) {
	if m != nil {
		m.BlocksRead.Add(float64(n))
	}
}

func (m *Metrics) addBlocksSkipped(n int) {
	if m != nil && n > 0 {
		m.BlocksSkipped.Add(float64(n))
	}
}
