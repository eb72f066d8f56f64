package upload

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline outcomes. Counter writes are best-effort and never
// allowed to mask the error that produced them.
type Metrics struct {
	uploads    *prometheus.CounterVec
	infections prometheus.Counter
	failures   *prometheus.CounterVec
}

// NewMetrics builds and registers the pipeline counters. A nil registerer
// skips registration, which tests use to avoid global-registry collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadguard_uploads_total",
			Help: "Uploads processed, by final status.",
		}, []string{"status"}),
		infections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uploadguard_infections_total",
			Help: "Uploads rejected by malware scanning.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadguard_failures_total",
			Help: "Upload failures, by error class.",
		}, []string{"class"}),
	}

	if reg != nil {
		reg.MustRegister(m.uploads, m.infections, m.failures)
	}

	return m
}

func (m *Metrics) upload(status string) {
	if m != nil {
		m.uploads.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) infection() {
	if m != nil {
		m.infections.Inc()
	}
}

func (m *Metrics) failure(class string) {
	if m != nil {
		m.failures.WithLabelValues(class).Inc()
	}
}
