package onboard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the prometheus collectors updated by the cache, the
// orchestrator and the flow controller. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	cacheMerges      *prometheus.CounterVec
	cacheRecords     prometheus.Gauge
	stepSubmissions  *prometheus.CounterVec
	flowOutcomes     *prometheus.CounterVec
	terminalDuration prometheus.Histogram
}

// NewMetrics builds the collectors and registers them with reg. A nil
// registerer skips registration, which keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onboarding",
			Subsystem: "cache",
			Name:      "merges_total",
			Help:      "Records merged into the normalized cache, by result.",
		}, []string{"result"}),
		cacheRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "onboarding",
			Subsystem: "cache",
			Name:      "records",
			Help:      "Records currently held by the normalized cache.",
		}),
		stepSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onboarding",
			Subsystem: "flow",
			Name:      "step_submissions_total",
			Help:      "Step submissions by step and outcome.",
		}, []string{"step", "outcome"}),
		flowOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onboarding",
			Subsystem: "flow",
			Name:      "terminal_outcomes_total",
			Help:      "Terminal action outcomes.",
		}, []string{"outcome"}),
		terminalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "onboarding",
			Subsystem: "flow",
			Name:      "terminal_duration_seconds",
			Help:      "Time from terminal submit until both the remote call and the dwell timer settled.",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 2, 5, 10},
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.cacheMerges, m.cacheRecords, m.stepSubmissions, m.flowOutcomes, m.terminalDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeMerge(result string, count int, size int) {
	if m == nil {
		return
	}
	m.cacheMerges.WithLabelValues(result).Add(float64(count))
	m.cacheRecords.Set(float64(size))
}

func (m *Metrics) observeSize(size int) {
	if m == nil {
		return
	}
	m.cacheRecords.Set(float64(size))
}

func (m *Metrics) observeSubmit(step, outcome string) {
	if m == nil {
		return
	}
	m.stepSubmissions.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) observeTerminal(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.flowOutcomes.WithLabelValues(outcome).Inc()
	m.terminalDuration.Observe(elapsed.Seconds())
}
