package devicescheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Metrics is a prometheus.Collector exposing live scheduler state: one
// Describe/Collect pair pulling straight off the Scheduler rather than
// caching anything itself.
type Metrics struct {
	sched *Scheduler
	log   *logrus.Logger

	smOccupied      *prometheus.Desc
	tokenCount      *prometheus.Desc
	candidateCount  *prometheus.Desc
	clientUsageDesc *prometheus.Desc
	clientMemDesc   *prometheus.Desc
}

// NewMetrics builds a Metrics collector around a running Scheduler. gpuUUID
// identifies the single device this scheduler instance owns and is stamped
// onto every series as a constant "gpu" label, so dashboards can tell one
// per-GPU daemon's metrics apart from another's on the same node.
func NewMetrics(sched *Scheduler, log *logrus.Logger, gpuUUID string) *Metrics {
	constLabels := prometheus.Labels{"gpu": gpuUUID}
	return &Metrics{
		sched: sched,
		log:   log,
		smOccupied: prometheus.NewDesc(
			"gpu_scheduler_sm_occupied",
			"Sum of sm_partition over currently outstanding tokens.",
			nil, constLabels),
		tokenCount: prometheus.NewDesc(
			"gpu_scheduler_tokens",
			"Number of currently outstanding tokens.",
			nil, constLabels),
		candidateCount: prometheus.NewDesc(
			"gpu_scheduler_candidates",
			"Number of queued, not-yet-granted candidates.",
			nil, constLabels),
		clientUsageDesc: prometheus.NewDesc(
			"gpu_scheduler_client_window_usage_ms",
			"Per-client accumulated usage within the current sliding window, in milliseconds.",
			[]string{"client"}, constLabels),
		clientMemDesc: prometheus.NewDesc(
			"gpu_scheduler_client_mem_used_bytes",
			"Per-client bytes currently accounted as allocated.",
			[]string{"client"}, constLabels),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.smOccupied
	ch <- m.tokenCount
	ch <- m.candidateCount
	ch <- m.clientUsageDesc
	ch <- m.clientMemDesc
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(m.smOccupied, prometheus.GaugeValue, float64(m.sched.SMOccupied()))
	ch <- prometheus.MustNewConstMetric(m.tokenCount, prometheus.GaugeValue, float64(m.sched.TokenCount()))
	ch <- prometheus.MustNewConstMetric(m.candidateCount, prometheus.GaugeValue, float64(m.sched.CandidateCount()))

	now := m.sched.clock.NowMs()
	windowStart := now - m.sched.windowSize
	if windowStart < 0 {
		windowStart = 0
	}
	m.sched.mu.Lock()
	usage := m.sched.history.Usage(windowStart)
	m.sched.mu.Unlock()
	for name, used := range usage {
		ch <- prometheus.MustNewConstMetric(m.clientUsageDesc, prometheus.GaugeValue, used, name)
	}

	m.sched.mu.Lock()
	for _, name := range m.sched.registry.Names() {
		ci := m.sched.registry.Get(name)
		if ci == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(m.clientMemDesc, prometheus.GaugeValue, float64(ci.MemUsed), name)
	}
	m.sched.mu.Unlock()
}
