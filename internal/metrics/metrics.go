package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/egressgate/internal/domain"
)

const namespace = "egressgate"

var (
	DurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	phases          = []domain.Phase{
		domain.PhaseIdle,
		domain.PhaseProbing,
		domain.PhaseCommittedDirect,
		domain.PhaseCommittedEngine,
		domain.PhaseEndedWithoutSuccess,
	}
)

// Metrics holds the egress collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Rounds
	RoundsTotal   *prometheus.CounterVec
	RoundDuration prometheus.Histogram
	Phase         *prometheus.GaugeVec

	// Probes
	ProbesTotal  *prometheus.CounterVec
	ProbeLatency *prometheus.HistogramVec

	// Engine and gate
	EngineInitTotal   *prometheus.CounterVec
	GateRequestsTotal *prometheus.CounterVec

	// Feed sync
	SyncFetchesTotal *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		RoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Probing rounds by final phase",
		}, []string{"phase"}),

		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time from round start to decision or end",
			Buckets:   DurationBuckets,
		}),

		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decision_phase",
			Help:      "1 for the current decision phase, 0 otherwise",
		}, []string{"phase"}),

		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Candidate probes by kind and result",
		}, []string{"kind", "result"}),

		ProbeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Latency of candidate probes",
			Buckets:   DurationBuckets,
		}, []string{"kind"}),

		EngineInitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_init_total",
			Help:      "Engine initialization attempts by result",
		}, []string{"result"}),

		GateRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_requests_total",
			Help:      "Requests seen by the gating client by route",
		}, []string{"route"}),

		SyncFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_fetches_total",
			Help:      "Feed fetches attempted by the sync scheduler by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.RoundsTotal, m.RoundDuration, m.Phase,
		m.ProbesTotal, m.ProbeLatency,
		m.EngineInitTotal, m.GateRequestsTotal,
		m.SyncFetchesTotal,
	)
	m.SetPhase(domain.PhaseIdle)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetPhase(p domain.Phase) {
	if m == nil {
		return
	}
	for _, ph := range phases {
		v := 0.0
		if ph == p {
			v = 1
		}
		m.Phase.WithLabelValues(string(ph)).Set(v)
	}
}

// RecordRound records a round leaving Probing.
func (m *Metrics) RecordRound(p domain.Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.RoundsTotal.WithLabelValues(string(p)).Inc()
	m.RoundDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordProbe(o domain.ProbeOutcome) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(string(o.Kind), string(o.Result)).Inc()
	m.ProbeLatency.WithLabelValues(string(o.Kind)).Observe(o.LatencyMS / 1000)
}

func (m *Metrics) RecordEngineInit(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EngineInitTotal.WithLabelValues(result).Inc()
}

// RecordGate counts a gated request; route is "direct", "engine" or "not_ready".
func (m *Metrics) RecordGate(route string) {
	if m == nil {
		return
	}
	m.GateRequestsTotal.WithLabelValues(route).Inc()
}

// RecordFetch counts a sync fetch; result is "ok", "failed" or "deferred".
func (m *Metrics) RecordFetch(result string) {
	if m == nil {
		return
	}
	m.SyncFetchesTotal.WithLabelValues(result).Inc()
}
