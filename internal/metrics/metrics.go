package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kina/internal/action"
	"kina/internal/session"
)

// Metrics owns its registry so tests and multiple daemons in one process
// do not collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	Cycles          *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	TriggersDropped prometheus.Counter
	Busy            prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		Cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kina_cycles_total",
				Help: "Voice cycles by outcome",
			},
			[]string{"outcome"},
		),

		Actions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kina_actions_total",
				Help: "Executed actions by name and status",
			},
			[]string{"action", "status"},
		),

		ActionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "kina_action_duration_seconds",
				Help: "Action execution time",
			},
			[]string{"action"},
		),

		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kina_stage_duration_seconds",
				Help:    "Time spent in each cycle stage",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		TriggersDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kina_triggers_dropped_total",
				Help: "Triggers ignored because a cycle was running",
			},
		),

		Busy: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kina_cycle_active",
				Help: "1 while a voice cycle is running",
			},
		),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kina_http_requests_total",
				Help: "HTTP API requests",
			},
			[]string{"endpoint", "code"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveAction matches action.WithObserver.
func (m *Metrics) ObserveAction(r action.Result, took time.Duration) {
	m.Actions.WithLabelValues(r.Action, string(r.Status)).Inc()
	m.ActionDuration.WithLabelValues(r.Action).Observe(took.Seconds())
}

func (m *Metrics) Transition(_ string, _, to session.State) {
	if to == session.Idle {
		m.Busy.Set(0)
	} else {
		m.Busy.Set(1)
	}
}

func (m *Metrics) CycleDone(r session.Report) {
	m.Cycles.WithLabelValues(string(r.Outcome)).Inc()
	for stage, d := range r.Stages {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) TriggerDropped(session.Trigger) { m.TriggersDropped.Inc() }
