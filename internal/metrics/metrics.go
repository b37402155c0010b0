package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Durability paths an action write can take.
const (
	PathIndependent = "independent"
	PathJoined      = "joined"
)

// Metrics covers gate decisions and audit writes. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Decisions      *prometheus.CounterVec
	ActionsWritten *prometheus.CounterVec
	WriteFailures  *prometheus.CounterVec
	WriteDuration  *prometheus.HistogramVec
	BatchSize      prometheus.Histogram
}

// New registers all metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_gate_decisions_total",
			Help: "Authorization decisions taken by the enforcement gate",
		}, []string{"operation", "outcome"}),
		ActionsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_actions_written_total",
			Help: "Actions written, by kind and durability path",
		}, []string{"kind", "path"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_action_write_failures_total",
			Help: "Action writes that returned an error, by durability path",
		}, []string{"path"}),
		WriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custos_action_write_duration_seconds",
			Help:    "Duration of action inserts",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"path"}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "custos_action_batch_size",
			Help:    "Number of actions per bulk insert",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

func (m *Metrics) ObserveDecision(operation string, approved bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	m.Decisions.WithLabelValues(operation, outcome).Inc()
}

// ObserveWrite records n actions of kind written on path, started at start.
func (m *Metrics) ObserveWrite(kind, path string, n int, start time.Time) {
	if m == nil {
		return
	}
	m.ActionsWritten.WithLabelValues(kind, path).Add(float64(n))
	m.WriteDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveWriteFailure(path string) {
	if m == nil {
		return
	}
	m.WriteFailures.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}
