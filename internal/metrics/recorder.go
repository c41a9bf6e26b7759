// Package metrics records reconciliation results as Prometheus metrics and
// writes them in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/automount"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netdev_automount"

// Recorder holds the metrics for one process. It implements
// automount.Recorder and is safe for concurrent use.
type Recorder struct {
	gatherer prometheus.Gatherer

	Outcomes      *prometheus.CounterVec
	EntryDuration *prometheus.HistogramVec
	PassEntries   *prometheus.GaugeVec
	PassDuration  *prometheus.GaugeVec
	LastRun       prometheus.Gauge
}

// NewRecorder creates the metrics and registers them with reg.
func NewRecorder(reg *prometheus.Registry) (*Recorder, error) {
	r := &Recorder{
		gatherer: reg,
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Entries handled, by action and status.",
			},
			[]string{"action", "status"},
		),
		EntryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "entry_duration_seconds",
				Help:      "Time spent deciding and acting on one entry.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 20, 30, 60},
			},
			[]string{"action"},
		),
		PassEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pass_entries",
				Help:      "Entries selected by the most recent pass.",
			},
			[]string{"action"},
		),
		PassDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Wall time of the most recent pass.",
			},
			[]string{"action"},
		),
		LastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the most recent pass finished.",
			},
		),
	}

	collectors := []prometheus.Collector{
		r.Outcomes,
		r.EntryDuration,
		r.PassEntries,
		r.PassDuration,
		r.LastRun,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return r, nil
}

// ObserveOutcome counts one entry result.
func (r *Recorder) ObserveOutcome(o automount.Outcome) {
	r.Outcomes.WithLabelValues(string(o.Action), string(o.Status)).Inc()
	r.EntryDuration.WithLabelValues(string(o.Action)).Observe(o.Duration.Seconds())
}

// ObservePass records the size and duration of a finished pass.
func (r *Recorder) ObservePass(action automount.Action, entries int, elapsed time.Duration) {
	r.PassEntries.WithLabelValues(string(action)).Set(float64(entries))
	r.PassDuration.WithLabelValues(string(action)).Set(elapsed.Seconds())
	r.LastRun.SetToCurrentTime()
}

// WriteTextfile writes every registered metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
