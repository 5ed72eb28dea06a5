// Package metrics exposes optimizer activity as Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/yagiopt/internal/objective"
)

// Collector bundles the optimizer metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	Runs               *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	BestScore          *prometheus.GaugeVec
	ActiveRuns         prometheus.Gauge
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Collectors already registered under the same name are
// reused.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	evals, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yagiopt_evaluations_total",
		Help: "Objective evaluations, labeled by outcome.",
	}, []string{"outcome"}), "yagiopt_evaluations_total")
	if err != nil {
		return nil, err
	}
	evalDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "yagiopt_evaluation_duration_seconds",
		Help:    "Time spent scoring one candidate geometry.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}), "yagiopt_evaluation_duration_seconds")
	if err != nil {
		return nil, err
	}
	runs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yagiopt_runs_total",
		Help: "Optimization runs, labeled by algorithm and final status.",
	}, []string{"algorithm", "status"}), "yagiopt_runs_total")
	if err != nil {
		return nil, err
	}
	runDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yagiopt_run_duration_seconds",
		Help:    "Wall time of optimization runs.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"algorithm"}), "yagiopt_run_duration_seconds")
	if err != nil {
		return nil, err
	}
	best, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "yagiopt_best_score",
		Help: "Best score of the last finished run per algorithm.",
	}, []string{"algorithm"}), "yagiopt_best_score")
	if err != nil {
		return nil, err
	}
	active, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "yagiopt_active_runs",
		Help: "Optimization runs in progress.",
	}), "yagiopt_active_runs")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		Evaluations:        evals,
		EvaluationDuration: evalDuration,
		Runs:               runs,
		RunDuration:        runDuration,
		BestScore:          best,
		ActiveRuns:         active,
	}, nil
}

// ObserveEvaluation implements objective.Recorder.
func (c *Collector) ObserveEvaluation(o objective.Outcome, d time.Duration) {
	if c == nil {
		return
	}
	c.Evaluations.WithLabelValues(string(o)).Inc()
	c.EvaluationDuration.Observe(d.Seconds())
}

// RunStarted marks a run as active.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.ActiveRuns.Inc()
}

// RunFinished records the end of a run. best is ignored unless status is
// "completed".
func (c *Collector) RunFinished(algorithm, status string, d time.Duration, best float64) {
	if c == nil {
		return
	}
	c.ActiveRuns.Dec()
	c.Runs.WithLabelValues(algorithm, status).Inc()
	c.RunDuration.WithLabelValues(algorithm).Observe(d.Seconds())
	if status == "completed" {
		c.BestScore.WithLabelValues(algorithm).Set(best)
	}
}

// RegisterCache exposes the hit and miss counts of a simulation cache.
func (c *Collector) RegisterCache(reg prometheus.Registerer, stats func() (hits, misses int64)) error {
	if c == nil || stats == nil {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, name := range []string{"hits", "misses"} {
		name := name
		fn := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "yagiopt_simulation_cache_" + name + "_total",
			Help: "Simulation cache " + name + ".",
		}, func() float64 {
			h, m := stats()
			if name == "hits" {
				return float64(h)
			}
			return float64(m)
		})
		if _, err := register(reg, fn, "yagiopt_simulation_cache_"+name+"_total"); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
