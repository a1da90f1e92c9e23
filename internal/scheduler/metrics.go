package scheduler

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures scheduler telemetry. Implementations must not touch
// state: metrics are not part of block execution.
type Observer interface {
	TaskScheduled()
	TaskExecuted(method string, ok bool)
	TasksDeferred(n int)
	BlockProcessed(rep Report)
}

// PrometheusObserver exports scheduler metrics to Prometheus.
type PrometheusObserver struct {
	scheduled prometheus.Counter
	executed  *prometheus.CounterVec
	deferred  prometheus.Counter
	weight    prometheus.Histogram
	due       prometheus.Gauge
}

// NewPrometheusObserver registers the scheduler metrics on reg
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "trustchain"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: ModuleName,
			Name:      "tasks_scheduled_total",
			Help:      "Tasks accepted into the agenda.",
		}),
		executed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: ModuleName,
			Name:      "tasks_executed_total",
			Help:      "Agenda entries dispatched, by call and result.",
		}, []string{"call", "result"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: ModuleName,
			Name:      "tasks_deferred_total",
			Help:      "Agenda entries carried over to the next block.",
		}),
		weight: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: ModuleName,
			Name:      "block_weight",
			Help:      "Weight consumed by agenda execution per block.",
			Buckets:   prometheus.ExponentialBuckets(10_000, 4, 8),
		}),
		due: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: ModuleName,
			Name:      "last_block_due_tasks",
			Help:      "Entries found in the agenda slot of the last processed block.",
		}),
	}
	if err := register(reg, &o.scheduled, &o.deferred); err != nil {
		return nil, err
	}
	if err := register(reg, &o.due); err != nil {
		return nil, err
	}
	if err := register(reg, &o.executed); err != nil {
		return nil, err
	}
	if err := register(reg, &o.weight); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds each collector to reg, swapping in the existing collector when
// an identical one is already registered (several nodes in one process).
func register[C prometheus.Collector](reg prometheus.Registerer, cs ...*C) error {
	for _, c := range cs {
		if err := reg.Register(*c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(C); ok {
					*c = existing
					continue
				}
			}
			return fmt.Errorf("register scheduler metric: %w", err)
		}
	}
	return nil
}

func (o *PrometheusObserver) TaskScheduled() {
	if o == nil {
		return
	}
	o.scheduled.Inc()
}

func (o *PrometheusObserver) TaskExecuted(method string, ok bool) {
	if o == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	o.executed.WithLabelValues(method, result).Inc()
}

func (o *PrometheusObserver) TasksDeferred(n int) {
	if o == nil {
		return
	}
	o.deferred.Add(float64(n))
}

func (o *PrometheusObserver) BlockProcessed(rep Report) {
	if o == nil {
		return
	}
	o.due.Set(float64(rep.Due))
	if rep.Due > 0 {
		o.weight.Observe(float64(rep.Weight))
	}
}

type nopObserver struct{}

func (nopObserver) TaskScheduled() {}

func (nopObserver) TaskExecuted(string, bool) {}

func (nopObserver) TasksDeferred(int) {}

func (nopObserver) BlockProcessed(Report) {}
