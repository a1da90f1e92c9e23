package runtime

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures block import telemetry.
type Observer interface {
	BlockImported(rec Receipt, took time.Duration)
}

type PrometheusObserver struct {
	blocks     prometheus.Counter
	head       prometheus.Gauge
	duration   prometheus.Histogram
	extrinsics *prometheus.CounterVec
	triggered  prometheus.Counter
}

func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "trustchain"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_imported_total",
			Help:      "Blocks committed to storage.",
		}),
		head: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_block",
			Help:      "Number of the last committed block.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_import_duration_seconds",
			Help:      "Wall time to execute and commit a block.",
			Buckets:   prometheus.DefBuckets,
		}),
		extrinsics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extrinsics_total",
			Help:      "Extrinsics applied, by result.",
		}, []string{"result"}),
		triggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trustfund",
			Name:      "funds_triggered_total",
			Help:      "Trust funds whose living switch fired.",
		}),
	}
	for _, c := range []prometheus.Collector{o.blocks, o.head, o.duration, o.extrinsics, o.triggered} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register runtime metric: %w", err)
		}
	}
	return o, nil
}

func (o *PrometheusObserver) BlockImported(rec Receipt, took time.Duration) {
	if o == nil {
		return
	}
	o.blocks.Inc()
	o.head.Set(float64(rec.Header.Number))
	o.duration.Observe(took.Seconds())
	for _, res := range rec.Results {
		if res.OK {
			o.extrinsics.WithLabelValues("ok").Inc()
		} else {
			o.extrinsics.WithLabelValues("error").Inc()
		}
	}
	o.triggered.Add(float64(len(rec.Triggered)))
}

type nopObserver struct{}

func (nopObserver) BlockImported(Receipt, time.Duration) {}
