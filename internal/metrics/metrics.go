// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives pipeline and HTTP observations.
type Recorder interface {
	IncUploads(result string)
	IncSampleStatus(status string)
	IncClassifierCalls(result string)
	IncCleanupFailures()
	ObserveStage(stage string, seconds float64)
	ObserveRequest(method, route, status string, seconds float64)
	SetQueueDepth(depth int)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncUploads(string)                              {}
func (Noop) IncSampleStatus(string)                         {}
func (Noop) IncClassifierCalls(string)                      {}
func (Noop) IncCleanupFailures()                            {}
func (Noop) ObserveStage(string, float64)                   {}
func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) SetQueueDepth(int)                              {}

var _ Recorder = Noop{}
var _ Recorder = (*Prom)(nil)

// Prom implements Recorder backed by Prometheus collectors.
type Prom struct {
	uploads         *prometheus.CounterVec
	samples         *prometheus.CounterVec
	classifierCalls *prometheus.CounterVec
	cleanupFailures prometheus.Counter
	stageLatency    *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
}

// NewProm builds the collectors under namespace and registers them with reg.
// A nil reg uses the default registerer.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by result",
		}, []string{"result"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Processed samples by outcome status",
		}, []string{"status"}),
		classifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_calls_total",
			Help:      "Classifier calls by result",
		}, []string{"result"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Ephemeral files that could not be removed",
		}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Deferred jobs waiting for a worker",
		}),
	}
	reg.MustRegister(p.uploads, p.samples, p.classifierCalls, p.cleanupFailures,
		p.stageLatency, p.requests, p.requestLatency, p.queueDepth)
	return p
}

func (p *Prom) IncUploads(result string) {
	p.uploads.WithLabelValues(result).Inc()
}

func (p *Prom) IncSampleStatus(status string) {
	p.samples.WithLabelValues(status).Inc()
}

func (p *Prom) IncClassifierCalls(result string) {
	p.classifierCalls.WithLabelValues(result).Inc()
}

func (p *Prom) IncCleanupFailures() {
	p.cleanupFailures.Inc()
}

func (p *Prom) ObserveStage(stage string, seconds float64) {
	p.stageLatency.WithLabelValues(stage).Observe(seconds)
}

func (p *Prom) ObserveRequest(method, route, status string, seconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.requestLatency.WithLabelValues(method, route).Observe(seconds)
}

func (p *Prom) SetQueueDepth(depth int) {
	p.queueDepth.Set(float64(depth))
}

// Handler returns an HTTP handler for /metrics backed by gatherer. A nil
// gatherer uses the default registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
