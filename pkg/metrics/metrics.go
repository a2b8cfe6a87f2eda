package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus instrumentation for the scheduling engine.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	stageDuration   *prometheus.HistogramVec
	sessionsTotal   *prometheus.CounterVec
	solverIters     *prometheus.CounterVec
	movesRejected   *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheHitRatio   prometheus.Gauge
	validateLatency prometheus.Histogram
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_stage_duration_seconds",
		Help:    "Wall-clock duration of each pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_sessions_total",
		Help: "Generation sessions by terminal status",
	}, []string{"status"})

	solverIters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_solver_iterations_total",
		Help: "Iterations executed per solver",
	}, []string{"solver"})

	movesRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_moves_rejected_total",
		Help: "Optimizer moves rejected for hard-constraint violations",
	}, []string{"solver"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validator_cache_hits_total",
		Help: "Total validator cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validator_cache_misses_total",
		Help: "Total validator cache misses",
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_cache_hit_ratio",
		Help: "Ratio of cache hits to total validator lookups",
	})

	validateLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "validator_validate_duration_seconds",
		Help:    "Latency of validateChange calls",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(stageDuration, sessionsTotal, solverIters, movesRejected,
		cacheHits, cacheMisses, cacheHitRatio, validateLatency, goroutines)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		stageDuration:   stageDuration,
		sessionsTotal:   sessionsTotal,
		solverIters:     solverIters,
		movesRejected:   movesRejected,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		cacheHitRatio:   cacheHitRatio,
		validateLatency: validateLatency,
	}
}

// Handler exposes the registry for scraping by the surrounding application.
func (m *Metrics) Handler() http.Handler { return m.handler }

// Registry returns the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStage records a completed pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SessionFinished counts a terminal session status.
func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(status).Inc()
}

// AddIterations accumulates solver iterations.
func (m *Metrics) AddIterations(solver string, n int) {
	if m == nil {
		return
	}
	m.solverIters.WithLabelValues(solver).Add(float64(n))
}

// MoveRejected counts a hard-rejected optimizer move.
func (m *Metrics) MoveRejected(solver string) {
	if m == nil {
		return
	}
	m.movesRejected.WithLabelValues(solver).Inc()
}

// CacheLookup records a validator cache probe and refreshes the hit ratio.
func (m *Metrics) CacheLookup(hit bool, hits, total uint64) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveValidate records a validateChange latency sample.
func (m *Metrics) ObserveValidate(d time.Duration) {
	if m == nil {
		return
	}
	m.validateLatency.Observe(d.Seconds())
}
