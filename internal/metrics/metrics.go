package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scan counters. A nil *Metrics is valid and records
// nothing, so callers never need to guard their calls.
type Metrics struct {
	registry *prometheus.Registry

	probesTotal     *prometheus.CounterVec
	batchesTotal    prometheus.Counter
	blockedDomains  prometheus.Counter
	verdictsTotal   *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	verifyDuration  prometheus.Histogram
	candidatesGauge prometheus.Gauge
}

// New creates metrics on a private registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xssed_probes_total",
		Help: "Reflection probes by outcome",
	}, []string{"outcome"})
	m.batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xssed_probe_batches_total",
		Help: "Reflection batches completed",
	})
	m.blockedDomains = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xssed_blocked_domains_total",
		Help: "Domains marked as blocked",
	})
	m.verdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xssed_verdicts_total",
		Help: "Execution verdicts by result",
	}, []string{"verdict"})
	m.probeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xssed_probe_duration_seconds",
		Help:    "Reflection probe latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	m.verifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xssed_verify_duration_seconds",
		Help:    "Browser verification latency",
		Buckets: []float64{0.5, 1, 2, 3, 5, 10, 20, 30},
	})
	m.candidatesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xssed_reflected_candidates",
		Help: "Reflected candidates awaiting verification",
	})

	m.registry.MustRegister(
		m.probesTotal,
		m.batchesTotal,
		m.blockedDomains,
		m.verdictsTotal,
		m.probeDuration,
		m.verifyDuration,
		m.candidatesGauge,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Probe records one reflection probe outcome
func (m *Metrics) Probe(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.probesTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.probeDuration.Observe(d.Seconds())
	}
}

// Batch records a drained batch
func (m *Metrics) Batch() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}

// BlockedDomain records a newly blocked domain
func (m *Metrics) BlockedDomain() {
	if m == nil {
		return
	}
	m.blockedDomains.Inc()
}

// Candidates sets the number of candidates queued for verification
func (m *Metrics) Candidates(n int) {
	if m == nil {
		return
	}
	m.candidatesGauge.Set(float64(n))
}

// Verdict records one verification verdict
func (m *Metrics) Verdict(executed bool, d time.Duration) {
	if m == nil {
		return
	}
	verdict := "not_executed"
	if executed {
		verdict = "executed"
	}
	m.verdictsTotal.WithLabelValues(verdict).Inc()
	m.verifyDuration.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if m == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
