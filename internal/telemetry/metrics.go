// Package telemetry exposes indexing and retrieval metrics in Prometheus
// format and keeps a local, in-memory log of query patterns. Nothing is
// reported externally; the metrics endpoint is opt-in.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rajasaid/InsightOS/internal/index"
	"github.com/rajasaid/InsightOS/internal/retrieve"
)

const namespace = "insightos"

// Scan file results reported in the scan_files gauge.
var scanResults = []string{"indexed", "skipped", "failed", "deleted", "cancelled"}

// Metrics records index and retrieval activity. It implements
// index.Recorder and retrieve.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	jobs             *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	scanFiles        *prometheus.GaugeVec
	chunks           prometheus.Gauge
	retrievals       *prometheus.CounterVec
	retrieveDuration prometheus.Histogram

	queries *QueryLog
}

var (
	_ index.Recorder    = (*Metrics)(nil)
	_ retrieve.Recorder = (*Metrics)(nil)
)

// NewMetrics registers the collectors on a private registry. queries may
// be nil.
func NewMetrics(queries *QueryLog) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries:  queries,
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Indexing jobs by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of indexing jobs that ran.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		scanFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_files",
			Help:      "Files per result in the last scan.",
		}, []string{"result"}),
		chunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks in the vector store after the last scan.",
		}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieval requests by outcome.",
		}, []string{"outcome"}),
		retrieveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieve_duration_seconds",
			Help:      "End-to-end retrieval latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}

	m.registry.MustRegister(
		m.jobs, m.jobDuration, m.scanFiles, m.chunks, m.retrievals, m.retrieveDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// JobFinished counts a job; jobs that ran also record their duration.
func (m *Metrics) JobFinished(outcome string, duration time.Duration) {
	m.jobs.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.jobDuration.Observe(duration.Seconds())
	}
}

// ScanFinished replaces the per-scan gauges.
func (m *Metrics) ScanFinished(res *index.ScanResult, chunks int) {
	if res == nil {
		return
	}
	counts := []int{res.Indexed, res.Skipped, res.Failed, res.Deleted, res.Cancelled}
	for i, label := range scanResults {
		m.scanFiles.WithLabelValues(label).Set(float64(counts[i]))
	}
	m.chunks.Set(float64(chunks))
}

// RetrievalFinished counts a retrieval and feeds the query log.
func (m *Metrics) RetrievalFinished(ev retrieve.Event) {
	m.retrievals.WithLabelValues(ev.Outcome).Inc()
	m.retrieveDuration.Observe(ev.Duration.Seconds())
	if m.queries != nil {
		m.queries.Record(ev)
	}
}

// Queries returns the query log, or nil.
func (m *Metrics) Queries() *QueryLog { return m.queries }

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics_listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
