package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for typewatch. A nil *Metrics and a
// disabled one both record nothing.
type Metrics struct {
	config MetricsConfig

	// Command metrics
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Batch metrics
	batches        *prometheus.CounterVec
	batchSuccesses *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec

	// Manifest metrics
	manifestReads   *prometheus.CounterVec
	manifestChanges *prometheus.CounterVec

	// Queue metrics
	queueDepth prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of package-manager commands by outcome",
			},
			[]string{"operation", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of package-manager commands in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"operation"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of install/uninstall batches",
			},
			[]string{"operation"},
		),
		batchSuccesses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_successes_total",
				Help:      "Total number of successful commands summed over batches",
			},
			[]string{"operation"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of install/uninstall batches in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"operation"},
		),
		manifestReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manifest_reads_total",
				Help:      "Total number of manifest reads by result",
			},
			[]string{"manifest", "result"},
		),
		manifestChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manifest_changes_total",
				Help:      "Total number of manifest changes with a non-empty diff",
			},
			[]string{"manifest"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of jobs waiting in the batch queue",
			},
		),
	}

	registry.MustRegister(
		m.commands,
		m.commandDuration,
		m.batches,
		m.batchSuccesses,
		m.batchDuration,
		m.manifestReads,
		m.manifestChanges,
		m.queueDepth,
	)

	return m, nil
}

// RecordCommand records one finished package-manager command.
func (m *Metrics) RecordCommand(operation, status string, duration time.Duration) {
	if m == nil || m.commands == nil {
		return
	}
	m.commands.WithLabelValues(operation, status).Inc()
	m.commandDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBatch records a finished batch and its success count.
func (m *Metrics) RecordBatch(operation string, succeeded int, duration time.Duration) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.WithLabelValues(operation).Inc()
	m.batchSuccesses.WithLabelValues(operation).Add(float64(succeeded))
	m.batchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordManifestRead records a manifest read; result is "ok", "missing" or "error".
func (m *Metrics) RecordManifestRead(manifest, result string) {
	if m == nil || m.manifestReads == nil {
		return
	}
	m.manifestReads.WithLabelValues(manifest, result).Inc()
}

// RecordManifestChange records a manifest change that produced a non-empty diff.
func (m *Metrics) RecordManifestChange(manifest string) {
	if m == nil || m.manifestChanges == nil {
		return
	}
	m.manifestChanges.WithLabelValues(manifest).Inc()
}

// SetQueueDepth sets the number of jobs waiting in the batch queue.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
