// Package metrics exposes run outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

const namespace = "scholarsnap"

// Recorder implements ports.RunReporter on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	notificationsTotal *prometheus.CounterVec
	logWriteFailures   prometheus.Counter
	lastSuccess        prometheus.Gauge
}

var _ ports.RunReporter = (*Recorder)(nil)

// NewRecorder registers the run metrics plus the Go and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of pipeline runs",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Recipients per run by result",
			},
			[]string{"result"},
		),
		logWriteFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_write_failures_total",
				Help:      "Delivered notifications whose log write failed",
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run",
			},
		),
	}
}

// Report records one run.
func (r *Recorder) Report(_ context.Context, result domain.RunResult) error {
	r.runsTotal.WithLabelValues(string(result.Outcome)).Inc()
	if d := result.Duration(); d > 0 {
		r.runDuration.Observe(d.Seconds())
	}
	r.notificationsTotal.WithLabelValues("delivered").Add(float64(len(result.Delivered)))
	r.notificationsTotal.WithLabelValues("skipped").Add(float64(len(result.Skipped)))
	r.notificationsTotal.WithLabelValues("undelivered").Add(float64(len(result.Undelivered)))
	r.logWriteFailures.Add(float64(len(result.LogFailures)))
	if result.OK() && !result.FinishedAt.IsZero() {
		r.lastSuccess.Set(float64(result.FinishedAt.Unix()))
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
