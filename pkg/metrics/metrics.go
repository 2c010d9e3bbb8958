// Package metrics exports pass statistics as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

// Pass outcomes used as the "outcome" label of the pass counter.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeInterrupted = "interrupted"
)

// Recorder receives the result of every pass.
type Recorder interface {
	ObservePass(counts pathsync.Counts, elapsed time.Duration, outcome string)
}

// PassMetrics records pass results into its own registry.
type PassMetrics struct {
	registry *prometheus.Registry

	lastPassEntries  *prometheus.GaugeVec
	lastPassBytes    prometheus.Gauge
	lastPassDuration prometheus.Gauge
	lastPassTime     prometheus.Gauge
	passesTotal      *prometheus.CounterVec
}

// New creates a PassMetrics with a private registry.
func New() *PassMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &PassMetrics{
		registry: reg,
		lastPassEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pglsync_last_pass_entries",
				Help: "Entries handled by the last pass, by action",
			},
			[]string{"action"},
		),
		lastPassBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pglsync_last_pass_bytes_copied",
				Help: "Bytes copied by the last pass",
			},
		),
		lastPassDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pglsync_last_pass_duration_seconds",
				Help: "Wall time of the last pass in seconds",
			},
		),
		lastPassTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pglsync_last_pass_timestamp_seconds",
				Help: "Unix time at which the last pass finished",
			},
		),
		passesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pglsync_passes_total",
				Help: "Total number of passes, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObservePass stores the counters of a finished pass.
func (m *PassMetrics) ObservePass(counts pathsync.Counts, elapsed time.Duration, outcome string) {
	m.lastPassEntries.WithLabelValues("added").Set(float64(counts.Added))
	m.lastPassEntries.WithLabelValues("modified").Set(float64(counts.Modified))
	m.lastPassEntries.WithLabelValues("deleted_files").Set(float64(counts.DeletedFiles))
	m.lastPassEntries.WithLabelValues("deleted_dirs").Set(float64(counts.DeletedDirs))
	m.lastPassEntries.WithLabelValues("failed").Set(float64(counts.Failed))
	m.lastPassBytes.Set(float64(counts.BytesCopied))
	m.lastPassDuration.Set(elapsed.Seconds())
	m.lastPassTime.SetToCurrentTime()
	m.passesTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the HTTP handler exposing the registry.
func (m *PassMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *PassMetrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
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

	plog.Info("Serving metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// NoopRecorder discards all observations.
type NoopRecorder struct{}

func (NoopRecorder) ObservePass(pathsync.Counts, time.Duration, string) {}

var _ Recorder = (*PassMetrics)(nil)
var _ Recorder = NoopRecorder{}
