// Package metrics exposes Prometheus collectors for capture, composition
// and export activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-panorama/pkg/compose"
)

const namespace = "panorama"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	compositions        *prometheus.CounterVec
	compositionDuration *prometheus.HistogramVec
	framesCaptured      prometheus.Counter
	framesBuffered      prometheus.Gauge
	exports             *prometheus.CounterVec
	wsClients           *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		compositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compositions_total",
				Help:      "Total number of composition attempts",
			},
			[]string{"mode", "status"},
		),

		compositionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "composition_duration_seconds",
				Help:      "Duration of composition attempts in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"mode"},
		),

		framesCaptured: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_captured_total",
				Help:      "Total number of frames appended to the frame buffer",
			},
		),

		framesBuffered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "frames_buffered",
				Help:      "Number of frames currently held in the frame buffer",
			},
		),

		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exports_total",
				Help:      "Total number of export attempts",
			},
			[]string{"format", "status"}, // status: success, error
		),

		wsClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Number of connected WebSocket clients",
			},
			[]string{"stream"},
		),
	}

	m.registry.MustRegister(
		m.compositions,
		m.compositionDuration,
		m.framesCaptured,
		m.framesBuffered,
		m.exports,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordComposition implements compose.Recorder.
func (m *Metrics) RecordComposition(mode compose.Mode, status compose.Status, d time.Duration) {
	m.compositions.WithLabelValues(mode.String(), status.String()).Inc()
	m.compositionDuration.WithLabelValues(mode.String()).Observe(d.Seconds())
}

// RecordCapture counts one captured frame and updates the buffer gauge.
func (m *Metrics) RecordCapture(buffered int) {
	m.framesCaptured.Inc()
	m.framesBuffered.Set(float64(buffered))
}

// SetBuffered sets the buffer gauge, e.g. after the buffer is cleared.
func (m *Metrics) SetBuffered(n int) {
	m.framesBuffered.Set(float64(n))
}

// RecordExport counts one export attempt.
func (m *Metrics) RecordExport(format string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.exports.WithLabelValues(format, status).Inc()
}

// ClientConnected adjusts the WebSocket client gauge for stream by delta.
func (m *Metrics) ClientConnected(stream string, delta int) {
	m.wsClients.WithLabelValues(stream).Add(float64(delta))
}

var _ compose.Recorder = (*Metrics)(nil)
