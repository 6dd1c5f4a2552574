// Package metrics records relay cycle outcomes as Prometheus metrics.
//
// The relay opens no listening port; metrics are written after each cycle to
// a file for the node_exporter textfile collector.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pershinghar/webcam-relay/pkg/logging"
	"github.com/pershinghar/webcam-relay/pkg/models"
)

// Recorder turns cycle events into metric updates. It implements the relay
// observer interface.
type Recorder struct {
	registry *prometheus.Registry

	fetches      *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	cycles       *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	lastSuccess  *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcam_relay_fetches_total",
				Help: "Image fetch attempts by camera and result",
			},
			[]string{"camera", "result"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcam_relay_uploads_total",
				Help: "Remote uploads by camera and result",
			},
			[]string{"camera", "result"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcam_relay_cycle_failures_total",
				Help: "Cycle-level failures by stage (directory, connection)",
			},
			[]string{"stage"},
		),
		cycleSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webcam_relay_cycle_duration_seconds",
				Help:    "Wall time of one prepare/fetch/push cycle",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webcam_relay_last_image_timestamp_seconds",
				Help: "Unix time of the last successfully archived image per camera",
			},
			[]string{"camera"},
		),
	}
	r.registry.MustRegister(r.fetches, r.uploads, r.cycles, r.cycleSeconds, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry, e.g. for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe implements relay.Observer.
func (r *Recorder) Observe(_ context.Context, event models.CycleEvent) {
	switch event.Kind {
	case models.EventImageArchived:
		r.fetches.WithLabelValues(event.Camera, "success").Inc()
		r.lastSuccess.WithLabelValues(event.Camera).Set(float64(event.Timestamp.Unix()))
	case models.EventFetchFailed:
		r.fetches.WithLabelValues(event.Camera, "failure").Inc()
	case models.EventImagePosted:
		r.uploads.WithLabelValues(event.Camera, "success").Inc()
	case models.EventTransferFailed:
		r.uploads.WithLabelValues(event.Camera, "failure").Inc()
	case models.EventDirectoryFailed:
		r.cycles.WithLabelValues("directory").Inc()
	case models.EventConnectionFailed:
		r.cycles.WithLabelValues("connection").Inc()
	case models.EventCycleFinished:
		r.cycleSeconds.Observe(event.Duration.Seconds())
	}
}

// TextfileWriter writes the recorder's metrics to path after every cycle.
type TextfileWriter struct {
	recorder *Recorder
	path     string
}

// NewTextfileWriter returns an observer that dumps metrics to path on
// cycle_finished. The parent directory must exist.
func NewTextfileWriter(recorder *Recorder, path string) *TextfileWriter {
	return &TextfileWriter{recorder: recorder, path: path}
}

// Observe implements relay.Observer.
func (w *TextfileWriter) Observe(_ context.Context, event models.CycleEvent) {
	if event.Kind != models.EventCycleFinished {
		return
	}
	if err := w.Write(); err != nil {
		logging.Warn().Err(err).Str("path", w.path).Msg("metrics textfile not written")
	}
}

// Write dumps the current metrics. WriteToTextfile renames a temp file into
// place so the collector never reads a partial file.
func (w *TextfileWriter) Write() error {
	if dir := filepath.Dir(w.path); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("metrics textfile directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(w.path, w.recorder.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
