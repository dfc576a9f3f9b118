package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics for the repeater
type Metrics struct {
	registry *prometheus.Registry

	// Frame metrics
	FramesCaptured prometheus.Counter
	FramesActive   prometheus.Counter
	FramesRepeated prometheus.Counter
	WriteErrors    prometheus.Counter

	// Calibration metrics
	CalibrationPasses prometheus.Counter
	Threshold         prometheus.Gauge

	// Bus metrics
	ModeSwitches       *prometheus.CounterVec
	ModeSwitchFailures *prometheus.CounterVec
	BusMode            prometheus.Gauge
}

// New creates the metrics on a private registry, so several instances
// can coexist in tests
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "repeater_frames_captured_total",
			Help: "Total number of frames read from the microphone",
		}),
		FramesActive: factory.NewCounter(prometheus.CounterOpts{
			Name: "repeater_frames_active_total",
			Help: "Total number of frames classified as voice activity",
		}),
		FramesRepeated: factory.NewCounter(prometheus.CounterOpts{
			Name: "repeater_frames_repeated_total",
			Help: "Total number of frames written to the speaker",
		}),
		WriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "repeater_write_errors_total",
			Help: "Total number of failed speaker writes",
		}),

		CalibrationPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "repeater_calibration_passes_total",
			Help: "Total number of completed calibration passes",
		}),
		Threshold: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repeater_dynamic_threshold",
			Help: "Current dynamic sound threshold",
		}),

		ModeSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repeater_bus_mode_switches_total",
			Help: "Total number of successful bus mode switches",
		}, []string{"mode"}),
		ModeSwitchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "repeater_bus_mode_switch_failures_total",
			Help: "Total number of failed bus mode switch attempts",
		}, []string{"mode"}),
		BusMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "repeater_bus_mode",
			Help: "Current bus mode (0 uninitialized, 1 capture, 2 playback)",
		}),
	}
}

// Handler returns an HTTP handler exposing the metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
