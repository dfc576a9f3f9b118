package vad

import (
	"github.com/yok-tottii/vox-repeater/internal/printer"
)

// Config holds the detector constants
type Config struct {
	Gain             int // applied to every raw sample
	Multiplier       int // threshold = average * Multiplier
	MinThreshold     int // floor for the dynamic threshold
	CalibrationSkip  int // leading samples ignored during calibration
	DetectionSkip    int // leading samples ignored during detection
	MinActiveSamples int // a frame is active when strictly more samples exceed the threshold
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		Gain:             1,
		Multiplier:       2,
		MinThreshold:     2500,
		CalibrationSkip:  10,
		DetectionSkip:    5,
		MinActiveSamples: 5,
	}
}

// Detector is a threshold-based voice activity detector. All arithmetic is
// integer. A Detector is not safe for concurrent use.
type Detector struct {
	cfg        Config
	sink       printer.Sink
	numSamples int

	sum        int
	count      int
	calibrated bool
	threshold  int
}

// New creates a detector for frames of frameBytes bytes (16-bit samples).
// A nil sink discards diagnostics.
func New(frameBytes int, cfg Config, sink printer.Sink) *Detector {
	if sink == nil {
		sink = printer.Discard
	}
	return &Detector{
		cfg:        cfg,
		sink:       sink,
		numSamples: frameBytes / 2,
	}
}

// NumSamples returns the frame length in samples
func (d *Detector) NumSamples() int {
	return d.numSamples
}

// CollectCalibrationData starts a new calibration pass and accumulates
// the scaled levels of frame from CalibrationSkip onwards. A negative
// skip scans from the first sample.
//
// Each call resets the accumulator, so only the last frame collected
// before FinalizeThreshold determines the threshold.
func (d *Detector) CollectCalibrationData(frame []int16) {
	d.resetCalibration()

	end := min(d.numSamples, len(frame))
	for n := max(0, d.cfg.CalibrationSkip); n < end; n++ {
		d.sum += int(frame[n]) * d.cfg.Gain
		d.count++
	}
}

// FinalizeThreshold computes the dynamic threshold from the collected
// data. It does nothing when the detector is already calibrated.
func (d *Detector) FinalizeThreshold() {
	if d.calibrated {
		return
	}

	d.calibrated = true
	average := 0
	if d.count > 0 {
		average = d.sum / d.count
	}

	d.threshold = max(d.cfg.MinThreshold, average*d.cfg.Multiplier)

	d.sink.KeyVal("Average Sound Level", printer.Int(average))
	d.sink.KeyVal("Dynamic Threshold", printer.Int(d.threshold))
}

// IsAboveThreshold reports whether more than MinActiveSamples samples of
// frame, from DetectionSkip onwards, exceed the threshold
func (d *Detector) IsAboveThreshold(frame []int16) bool {
	above := 0

	end := min(d.numSamples, len(frame))
	for n := max(0, d.cfg.DetectionSkip); n < end; n++ {
		level := int(frame[n]) * d.cfg.Gain
		if level > d.threshold {
			d.sink.KeyVal("Sound level", printer.Int(level))
			above++
		}
	}

	active := above > d.cfg.MinActiveSamples
	if active {
		d.sink.Msg(printer.Text("- Above sound threshold -"))
	}
	return active
}

// Threshold returns the current dynamic threshold
func (d *Detector) Threshold() int {
	return d.threshold
}

// Calibrated reports whether FinalizeThreshold has run since the last
// CollectCalibrationData
func (d *Detector) Calibrated() bool {
	return d.calibrated
}

func (d *Detector) resetCalibration() {
	d.calibrated = false
	d.sum = 0
	d.count = 0
}
