package repeater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yok-tottii/vox-repeater/internal/bus"
	"github.com/yok-tottii/vox-repeater/internal/metrics"
)

// State represents the current repeater state
type State int

const (
	// Idle means Run has not started
	Idle State = iota
	// Calibrating means the noise floor is being measured
	Calibrating
	// Listening means frames are being captured and checked
	Listening
	// Repeating means an active frame is being played back
	Repeating
	// Stopped means Run has returned
	Stopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Calibrating:
		return "Calibrating"
	case Listening:
		return "Listening"
	case Repeating:
		return "Repeating"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Bus is the shared audio bus as seen by the control loop
type Bus interface {
	EnterCaptureMode() error
	EnterSpeakerMode() error
	ReadFrame(frame []int16) (int, error)
	WriteFrame(frame []int16) (int, error)
	Mode() bus.Mode
}

// Detector is the voice activity detector as seen by the control loop
type Detector interface {
	CollectCalibrationData(frame []int16)
	FinalizeThreshold()
	IsAboveThreshold(frame []int16) bool
	Threshold() int
	Calibrated() bool
}

// Logger is the subset of the application logger the loop uses
type Logger interface {
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// Config holds configuration for the control loop
type Config struct {
	CalibrationFrames int
	MaxModeRetries    int
	RetryDelay        time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		CalibrationFrames: 1,
		MaxModeRetries:    3,
		RetryDelay:        100 * time.Millisecond,
	}
}

// Status is a snapshot of the repeater, safe to read from any goroutine
type Status struct {
	State        string `json:"state"`
	BusMode      string `json:"bus_mode"`
	Threshold    int    `json:"threshold"`
	Calibrated   bool   `json:"calibrated"`
	Frames       uint64 `json:"frames"`
	ActiveFrames uint64 `json:"active_frames"`
	ModeFailures uint64 `json:"mode_failures"`
}

// Manager runs the calibrate, listen, repeat cycle.
// Only the goroutine running Run touches the bus and the detector; other
// goroutines use Recalibrate and Status.
type Manager struct {
	bus      Bus
	detector Detector
	cfg      Config
	metrics  *metrics.Metrics
	log      Logger
	frame    []int16

	recalibrate chan struct{}

	mu       sync.Mutex
	state    State
	status   Status
	onChange func(Status)
}

// New creates a new repeater. frameSamples is the frame length in samples.
func New(b Bus, d Detector, frameSamples int, cfg Config, m *metrics.Metrics, log Logger) *Manager {
	if cfg.CalibrationFrames < 1 {
		cfg.CalibrationFrames = 1
	}
	if m == nil {
		m = metrics.New()
	}

	return &Manager{
		bus:         b,
		detector:    d,
		cfg:         cfg,
		metrics:     m,
		log:         log,
		frame:       make([]int16, frameSamples),
		recalibrate: make(chan struct{}, 1),
		state:       Idle,
		status: Status{
			State:   Idle.String(),
			BusMode: b.Mode().String(),
		},
	}
}

// OnChange registers fn to be called with a fresh snapshot whenever the
// state or bus mode changes. fn runs on the loop goroutine and must not block.
func (m *Manager) OnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Run calibrates and then repeats active frames until ctx is cancelled or
// the bus cannot be switched. It returns ctx.Err() on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Stopped)

	if err := m.enterMode(ctx, CaptureLabel, m.bus.EnterCaptureMode); err != nil {
		return err
	}

	if err := m.calibrate(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.recalibrate:
			m.log.Info("Recalibration requested")
			if err := m.calibrate(ctx); err != nil {
				return err
			}
			continue
		default:
		}

		n, err := m.bus.ReadFrame(m.frame)
		if err != nil {
			return fmt.Errorf("failed to capture frame: %w", err)
		}
		frame := m.frame[:n]

		m.metrics.FramesCaptured.Inc()
		active := m.detector.IsAboveThreshold(frame)
		m.countFrame(active)
		if !active {
			continue
		}

		m.metrics.FramesActive.Inc()
		if err := m.repeat(ctx, frame); err != nil {
			return err
		}
	}
}

// Recalibrate asks the loop to run a new calibration pass before the next
// frame. Requests made while one is pending are merged.
func (m *Manager) Recalibrate() {
	select {
	case m.recalibrate <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the repeater
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// GetState returns the current state
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// calibrate reads CalibrationFrames frames and derives a new threshold.
// The detector resets on every collect, so earlier frames only serve to
// let the freshly switched capture path settle.
func (m *Manager) calibrate(ctx context.Context) error {
	m.setState(Calibrating)

	for i := 0; i < m.cfg.CalibrationFrames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := m.bus.ReadFrame(m.frame)
		if err != nil {
			return fmt.Errorf("failed to capture calibration frame: %w", err)
		}
		m.detector.CollectCalibrationData(m.frame[:n])
	}
	m.detector.FinalizeThreshold()

	threshold := m.detector.Threshold()
	m.metrics.CalibrationPasses.Inc()
	m.metrics.Threshold.Set(float64(threshold))
	m.log.Info("Calibrated: dynamic threshold %d", threshold)

	m.mu.Lock()
	m.status.Threshold = threshold
	m.status.Calibrated = m.detector.Calibrated()
	m.mu.Unlock()

	m.setState(Listening)
	return nil
}

// repeat plays frame back and returns the bus to capture mode.
// A failed write is logged and skipped; failing to switch modes is fatal.
func (m *Manager) repeat(ctx context.Context, frame []int16) error {
	m.setState(Repeating)

	if err := m.enterMode(ctx, PlaybackLabel, m.bus.EnterSpeakerMode); err != nil {
		return err
	}

	if _, err := m.bus.WriteFrame(frame); err != nil {
		m.metrics.WriteErrors.Inc()
		m.log.Warn("Failed to repeat frame: %v", err)
	} else {
		m.metrics.FramesRepeated.Inc()
	}

	if err := m.enterMode(ctx, CaptureLabel, m.bus.EnterCaptureMode); err != nil {
		return err
	}

	m.setState(Listening)
	return nil
}

// Mode labels used in logs and metrics
const (
	CaptureLabel  = "capture"
	PlaybackLabel = "playback"
)

// enterMode calls enter until it succeeds, retrying up to MaxModeRetries
// times with RetryDelay between attempts
func (m *Manager) enterMode(ctx context.Context, label string, enter func() error) error {
	var errs []error

	for attempt := 0; attempt <= m.cfg.MaxModeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.RetryDelay):
			}
		}

		err := enter()
		m.publishMode()
		if err == nil {
			m.metrics.ModeSwitches.WithLabelValues(label).Inc()
			return nil
		}

		errs = append(errs, err)
		m.metrics.ModeSwitchFailures.WithLabelValues(label).Inc()
		m.mu.Lock()
		m.status.ModeFailures++
		m.mu.Unlock()
		m.log.Warn("Failed to enter %s mode (attempt %d/%d): %v", label, attempt+1, m.cfg.MaxModeRetries+1, err)
	}

	err := fmt.Errorf("giving up on %s mode after %d attempts: %w", label, len(errs), errors.Join(errs...))
	m.log.Error("%v", err)
	return err
}

func (m *Manager) countFrame(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Frames++
	if active {
		m.status.ActiveFrames++
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.status.State = state.String()
	snapshot, fn := m.status, m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(snapshot)
	}
}

func (m *Manager) publishMode() {
	mode := m.bus.Mode()
	m.metrics.BusMode.Set(float64(mode))

	m.mu.Lock()
	changed := m.status.BusMode != mode.String()
	m.status.BusMode = mode.String()
	snapshot, fn := m.status, m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(snapshot)
	}
}
