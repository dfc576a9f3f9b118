package repeater

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yok-tottii/vox-repeater/internal/bus"
	"github.com/yok-tottii/vox-repeater/internal/bus/mock"
	"github.com/yok-tottii/vox-repeater/internal/metrics"
	"github.com/yok-tottii/vox-repeater/internal/vad"
)

const frameSamples = 20

type testLogger struct {
	t *testing.T
}

func (l testLogger) Debug(format string, v ...interface{}) { l.t.Logf("[DEBUG] "+format, v...) }
func (l testLogger) Info(format string, v ...interface{})  { l.t.Logf("[INFO] "+format, v...) }
func (l testLogger) Warn(format string, v ...interface{})  { l.t.Logf("[WARN] "+format, v...) }
func (l testLogger) Error(format string, v ...interface{}) { l.t.Logf("[ERROR] "+format, v...) }

type fixture struct {
	driver   *mock.Driver
	bus      *bus.Controller
	detector *vad.Detector
	metrics  *metrics.Metrics
	manager  *Manager
}

func newFixture(t *testing.T, frames ...[]int16) *fixture {
	t.Helper()

	driver := &mock.Driver{Frames: frames}
	controller := bus.NewController(driver, bus.DefaultConfig(), testLogger{t})
	detector := vad.New(frameSamples*2, vad.DefaultConfig(), nil)
	m := metrics.New()

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond

	return &fixture{
		driver:   driver,
		bus:      controller,
		detector: detector,
		metrics:  m,
		manager:  New(controller, detector, frameSamples, cfg, m, testLogger{t}),
	}
}

// run starts Run and cancels it once the mock runs out of frames
func (f *fixture) run(t *testing.T) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.driver.OnDrained = cancel

	return f.manager.Run(ctx)
}

func silence() []int16 {
	return make([]int16, frameSamples)
}

func level(v int16) []int16 {
	frame := make([]int16, frameSamples)
	for i := range frame {
		frame[i] = v
	}
	return frame
}

func voice() []int16 {
	frame := make([]int16, frameSamples)
	for i := 5; i < 15; i++ {
		frame[i] = 3000
	}
	return frame
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "Idle"},
		{Calibrating, "Calibrating"},
		{Listening, "Listening"},
		{Repeating, "Repeating"},
		{Stopped, "Stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.state.String(); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.CalibrationFrames != 1 {
		t.Errorf("Expected CalibrationFrames 1, got %d", config.CalibrationFrames)
	}
	if config.MaxModeRetries != 3 {
		t.Errorf("Expected MaxModeRetries 3, got %d", config.MaxModeRetries)
	}
	if config.RetryDelay != 100*time.Millisecond {
		t.Errorf("Expected RetryDelay 100ms, got %v", config.RetryDelay)
	}
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	if f.manager.GetState() != Idle {
		t.Errorf("Expected Idle, got %v", f.manager.GetState())
	}

	status := f.manager.Status()
	if status.BusMode != bus.Uninitialized.String() {
		t.Errorf("Expected Uninitialized bus, got %s", status.BusMode)
	}
	if status.Calibrated {
		t.Error("Expected uncalibrated status")
	}
}

func TestRun_RepeatsActiveFrame(t *testing.T) {
	f := newFixture(t, silence(), silence(), voice(), silence())

	err := f.run(t)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	written := f.driver.WrittenFrames()
	if len(written) != 1 {
		t.Fatalf("Expected 1 repeated frame, got %d", len(written))
	}
	if !reflect.DeepEqual(written[0], voice()) {
		t.Errorf("Repeated frame differs from captured frame: %v", written[0])
	}

	if f.bus.Mode() != bus.CaptureMode {
		t.Errorf("Expected bus back in capture mode, got %v", f.bus.Mode())
	}

	status := f.manager.Status()
	if status.State != Stopped.String() {
		t.Errorf("Expected Stopped, got %s", status.State)
	}
	if status.Threshold != 2500 || !status.Calibrated {
		t.Errorf("Expected calibrated threshold 2500, got %d (calibrated=%v)", status.Threshold, status.Calibrated)
	}
	// silence, voice, silence, drained silence
	if status.Frames != 4 || status.ActiveFrames != 1 {
		t.Errorf("Expected 4 frames / 1 active, got %d / %d", status.Frames, status.ActiveFrames)
	}

	if got := testutil.ToFloat64(f.metrics.FramesRepeated); got != 1 {
		t.Errorf("Expected 1 repeated frame metric, got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.ModeSwitches.WithLabelValues(PlaybackLabel)); got != 1 {
		t.Errorf("Expected 1 playback switch, got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.ModeSwitches.WithLabelValues(CaptureLabel)); got != 2 {
		t.Errorf("Expected 2 capture switches, got %v", got)
	}
}

func TestRun_PlaybackRoundTripOrder(t *testing.T) {
	f := newFixture(t, silence(), voice())

	if err := f.run(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	// Strip reads to look at the reconfiguration sequence only.
	var ops []mock.Op
	for _, op := range f.driver.Ops() {
		if op != mock.OpRead {
			ops = append(ops, op)
		}
	}

	enter := []mock.Op{mock.OpUninstall, mock.OpInstall, mock.OpSetPin, mock.OpSetClock}
	var expected []mock.Op
	expected = append(expected, enter...) // capture
	expected = append(expected, enter...) // playback
	expected = append(expected, mock.OpWrite)
	expected = append(expected, enter...) // capture

	if !reflect.DeepEqual(ops, expected) {
		t.Errorf("Expected ops %v, got %v", expected, ops)
	}
}

func TestRun_QuietFramesNotRepeated(t *testing.T) {
	f := newFixture(t, silence(), level(2000), level(2500))

	if err := f.run(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	if n := len(f.driver.WrittenFrames()); n != 0 {
		t.Errorf("Expected no repeated frames, got %d", n)
	}
}

func TestRun_Recalibrate(t *testing.T) {
	// The second calibration sees a loud floor (threshold 4000), so the
	// 3000-level voice frame no longer counts as active.
	f := newFixture(t, silence(), level(2000), voice())
	f.manager.Recalibrate()
	f.manager.Recalibrate() // merged with the pending request

	if err := f.run(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	if got := testutil.ToFloat64(f.metrics.CalibrationPasses); got != 2 {
		t.Errorf("Expected 2 calibration passes, got %v", got)
	}
	if status := f.manager.Status(); status.Threshold != 4000 {
		t.Errorf("Expected threshold 4000, got %d", status.Threshold)
	}
	if n := len(f.driver.WrittenFrames()); n != 0 {
		t.Errorf("Expected no repeated frames, got %d", n)
	}
}

func TestRun_CalibrationFramesSettle(t *testing.T) {
	f := newFixture(t, level(5000), level(1500), silence())
	f.manager.cfg.CalibrationFrames = 2

	if err := f.run(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	// Only the last calibration frame is reflected.
	if status := f.manager.Status(); status.Threshold != 3000 {
		t.Errorf("Expected threshold 3000, got %d", status.Threshold)
	}
}

func TestRun_ModeEntryGivesUp(t *testing.T) {
	f := newFixture(t)
	errPin := errors.New("pin mux busy")
	f.driver.SetPinError = errPin
	f.manager.cfg.MaxModeRetries = 2

	err := f.manager.Run(context.Background())
	if !errors.Is(err, errPin) {
		t.Fatalf("Expected pin error, got %v", err)
	}

	status := f.manager.Status()
	if status.ModeFailures != 3 {
		t.Errorf("Expected 3 mode failures, got %d", status.ModeFailures)
	}
	if status.State != Stopped.String() {
		t.Errorf("Expected Stopped, got %s", status.State)
	}
	if status.BusMode != bus.Uninitialized.String() {
		t.Errorf("Expected Uninitialized bus, got %s", status.BusMode)
	}
	if got := testutil.ToFloat64(f.metrics.ModeSwitchFailures.WithLabelValues(CaptureLabel)); got != 3 {
		t.Errorf("Expected 3 capture failures, got %v", got)
	}
}

func TestRun_WriteErrorIsNotFatal(t *testing.T) {
	f := newFixture(t, silence(), voice())
	f.driver.WriteError = errors.New("speaker unplugged")

	if err := f.run(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	if got := testutil.ToFloat64(f.metrics.WriteErrors); got != 1 {
		t.Errorf("Expected 1 write error, got %v", got)
	}
	if f.bus.Mode() != bus.CaptureMode {
		t.Errorf("Expected bus back in capture mode, got %v", f.bus.Mode())
	}
}

func TestRun_ReadErrorStops(t *testing.T) {
	f := newFixture(t)
	f.driver.ReadError = errors.New("dma timeout")

	err := f.manager.Run(context.Background())
	if !errors.Is(err, f.driver.ReadError) {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestOnChange(t *testing.T) {
	f := newFixture(t, silence(), voice())

	var mu sync.Mutex
	var states []string
	f.manager.OnChange(func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	})

	if err := f.run(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []string{"Idle", "Calibrating", "Listening", "Repeating", "Listening", "Stopped"}
	if !reflect.DeepEqual(states, expected) {
		t.Errorf("Expected states %v, got %v", expected, states)
	}
}
