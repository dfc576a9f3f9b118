package tray

import (
	"sync"
	"testing"

	"github.com/yok-tottii/vox-repeater/internal/repeater"
)

// recorder captures what would be pushed to the tray
type recorder struct {
	mu       sync.Mutex
	titles   []string
	tooltips []string
	lines    []string
}

func newTestManager(config Config) (*Manager, *recorder) {
	rec := &recorder{}
	m := NewManager(config)
	m.setTitle = func(s string) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.titles = append(rec.titles, s)
	}
	m.setTooltip = func(s string) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.tooltips = append(rec.tooltips, s)
	}
	m.setStatus = func(s string) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.lines = append(rec.lines, s)
	}
	return m, rec
}

func TestNewManager(t *testing.T) {
	recalibrateCalled := false
	quitCalled := false

	manager := NewManager(Config{
		Hotkey: "Ctrl+Shift+R",
		OnRecalibrate: func() {
			recalibrateCalled = true
		},
		OnQuit: func() {
			quitCalled = true
		},
	})

	if manager == nil {
		t.Fatal("Expected manager to be created")
	}

	status := manager.Status()
	if status.State != "Idle" || status.BusMode != "Uninitialized" {
		t.Errorf("Expected Idle/Uninitialized, got %s/%s", status.State, status.BusMode)
	}

	if manager.hotkey != "Ctrl+Shift+R" {
		t.Errorf("Expected hotkey label to be kept, got %q", manager.hotkey)
	}

	manager.onRecalibrate()
	if !recalibrateCalled {
		t.Error("Expected onRecalibrate callback to be called")
	}

	manager.onQuit()
	if !quitCalled {
		t.Error("Expected onQuit callback to be called")
	}
}

func TestUpdateBeforeReady(t *testing.T) {
	manager, rec := newTestManager(Config{})

	manager.Update(repeater.Status{State: "Listening", BusMode: "Capture"})

	if len(rec.titles) != 0 {
		t.Errorf("Expected nothing rendered before ready, got %v", rec.titles)
	}

	if manager.Status().State != "Listening" {
		t.Errorf("Expected status to be stored, got %s", manager.Status().State)
	}
}

func TestUpdateAfterReady(t *testing.T) {
	manager, rec := newTestManager(Config{Version: "v1.0.0"})
	manager.ready = true

	manager.Update(repeater.Status{
		State:        "Listening",
		BusMode:      "Capture",
		Threshold:    2500,
		Calibrated:   true,
		Frames:       10,
		ActiveFrames: 2,
	})

	if len(rec.titles) != 1 || rec.titles[0] != "VOX ●" {
		t.Errorf("Expected title VOX ●, got %v", rec.titles)
	}
	if len(rec.tooltips) != 1 || rec.tooltips[0] != "vox-repeater v1.0.0 - Listening (Capture)" {
		t.Errorf("Unexpected tooltip %v", rec.tooltips)
	}
	if len(rec.lines) != 1 || rec.lines[0] != "Listening, threshold 2500, 2/10 frames active" {
		t.Errorf("Unexpected status line %v", rec.lines)
	}
}

func TestFormatTitle(t *testing.T) {
	tests := []struct {
		name     string
		status   repeater.Status
		expected string
	}{
		{"uninitialized", repeater.Status{State: "Idle", BusMode: "Uninitialized"}, "VOX ○"},
		{"calibrating", repeater.Status{State: "Calibrating", BusMode: "Capture"}, "VOX ~"},
		{"listening", repeater.Status{State: "Listening", BusMode: "Capture"}, "VOX ●"},
		{"repeating", repeater.Status{State: "Repeating", BusMode: "Playback"}, "VOX ▶"},
		{"stopped", repeater.Status{State: "Stopped", BusMode: "Uninitialized"}, "VOX ○"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatTitle(tt.status); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestFormatStatusLine(t *testing.T) {
	got := formatStatusLine(repeater.Status{State: "Calibrating"})
	if got != "Calibrating, not calibrated" {
		t.Errorf("Unexpected status line %q", got)
	}
}

func TestFormatTooltipWithoutVersion(t *testing.T) {
	got := formatTooltip(repeater.Status{State: "Stopped", BusMode: "Uninitialized"}, "")
	if got != "vox-repeater - Stopped (Uninitialized)" {
		t.Errorf("Unexpected tooltip %q", got)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	manager, rec := newTestManager(Config{})
	manager.ready = true

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Update(repeater.Status{State: "Repeating", BusMode: "Playback"})
			manager.Update(repeater.Status{State: "Listening", BusMode: "Capture"})
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.titles) != 20 {
		t.Errorf("Expected 20 renders, got %d", len(rec.titles))
	}
}
