package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yok-tottii/vox-repeater/internal/bus"
	"github.com/yok-tottii/vox-repeater/internal/config"
	"github.com/yok-tottii/vox-repeater/internal/repeater"
)

type fakeRepeater struct {
	status       repeater.Status
	recalibrated int
}

func (f *fakeRepeater) Status() repeater.Status { return f.status }
func (f *fakeRepeater) Recalibrate()            { f.recalibrated++ }

type fakeDevices struct {
	devices []bus.Device
	err     error
}

func (f fakeDevices) ListDevices() ([]bus.Device, error) { return f.devices, f.err }

func newTestHandler() (*Handler, *fakeRepeater, *http.ServeMux) {
	rep := &fakeRepeater{
		status: repeater.Status{
			State:        "Listening",
			BusMode:      "Capture",
			Threshold:    2500,
			Calibrated:   true,
			Frames:       42,
			ActiveFrames: 3,
		},
	}
	handler := New(config.DefaultConfig(), rep)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return handler, rep, mux
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig()
	handler := New(cfg, &fakeRepeater{})

	if handler == nil {
		t.Fatal("Expected handler to be created")
	}

	if handler.config != cfg {
		t.Error("Expected config to be set")
	}

	if handler.devices != nil {
		t.Error("Expected no device lister initially")
	}
}

func TestGetStatus(t *testing.T) {
	_, rep, mux := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var response repeater.Status
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response != rep.status {
		t.Errorf("Expected %+v, got %+v", rep.status, response)
	}
}

func TestRecalibrate(t *testing.T) {
	_, rep, mux := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/recalibrate", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}

	if rep.recalibrated != 1 {
		t.Errorf("Expected 1 recalibration request, got %d", rep.recalibrated)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, rep, mux := newTestHandler()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodGet, "/api/recalibrate"},
		{http.MethodPut, "/api/settings"},
		{http.MethodDelete, "/api/devices"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected status 405, got %d", w.Code)
			}
		})
	}

	if rep.recalibrated != 0 {
		t.Errorf("Expected no recalibration, got %d", rep.recalibrated)
	}
}

func TestGetSettings(t *testing.T) {
	handler, _, mux := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response config.Config
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response.Audio.SampleRate != handler.config.Audio.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", handler.config.Audio.SampleRate, response.Audio.SampleRate)
	}
	if response.Detector.MinThreshold != 2500 {
		t.Errorf("Expected min threshold 2500, got %d", response.Detector.MinThreshold)
	}
}

func TestGetDevices(t *testing.T) {
	tests := []struct {
		name     string
		deviceID int
		lister   DeviceLister
		code     int
		expected []Device
	}{
		{
			name:     "no lister",
			deviceID: -1,
			code:     http.StatusOK,
			expected: []Device{},
		},
		{
			name:     "system default",
			deviceID: -1,
			lister: fakeDevices{devices: []bus.Device{
				{ID: 0, Name: "Built-in Microphone", Inputs: 1, IsDefaultInput: true},
				{ID: 1, Name: "Built-in Output", Outputs: 2, IsDefaultOutput: true},
			}},
			code: http.StatusOK,
			expected: []Device{
				{ID: 0, Name: "Built-in Microphone", Inputs: 1, InUse: true},
				{ID: 1, Name: "Built-in Output", Outputs: 2},
			},
		},
		{
			name:     "explicit device",
			deviceID: 1,
			lister: fakeDevices{devices: []bus.Device{
				{ID: 0, Name: "Built-in Microphone", Inputs: 1, IsDefaultInput: true},
				{ID: 1, Name: "USB Headset", Inputs: 1, Outputs: 2},
			}},
			code: http.StatusOK,
			expected: []Device{
				{ID: 0, Name: "Built-in Microphone", Inputs: 1},
				{ID: 1, Name: "USB Headset", Inputs: 1, Outputs: 2, InUse: true},
			},
		},
		{
			name:     "lister error",
			deviceID: -1,
			lister:   fakeDevices{err: errors.New("host api gone")},
			code:     http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, mux := newTestHandler()
			handler.config.Audio.DeviceID = tt.deviceID
			if tt.lister != nil {
				handler.SetDeviceLister(tt.lister)
			}

			req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.code {
				t.Fatalf("Expected status %d, got %d", tt.code, w.Code)
			}
			if tt.code != http.StatusOK {
				return
			}

			var response struct {
				Devices []Device `json:"devices"`
			}
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if len(response.Devices) != len(tt.expected) {
				t.Fatalf("Expected %d devices, got %d", len(tt.expected), len(response.Devices))
			}
			for i := range tt.expected {
				if response.Devices[i] != tt.expected[i] {
					t.Errorf("Device %d: expected %+v, got %+v", i, tt.expected[i], response.Devices[i])
				}
			}
		})
	}
}
