package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yok-tottii/vox-repeater/internal/bus"
	"github.com/yok-tottii/vox-repeater/internal/config"
	"github.com/yok-tottii/vox-repeater/internal/repeater"
)

// Repeater is the part of the repeater the API drives
type Repeater interface {
	Status() repeater.Status
	Recalibrate()
}

// DeviceLister lists the audio devices the bus can use
type DeviceLister interface {
	ListDevices() ([]bus.Device, error)
}

// Handler manages API endpoints
type Handler struct {
	config   *config.Config
	repeater Repeater
	devices  DeviceLister
}

// New creates a new API handler
func New(cfg *config.Config, r Repeater) *Handler {
	return &Handler{
		config:   cfg,
		repeater: r,
	}
}

// SetDeviceLister sets the device source for /api/devices.
// This is called once the bus driver is initialized in main.go
func (h *Handler) SetDeviceLister(d DeviceLister) {
	h.devices = d
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/recalibrate", h.handleRecalibrate)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/devices", h.handleDevices)
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.repeater.Status())
}

// handleRecalibrate handles POST /api/recalibrate
func (h *Handler) handleRecalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.repeater.Recalibrate()

	// The pass runs on the loop goroutine before its next frame.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// handleSettings handles GET /api/settings. The configuration is fixed for
// the lifetime of the process, so it is read-only here.
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.config)
}

// Device represents an audio device
type Device struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
	InUse   bool   `json:"in_use"`
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := []Device{}
	if h.devices != nil {
		busDevices, err := h.devices.ListDevices()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list audio devices: %v", err), http.StatusInternalServerError)
			return
		}
		for _, dev := range busDevices {
			devices = append(devices, Device{
				ID:      dev.ID,
				Name:    dev.Name,
				Inputs:  dev.Inputs,
				Outputs: dev.Outputs,
				InUse:   h.inUse(dev),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
	})
}

// inUse reports whether dev is the configured capture device
func (h *Handler) inUse(dev bus.Device) bool {
	if h.config.Audio.DeviceID < 0 {
		return dev.IsDefaultInput
	}
	return dev.ID == h.config.Audio.DeviceID
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
