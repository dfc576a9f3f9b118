package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/yok-tottii/vox-repeater/internal/bus"
	"github.com/yok-tottii/vox-repeater/internal/repeater"
)

// Manager manages the system tray icon and menu. The title shows the bus
// mode and the tooltip the full repeater status.
type Manager struct {
	mu      sync.Mutex
	status  repeater.Status
	ready   bool
	hotkey  string // display form of the recalibration hotkey, may be empty
	version string

	onReadyCallback func()
	onRecalibrate   func()
	onQuit          func()

	menuStatus      *systray.MenuItem
	menuRecalibrate *systray.MenuItem
	menuQuit        *systray.MenuItem

	// systray setters, replaced in tests
	setTitle   func(string)
	setTooltip func(string)
	setStatus  func(string)
}

// Config holds tray manager configuration
type Config struct {
	Hotkey        string // e.g. "Ctrl+Shift+R"; shown next to the menu item
	Version       string
	OnReady       func() // Called when systray is ready for initialization
	OnRecalibrate func()
	OnQuit        func()
}

// NewManager creates a new tray manager
func NewManager(config Config) *Manager {
	m := &Manager{
		status: repeater.Status{
			State:   repeater.Idle.String(),
			BusMode: bus.Uninitialized.String(),
		},
		hotkey:          config.Hotkey,
		version:         config.Version,
		onReadyCallback: config.OnReady,
		onRecalibrate:   config.OnRecalibrate,
		onQuit:          config.OnQuit,
		setTitle:        systray.SetTitle,
		setTooltip:      systray.SetTooltip,
	}
	m.setStatus = func(text string) {
		if m.menuStatus != nil {
			m.menuStatus.SetTitle(text)
		}
	}
	return m
}

// Run starts the system tray (blocking call)
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

// onReady is called when systray is ready
func (m *Manager) onReady() {
	systray.SetIcon(trayIcon)

	m.menuStatus = systray.AddMenuItem("", "Repeater status")
	m.menuStatus.Disable()

	systray.AddSeparator()

	label := "Recalibrate"
	if m.hotkey != "" {
		label = fmt.Sprintf("Recalibrate (%s)", m.hotkey)
	}
	m.menuRecalibrate = systray.AddMenuItem(label, "Measure the room noise floor again")
	m.menuQuit = systray.AddMenuItem("Quit", "Quit the repeater")

	m.mu.Lock()
	m.ready = true
	m.render()
	m.mu.Unlock()

	go m.handleMenuEvents()

	if m.onReadyCallback != nil {
		m.onReadyCallback()
	}
}

// onExit is called when systray is exiting
func (m *Manager) onExit() {
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
}

// handleMenuEvents handles menu item clicks
func (m *Manager) handleMenuEvents() {
	for {
		select {
		case <-m.menuRecalibrate.ClickedCh:
			if m.onRecalibrate != nil {
				m.onRecalibrate()
			}
		case <-m.menuQuit.ClickedCh:
			if m.onQuit != nil {
				m.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

// Update shows a new repeater status. It may be called from any goroutine,
// before or after the tray is ready.
func (m *Manager) Update(status repeater.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	if m.ready {
		m.render()
	}
}

// Status returns the last status passed to Update
func (m *Manager) Status() repeater.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// render pushes the current status to the tray. Callers hold m.mu.
func (m *Manager) render() {
	m.setTitle(formatTitle(m.status))
	m.setTooltip(formatTooltip(m.status, m.version))
	m.setStatus(formatStatusLine(m.status))
}

// Quit quits the system tray
func (m *Manager) Quit() {
	systray.Quit()
}

// formatTitle returns the short text shown next to the icon
func formatTitle(s repeater.Status) string {
	switch s.BusMode {
	case bus.CaptureMode.String():
		if s.State == repeater.Calibrating.String() {
			return "VOX ~"
		}
		return "VOX ●"
	case bus.PlaybackMode.String():
		return "VOX ▶"
	default:
		return "VOX ○"
	}
}

func formatTooltip(s repeater.Status, version string) string {
	name := "vox-repeater"
	if version != "" {
		name += " " + version
	}
	return fmt.Sprintf("%s - %s (%s)", name, s.State, s.BusMode)
}

func formatStatusLine(s repeater.Status) string {
	if !s.Calibrated {
		return fmt.Sprintf("%s, not calibrated", s.State)
	}
	return fmt.Sprintf("%s, threshold %d, %d/%d frames active", s.State, s.Threshold, s.ActiveFrames, s.Frames)
}

// trayIcon is a 16x16 placeholder PNG
var trayIcon = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
	0x61, 0x00, 0x00, 0x00, 0x19, 0x74, 0x45, 0x58,
	0x74, 0x53, 0x6f, 0x66, 0x74, 0x77, 0x61, 0x72,
	0x65, 0x00, 0x41, 0x64, 0x6f, 0x62, 0x65, 0x20,
	0x49, 0x6d, 0x61, 0x67, 0x65, 0x52, 0x65, 0x61,
	0x64, 0x79, 0x71, 0xc9, 0x65, 0x3c, 0x00, 0x00,
	0x00, 0x18, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda,
	0x62, 0xfc, 0xff, 0xff, 0x3f, 0x03, 0x00, 0x00,
	0x00, 0xff, 0xff, 0x03, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60,
	0x82,
}
