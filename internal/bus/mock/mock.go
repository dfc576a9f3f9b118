package mock

import (
	"sync"

	"github.com/yok-tottii/vox-repeater/internal/bus"
)

// Op names a driver method
type Op string

const (
	OpInstall   Op = "install"
	OpUninstall Op = "uninstall"
	OpSetPin    Op = "set_pin"
	OpSetClock  Op = "set_clock"
	OpRead      Op = "read"
	OpWrite     Op = "write"
)

// Call is one recorded driver call
type Call struct {
	Op     Op
	Config bus.DriverConfig // set for OpInstall
	Err    error
}

// Driver is a mock implementation of [bus.Driver]. It records every call
// in order and is safe for concurrent use.
type Driver struct {
	mu sync.Mutex

	// InstallError, SetPinError and SetClockError make the matching step fail.
	InstallError  error
	SetPinError   error
	SetClockError error
	ReadError     error
	WriteError    error

	// Frames are returned by Read in order. Once drained Read returns
	// silence and calls OnDrained.
	Frames    [][]int16
	OnDrained func()

	// Written holds a copy of every buffer passed to Write.
	Written [][]int16

	// Calls records every call in order.
	Calls []Call

	installed bool
	current   bus.DriverConfig
	pins      bus.PinConfig
}

func (d *Driver) record(op Op, cfg bus.DriverConfig, err error) error {
	d.Calls = append(d.Calls, Call{Op: op, Config: cfg, Err: err})
	return err
}

// Install implements [bus.Driver]
func (d *Driver) Install(cfg bus.DriverConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.installed {
		return d.record(OpInstall, cfg, bus.ErrAlreadyInstalled)
	}
	if d.InstallError != nil {
		return d.record(OpInstall, cfg, d.InstallError)
	}
	d.installed = true
	d.current = cfg
	return d.record(OpInstall, cfg, nil)
}

// Uninstall implements [bus.Driver]. Like the hardware driver it fails when
// nothing is installed.
func (d *Driver) Uninstall() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed {
		return d.record(OpUninstall, bus.DriverConfig{}, bus.ErrNotInstalled)
	}
	d.installed = false
	d.current = bus.DriverConfig{}
	return d.record(OpUninstall, bus.DriverConfig{}, nil)
}

// SetPin implements [bus.Driver]
func (d *Driver) SetPin(pins bus.PinConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed {
		return d.record(OpSetPin, bus.DriverConfig{}, bus.ErrNotInstalled)
	}
	if d.SetPinError != nil {
		return d.record(OpSetPin, bus.DriverConfig{}, d.SetPinError)
	}
	d.pins = pins
	return d.record(OpSetPin, bus.DriverConfig{}, nil)
}

// SetClock implements [bus.Driver]
func (d *Driver) SetClock(sampleRate, bitsPerSample, channels int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed {
		return d.record(OpSetClock, bus.DriverConfig{}, bus.ErrNotInstalled)
	}
	return d.record(OpSetClock, bus.DriverConfig{}, d.SetClockError)
}

// Read implements [bus.Driver]
func (d *Driver) Read(buf []int16) (int, error) {
	d.mu.Lock()

	if d.ReadError != nil {
		err := d.record(OpRead, bus.DriverConfig{}, d.ReadError)
		d.mu.Unlock()
		return 0, err
	}
	d.record(OpRead, bus.DriverConfig{}, nil)

	if len(d.Frames) > 0 {
		n := copy(buf, d.Frames[0])
		d.Frames = d.Frames[1:]
		d.mu.Unlock()
		return n, nil
	}

	clear(buf)
	onDrained := d.OnDrained
	d.mu.Unlock()

	if onDrained != nil {
		onDrained()
	}
	return len(buf), nil
}

// Write implements [bus.Driver]
func (d *Driver) Write(buf []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.WriteError != nil {
		return 0, d.record(OpWrite, bus.DriverConfig{}, d.WriteError)
	}
	d.Written = append(d.Written, append([]int16(nil), buf...))
	return len(buf), d.record(OpWrite, bus.DriverConfig{}, nil)
}

// Installed returns the installed configuration, if any
func (d *Driver) Installed() (bus.DriverConfig, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.installed
}

// Pins returns the last pin assignment applied
func (d *Driver) Pins() bus.PinConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pins
}

// Ops returns the recorded operation names in order
func (d *Driver) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	ops := make([]Op, len(d.Calls))
	for i, c := range d.Calls {
		ops[i] = c.Op
	}
	return ops
}

// WrittenFrames returns a copy of the written buffers
func (d *Driver) WrittenFrames() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]int16(nil), d.Written...)
}
