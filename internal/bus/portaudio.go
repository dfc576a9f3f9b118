package bus

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device represents a host audio device
type Device struct {
	ID              int
	Name            string
	Inputs          int
	Outputs         int
	IsDefaultInput  bool
	IsDefaultOutput bool
}

// PortAudioDriver implements Driver on a desktop sound card using
// PortAudio blocking streams. Capture installs an input stream and
// playback an output stream, so the one-direction-at-a-time rule of the
// board carries over unchanged. A host has no pin mux: pin numbers are
// validated and recorded only.
type PortAudioDriver struct {
	mu       sync.Mutex
	deviceID int // -1 selects the system default

	stream    *portaudio.Stream
	chunk     []int16 // one DMA buffer worth of samples, bound to the stream
	pending   []int16 // captured samples not yet handed to Read
	cfg       DriverConfig
	pins      PinConfig
	installed bool
	started   bool
}

// NewPortAudioDriver initializes PortAudio and returns a driver for
// deviceID (-1 for the system default device)
func NewPortAudioDriver(deviceID int) (*PortAudioDriver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &PortAudioDriver{deviceID: deviceID}, nil
}

// ListDevices returns the host audio devices
func (d *PortAudioDriver) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultIn, _ := portaudio.DefaultInputDevice()
	defaultOut, _ := portaudio.DefaultOutputDevice()

	result := make([]Device, 0, len(devices))
	for i, dev := range devices {
		result = append(result, Device{
			ID:              i,
			Name:            dev.Name,
			Inputs:          dev.MaxInputChannels,
			Outputs:         dev.MaxOutputChannels,
			IsDefaultInput:  defaultIn != nil && dev.Name == defaultIn.Name,
			IsDefaultOutput: defaultOut != nil && dev.Name == defaultOut.Name,
		})
	}

	return result, nil
}

// device resolves the configured device for one direction
func (d *PortAudioDriver) device(rx bool) (*portaudio.DeviceInfo, error) {
	if d.deviceID == -1 {
		if rx {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if d.deviceID < 0 || d.deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", d.deviceID)
	}
	return devices[d.deviceID], nil
}

// Install implements Driver
func (d *PortAudioDriver) Install(cfg DriverConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.installed {
		return ErrAlreadyInstalled
	}

	rx, tx := cfg.Role.Has(RoleRX), cfg.Role.Has(RoleTX)
	if rx == tx {
		return fmt.Errorf("role must select exactly one of RX and TX, got %b", cfg.Role)
	}
	if cfg.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bits per sample: %d", cfg.BitsPerSample)
	}
	if cfg.DMABufLen <= 0 || cfg.Channels <= 0 {
		return fmt.Errorf("invalid buffer geometry: %d frames x %d channels", cfg.DMABufLen, cfg.Channels)
	}

	device, err := d.device(rx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	params := portaudio.StreamParameters{
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.DMABufLen,
	}
	if rx {
		if device.MaxInputChannels < cfg.Channels {
			return fmt.Errorf("device '%s' has %d input channels, need %d", device.Name, device.MaxInputChannels, cfg.Channels)
		}
		params.Input = portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		}
	} else {
		if device.MaxOutputChannels < cfg.Channels {
			return fmt.Errorf("device '%s' has %d output channels, need %d", device.Name, device.MaxOutputChannels, cfg.Channels)
		}
		params.Output = portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowOutputLatency,
		}
	}

	chunk := make([]int16, cfg.DMABufLen*cfg.Channels)
	stream, err := portaudio.OpenStream(params, chunk)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	d.stream = stream
	d.chunk = chunk
	d.pending = nil
	d.cfg = cfg
	d.installed = true
	return nil
}

// Uninstall implements Driver
func (d *PortAudioDriver) Uninstall() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.uninstall()
}

func (d *PortAudioDriver) uninstall() error {
	if !d.installed {
		return ErrNotInstalled
	}

	var stopErr error
	if d.started {
		stopErr = d.stream.Stop()
		d.started = false
	}
	closeErr := d.stream.Close()

	d.stream = nil
	d.chunk = nil
	d.pending = nil
	d.installed = false

	if stopErr != nil {
		return fmt.Errorf("failed to stop stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close stream: %w", closeErr)
	}
	return nil
}

// SetPin implements Driver
func (d *PortAudioDriver) SetPin(pins PinConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed {
		return ErrNotInstalled
	}
	if pins.BCK < 0 || pins.WS < 0 || pins.DataOut < 0 || pins.DataIn < 0 || pins.MCK < 0 {
		return fmt.Errorf("invalid pin assignment: %+v", pins)
	}
	d.pins = pins
	return nil
}

// SetClock implements Driver. The stream rate is fixed when it is opened,
// so the clock must match the installed configuration. Setting the clock
// starts the stream.
func (d *PortAudioDriver) SetClock(sampleRate, bitsPerSample, channels int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed {
		return ErrNotInstalled
	}
	if sampleRate != d.cfg.SampleRate || bitsPerSample != d.cfg.BitsPerSample || channels != d.cfg.Channels {
		return fmt.Errorf("clock %d Hz/%d bit/%d ch does not match installed %d Hz/%d bit/%d ch",
			sampleRate, bitsPerSample, channels, d.cfg.SampleRate, d.cfg.BitsPerSample, d.cfg.Channels)
	}

	if !d.started {
		if err := d.stream.Start(); err != nil {
			return fmt.Errorf("failed to start stream: %w", err)
		}
		d.started = true
	}
	return nil
}

// Read implements Driver. It blocks until buf is full.
func (d *PortAudioDriver) Read(buf []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed || !d.started {
		return 0, ErrNotInstalled
	}
	if !d.cfg.Role.Has(RoleRX) {
		return 0, fmt.Errorf("read on a transmit stream")
	}

	off := copy(buf, d.pending)
	d.pending = d.pending[off:]

	for off < len(buf) {
		// An overflow only means samples were dropped; keep reading.
		if err := d.stream.Read(); err != nil && err != portaudio.InputOverflowed {
			return off, fmt.Errorf("failed to read stream: %w", err)
		}
		n := copy(buf[off:], d.chunk)
		off += n
		if n < len(d.chunk) {
			d.pending = append(d.pending[:0], d.chunk[n:]...)
		}
	}

	return off, nil
}

// Write implements Driver. A trailing partial buffer is zero padded when
// TxDescAutoClear is set so stale samples are never replayed.
func (d *PortAudioDriver) Write(buf []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed || !d.started {
		return 0, ErrNotInstalled
	}
	if !d.cfg.Role.Has(RoleTX) {
		return 0, fmt.Errorf("write on a receive stream")
	}

	off := 0
	for off < len(buf) {
		n := copy(d.chunk, buf[off:])
		if n < len(d.chunk) && d.cfg.TxDescAutoClear {
			clear(d.chunk[n:])
		}
		if err := d.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return off, fmt.Errorf("failed to write stream: %w", err)
		}
		off += n
	}

	return off, nil
}

// Close uninstalls any open stream and terminates PortAudio
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.installed {
		if err := d.uninstall(); err != nil {
			return err
		}
	}

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}
