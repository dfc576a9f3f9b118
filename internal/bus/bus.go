package bus

import (
	"errors"
	"fmt"
)

// Mode is the direction the bus is configured for
type Mode int

const (
	// Uninitialized means no driver is installed
	Uninitialized Mode = iota
	// CaptureMode means the bus receives from the microphone
	CaptureMode
	// PlaybackMode means the bus transmits to the speaker
	PlaybackMode
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case Uninitialized:
		return "Uninitialized"
	case CaptureMode:
		return "Capture"
	case PlaybackMode:
		return "Playback"
	default:
		return "Unknown"
	}
}

// Role is a set of driver role flags
type Role uint8

const (
	RoleMaster Role = 1 << iota
	RoleRX
	RoleTX
	RolePDM
)

// Has reports whether all flags in r2 are set in r
func (r Role) Has(r2 Role) bool {
	return r&r2 == r2
}

// CommFormat is the serial data format on the bus
type CommFormat int

const (
	// CommFormatStandard is standard I2S, two's-complement PCM
	CommFormatStandard CommFormat = iota
)

// ChannelFormat selects which slot carries the mono signal
type ChannelFormat int

const (
	ChannelAllRight ChannelFormat = iota
)

// DriverConfig is the full configuration handed to Driver.Install
type DriverConfig struct {
	Role            Role
	SampleRate      int
	BitsPerSample   int
	Channels        int
	ChannelFormat   ChannelFormat
	CommFormat      CommFormat
	DMABufCount     int
	DMABufLen       int
	TxDescAutoClear bool // zero the transmit buffers once drained
	UseAPLL         bool
}

// PinConfig is the bus pin assignment
type PinConfig struct {
	BCK     int
	WS      int
	DataOut int
	DataIn  int
	MCK     int
}

// Driver is the peripheral boundary. Every method reports failure as an
// error; the Controller aggregates them.
type Driver interface {
	Install(cfg DriverConfig) error
	Uninstall() error
	SetPin(pins PinConfig) error
	SetClock(sampleRate, bitsPerSample, channels int) error
	// Read fills buf with captured samples and returns how many were read
	Read(buf []int16) (int, error)
	// Write transmits buf and returns how many samples were written
	Write(buf []int16) (int, error)
}

var (
	// ErrUninitialized is returned for I/O while no mode is active
	ErrUninitialized = errors.New("bus not initialized")
	// ErrWrongMode is returned for I/O in the wrong direction
	ErrWrongMode = errors.New("bus in wrong mode")
	// ErrNotInstalled is returned by drivers asked to act before Install
	ErrNotInstalled = errors.New("driver not installed")
	// ErrAlreadyInstalled is returned by drivers installed twice
	ErrAlreadyInstalled = errors.New("driver already installed")
)

// Config holds the fixed bus settings
type Config struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
	DMABufCount   int
	DMABufLen     int
	Pins          PinConfig
}

// DefaultConfig returns the default bus configuration
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		BitsPerSample: 16,
		Channels:      1,
		DMABufCount:   6,
		DMABufLen:     60,
		Pins: PinConfig{
			BCK:     19,
			WS:      33,
			DataOut: 22,
			DataIn:  23,
			MCK:     0,
		},
	}
}

// driverConfig builds the install configuration for a target mode
func (c Config) driverConfig(target Mode) DriverConfig {
	dc := DriverConfig{
		Role:          RoleMaster,
		SampleRate:    c.SampleRate,
		BitsPerSample: c.BitsPerSample,
		Channels:      c.Channels,
		ChannelFormat: ChannelAllRight,
		CommFormat:    CommFormatStandard,
		DMABufCount:   c.DMABufCount,
		DMABufLen:     c.DMABufLen,
	}

	switch target {
	case CaptureMode:
		dc.Role |= RoleRX | RolePDM
	case PlaybackMode:
		dc.Role |= RoleTX
		dc.UseAPLL = false
		dc.TxDescAutoClear = true
	}

	return dc
}

// Logger is the subset of the application logger the controller uses
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
}

// Controller switches the shared bus between capture and playback. It is
// the only holder of the Driver handle and changes roles with a full
// uninstall and reinstall.
type Controller struct {
	driver Driver
	cfg    Config
	mode   Mode
	log    Logger
}

// NewController creates a controller owning driver. The bus starts
// Uninitialized; nothing is installed until a mode is entered.
func NewController(driver Driver, cfg Config, log Logger) *Controller {
	return &Controller{
		driver: driver,
		cfg:    cfg,
		mode:   Uninitialized,
		log:    log,
	}
}

// Mode returns the current bus mode
func (c *Controller) Mode() Mode {
	return c.mode
}

// EnterCaptureMode reconfigures the bus for the microphone
func (c *Controller) EnterCaptureMode() error {
	return c.enter(CaptureMode)
}

// EnterSpeakerMode reconfigures the bus for the speaker
func (c *Controller) EnterSpeakerMode() error {
	return c.enter(PlaybackMode)
}

// enter tears the driver down and installs it for target.
// The teardown runs even when target is already the current mode.
func (c *Controller) enter(target Mode) error {
	c.teardown()

	var errs []error
	if err := c.driver.Install(c.cfg.driverConfig(target)); err != nil {
		errs = append(errs, fmt.Errorf("install: %w", err))
	}
	if err := c.driver.SetPin(c.cfg.Pins); err != nil {
		errs = append(errs, fmt.Errorf("set pin: %w", err))
	}
	if err := c.driver.SetClock(c.cfg.SampleRate, c.cfg.BitsPerSample, c.cfg.Channels); err != nil {
		errs = append(errs, fmt.Errorf("set clock: %w", err))
	}

	if len(errs) > 0 {
		// Drop whatever was half-installed.
		c.teardown()
		return fmt.Errorf("failed to enter %s mode: %w", target, errors.Join(errs...))
	}

	c.mode = target
	c.log.Debug("bus entered %s mode", target)
	return nil
}

// teardown uninstalls the driver. Uninstalling a driver that was never
// installed is reported by the peripheral as an error and is harmless,
// so the result is only logged.
func (c *Controller) teardown() {
	if err := c.driver.Uninstall(); err != nil && c.mode != Uninitialized {
		c.log.Warn("bus uninstall from %s mode failed: %v", c.mode, err)
	}
	c.mode = Uninitialized
}

// ReadFrame fills frame from the microphone. The bus must be in capture mode.
func (c *Controller) ReadFrame(frame []int16) (int, error) {
	if err := c.require(CaptureMode); err != nil {
		return 0, err
	}
	n, err := c.driver.Read(frame)
	if err != nil {
		return n, fmt.Errorf("failed to read frame: %w", err)
	}
	return n, nil
}

// WriteFrame sends frame to the speaker. The bus must be in playback mode.
func (c *Controller) WriteFrame(frame []int16) (int, error) {
	if err := c.require(PlaybackMode); err != nil {
		return 0, err
	}
	n, err := c.driver.Write(frame)
	if err != nil {
		return n, fmt.Errorf("failed to write frame: %w", err)
	}
	return n, nil
}

func (c *Controller) require(mode Mode) error {
	switch c.mode {
	case mode:
		return nil
	case Uninitialized:
		return ErrUninitialized
	default:
		return fmt.Errorf("%w: need %s, bus is in %s", ErrWrongMode, mode, c.mode)
	}
}

// Close uninstalls the driver and leaves the bus Uninitialized
func (c *Controller) Close() error {
	if c.mode == Uninitialized {
		return nil
	}
	c.mode = Uninitialized
	if err := c.driver.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall bus driver: %w", err)
	}
	return nil
}
