package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the repeater configuration.
// A loaded Config is treated as immutable: components copy the sections
// they need at construction time.
type Config struct {
	Audio       AudioConfig       `yaml:"audio" json:"audio"`
	Pins        PinConfig         `yaml:"pins" json:"pins"`
	Detector    DetectorConfig    `yaml:"detector" json:"detector"`
	Repeater    RepeaterConfig    `yaml:"repeater" json:"repeater"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Hotkey      HotkeyConfig      `yaml:"hotkey" json:"hotkey"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" json:"diagnostics"`
}

// AudioConfig holds the shared audio bus settings
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate" json:"sample_rate"`
	BitsPerSample int `yaml:"bits_per_sample" json:"bits_per_sample"`
	Channels      int `yaml:"channels" json:"channels"`
	BufferBytes   int `yaml:"buffer_bytes" json:"buffer_bytes"` // bytes per frame; samples = BufferBytes / 2
	DMABufCount   int `yaml:"dma_buf_count" json:"dma_buf_count"`
	DMABufLen     int `yaml:"dma_buf_len" json:"dma_buf_len"`
	DeviceID      int `yaml:"device_id" json:"device_id"` // -1 means system default (host builds only)
}

// PinConfig holds the bus pin assignment
type PinConfig struct {
	BCK     int `yaml:"bck" json:"bck"`
	WS      int `yaml:"ws" json:"ws"`
	DataOut int `yaml:"data_out" json:"data_out"`
	DataIn  int `yaml:"data_in" json:"data_in"`
	MCK     int `yaml:"mck" json:"mck"`
}

// DetectorConfig holds the voice activity detector constants
type DetectorConfig struct {
	Gain             int `yaml:"gain" json:"gain"`
	Multiplier       int `yaml:"multiplier" json:"multiplier"`
	MinThreshold     int `yaml:"min_threshold" json:"min_threshold"`
	CalibrationSkip  int `yaml:"calibration_skip" json:"calibration_skip"`
	DetectionSkip    int `yaml:"detection_skip" json:"detection_skip"`
	MinActiveSamples int `yaml:"min_active_samples" json:"min_active_samples"`
}

// RepeaterConfig holds control loop settings
type RepeaterConfig struct {
	CalibrationFrames int `yaml:"calibration_frames" json:"calibration_frames"`
	MaxModeRetries    int `yaml:"max_mode_retries" json:"max_mode_retries"`
	RetryDelayMs      int `yaml:"retry_delay_ms" json:"retry_delay_ms"`
}

// ServerConfig holds the local status server settings
type ServerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}

// HotkeyConfig holds the recalibration hotkey settings
type HotkeyConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Ctrl    bool   `yaml:"ctrl" json:"ctrl"`
	Shift   bool   `yaml:"shift" json:"shift"`
	Key     string `yaml:"key" json:"key"` // single letter, e.g. "R"
}

// DiagnosticsConfig toggles the serial-style diagnostic output
type DiagnosticsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Tray    bool `yaml:"tray" json:"tray"`
}

// DefaultConfig returns the default configuration.
// Values match the reference board: 16kHz mono 16-bit PDM microphone,
// six 60-sample DMA buffers, pins 19/33/22/23.
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:    16000,
			BitsPerSample: 16,
			Channels:      1,
			BufferBytes:   1024,
			DMABufCount:   6,
			DMABufLen:     60,
			DeviceID:      -1,
		},
		Pins: PinConfig{
			BCK:     19,
			WS:      33,
			DataOut: 22,
			DataIn:  23,
			MCK:     0,
		},
		Detector: DetectorConfig{
			Gain:             1,
			Multiplier:       2,
			MinThreshold:     2500,
			CalibrationSkip:  10,
			DetectionSkip:    5,
			MinActiveSamples: 5,
		},
		Repeater: RepeaterConfig{
			CalibrationFrames: 1,
			MaxModeRetries:    3,
			RetryDelayMs:      100,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    18766,
		},
		Hotkey: HotkeyConfig{
			Enabled: true,
			Ctrl:    true,
			Shift:   true,
			Key:     "R",
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			Tray:    true,
		},
	}
}

// FrameSamples returns the number of 16-bit samples in one frame
func (c *Config) FrameSamples() int {
	return c.Audio.BufferBytes / 2
}

// Load loads configuration from the specified path.
// Fields missing from the file keep their default values. JSON files are
// accepted since JSON is valid YAML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

// Save saves configuration to the specified path as YAML
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "vox-repeater", "config.yaml")
}

// Validate validates all configuration fields.
// Skip offsets larger than the frame are allowed: the detector treats
// them as an empty scan range.
func (c *Config) Validate() error {
	a := c.Audio
	if a.SampleRate <= 0 {
		return fmt.Errorf("invalid sample_rate: %d (must be positive)", a.SampleRate)
	}
	if a.BitsPerSample != 16 {
		return fmt.Errorf("invalid bits_per_sample: %d (only 16 is supported)", a.BitsPerSample)
	}
	if a.Channels != 1 {
		return fmt.Errorf("invalid channels: %d (only mono is supported)", a.Channels)
	}
	if a.BufferBytes <= 0 || a.BufferBytes%2 != 0 {
		return fmt.Errorf("invalid buffer_bytes: %d (must be a positive even number)", a.BufferBytes)
	}
	if a.DMABufCount < 2 || a.DMABufCount > 128 {
		return fmt.Errorf("invalid dma_buf_count: %d (must be between 2 and 128)", a.DMABufCount)
	}
	if a.DMABufLen < 8 || a.DMABufLen > 1024 {
		return fmt.Errorf("invalid dma_buf_len: %d (must be between 8 and 1024)", a.DMABufLen)
	}

	p := c.Pins
	for name, pin := range map[string]int{"bck": p.BCK, "ws": p.WS, "data_out": p.DataOut, "data_in": p.DataIn, "mck": p.MCK} {
		if pin < 0 {
			return fmt.Errorf("invalid %s pin: %d", name, pin)
		}
	}

	d := c.Detector
	if d.Gain == 0 {
		return fmt.Errorf("gain cannot be zero")
	}
	if d.Multiplier < 1 {
		return fmt.Errorf("invalid multiplier: %d (must be at least 1)", d.Multiplier)
	}
	if d.MinThreshold < 0 {
		return fmt.Errorf("invalid min_threshold: %d (must not be negative)", d.MinThreshold)
	}
	if d.CalibrationSkip < 0 || d.DetectionSkip < 0 {
		return fmt.Errorf("skip offsets must not be negative")
	}
	if d.MinActiveSamples < 0 {
		return fmt.Errorf("invalid min_active_samples: %d", d.MinActiveSamples)
	}

	r := c.Repeater
	if r.CalibrationFrames < 1 {
		return fmt.Errorf("invalid calibration_frames: %d (must be at least 1)", r.CalibrationFrames)
	}
	if r.MaxModeRetries < 0 || r.RetryDelayMs < 0 {
		return fmt.Errorf("retry settings must not be negative")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Hotkey.Enabled {
		key := strings.ToUpper(c.Hotkey.Key)
		if len(key) != 1 || key[0] < 'A' || key[0] > 'Z' {
			return fmt.Errorf("invalid hotkey key: %q (must be a single letter)", c.Hotkey.Key)
		}
	}

	return nil
}
