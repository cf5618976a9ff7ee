package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/tofcam/internal/calibration"
	"github.com/banshee-data/tofcam/internal/frame"
)

// DefaultConfigPath is the path to the example pipeline configuration
// shipped with the repository.
const DefaultConfigPath = "config/tofcam.defaults.json"

// Defaults used when a field is omitted.
const (
	DefaultFPS            = 19
	DefaultReadTimeout    = 500 * time.Millisecond
	DefaultCommandTimeout = 2 * time.Second
	DefaultQueueCapacity  = 64
	DefaultHorizontalFOV  = 70.0
	DefaultVerticalFOV    = 60.0
)

// PipelineConfig is the root configuration for an acquisition pipeline.
// Every field is optional; the Get* methods supply defaults.
type PipelineConfig struct {
	Source      SourceConfig      `json:"source"`
	Queue       QueueConfig       `json:"queue"`
	Calibration CalibrationConfig `json:"calibration"`

	// RecordDir, when set, captures every frame to a log in this directory.
	RecordDir *string `json:"record_dir,omitempty"`
	// Listen is the debug HTTP address, e.g. "localhost:8080".
	Listen *string `json:"listen,omitempty"`
}

// SourceConfig selects and tunes the frame source. At most one of Port,
// LogFile and Simulate may be set; none selects a live sensor found by USB
// identifiers.
type SourceConfig struct {
	Port     *string `json:"port,omitempty"`
	LogFile  *string `json:"log_file,omitempty"`
	Simulate *bool   `json:"simulate,omitempty"`

	// Replay pace in frames per second; 0 replays as fast as possible.
	ReadingFPS *int `json:"reading_fps,omitempty"`

	BaudRate       *int    `json:"baud_rate,omitempty"`
	ReadTimeout    *string `json:"read_timeout,omitempty"`    // duration string like "500ms"
	CommandTimeout *string `json:"command_timeout,omitempty"` // duration string like "2s"

	Device DeviceConfig `json:"device"`
}

// DeviceConfig is the sensor configuration applied after connecting.
type DeviceConfig struct {
	Binning          *string `json:"binning,omitempty"` // "100x100", "50x50" or "25x25"
	FPS              *int    `json:"fps,omitempty"`
	QuantizationUnit *int    `json:"quantization_unit,omitempty"`
	AntiMMI          *bool   `json:"anti_mmi,omitempty"`
	AutoExposure     *bool   `json:"auto_exposure,omitempty"`
	ISP              *bool   `json:"isp,omitempty"`
	DisplayLcd       *bool   `json:"display_lcd,omitempty"`
	DisplayUsb       *bool   `json:"display_usb,omitempty"`
	DisplayUart      *bool   `json:"display_uart,omitempty"`
}

// QueueConfig tunes the dispatch queue.
type QueueConfig struct {
	Capacity *int `json:"capacity,omitempty"`
}

// CalibrationConfig holds the projection parameters.
type CalibrationConfig struct {
	HorizontalFOV *float64 `json:"horizontal_fov_deg,omitempty"`
	VerticalFOV   *float64 `json:"vertical_fov_deg,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to their defaults, so
// partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up to the repository root. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. An out-of-range
// quantization unit is not an error: it is replaced by 0 in place, with a
// single warning, so every consumer sees the same effective unit.
func (c *PipelineConfig) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if c.Queue.Capacity != nil && *c.Queue.Capacity < 0 {
		return fmt.Errorf("queue capacity must be non-negative, got %d", *c.Queue.Capacity)
	}
	for name, fov := range map[string]*float64{
		"horizontal_fov_deg": c.Calibration.HorizontalFOV,
		"vertical_fov_deg":   c.Calibration.VerticalFOV,
	} {
		if fov != nil && (*fov <= 0 || *fov >= 180) {
			return fmt.Errorf("%s must be between 0 and 180, got %f", name, *fov)
		}
	}
	return nil
}

// Validate checks the source selection and its parameters.
func (s *SourceConfig) Validate() error {
	selected := 0
	if s.Port != nil && *s.Port != "" {
		selected++
	}
	if s.LogFile != nil && *s.LogFile != "" {
		selected++
	}
	if s.GetSimulate() {
		selected++
	}
	if selected > 1 {
		return errors.New("only one of port, log_file and simulate may be set")
	}

	if s.ReadingFPS != nil && *s.ReadingFPS < 0 {
		return fmt.Errorf("reading_fps must be non-negative, got %d", *s.ReadingFPS)
	}
	if s.BaudRate != nil && *s.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be non-negative, got %d", *s.BaudRate)
	}
	for name, v := range map[string]*string{
		"read_timeout":    s.ReadTimeout,
		"command_timeout": s.CommandTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}
	return s.Device.Validate()
}

// Validate checks the device parameters that cannot be coerced and coerces
// the quantization unit.
func (d *DeviceConfig) Validate() error {
	if d.QuantizationUnit != nil {
		// written through the pointer so copies of the config agree
		*d.QuantizationUnit = calibration.ValidQuantizationUnit(*d.QuantizationUnit)
	}
	if d.Binning != nil {
		if _, err := frame.ParseBinning(*d.Binning); err != nil {
			return err
		}
	}
	if d.FPS != nil && *d.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", *d.FPS)
	}
	return nil
}

// GetPort returns the serial device path, or "" to auto-detect.
func (s *SourceConfig) GetPort() string {
	if s.Port == nil {
		return ""
	}
	return *s.Port
}

// GetLogFile returns the replay path, or "" for a live source.
func (s *SourceConfig) GetLogFile() string {
	if s.LogFile == nil {
		return ""
	}
	return *s.LogFile
}

// GetSimulate reports whether the in-memory simulated sensor is selected.
func (s *SourceConfig) GetSimulate() bool {
	if s.Simulate == nil {
		return false
	}
	return *s.Simulate
}

// GetReadingFPS returns the replay pace, 0 meaning as fast as possible.
func (s *SourceConfig) GetReadingFPS() int {
	if s.ReadingFPS == nil {
		return 0
	}
	return *s.ReadingFPS
}

// GetBaudRate returns the configured baud rate, 0 meaning the port default.
func (s *SourceConfig) GetBaudRate() int {
	if s.BaudRate == nil {
		return 0
	}
	return *s.BaudRate
}

// GetReadTimeout parses and returns the ReadTimeout as a time.Duration.
func (s *SourceConfig) GetReadTimeout() time.Duration {
	return parseDurationOr(s.ReadTimeout, DefaultReadTimeout)
}

// GetCommandTimeout parses and returns the CommandTimeout as a time.Duration.
func (s *SourceConfig) GetCommandTimeout() time.Duration {
	return parseDurationOr(s.CommandTimeout, DefaultCommandTimeout)
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetBinning returns the binning mode, 100x100 by default.
func (d *DeviceConfig) GetBinning() frame.Binning {
	if d.Binning == nil {
		return frame.Binning100x100
	}
	b, err := frame.ParseBinning(*d.Binning)
	if err != nil {
		return frame.Binning100x100
	}
	return b
}

// GetFPS returns the device frame rate.
func (d *DeviceConfig) GetFPS() int {
	if d.FPS == nil {
		return DefaultFPS
	}
	return *d.FPS
}

// GetQuantizationUnit returns the quantization unit, 0 by default. After
// Validate it is always in [0,9].
func (d *DeviceConfig) GetQuantizationUnit() int {
	if d.QuantizationUnit == nil {
		return 0
	}
	return *d.QuantizationUnit
}

// GetAntiMMI returns the anti-interference flag, off by default.
func (d *DeviceConfig) GetAntiMMI() bool { return boolOr(d.AntiMMI, false) }

// GetAutoExposure returns the auto exposure flag, on by default.
func (d *DeviceConfig) GetAutoExposure() bool { return boolOr(d.AutoExposure, true) }

// GetISP returns the ISP flag, on by default.
func (d *DeviceConfig) GetISP() bool { return boolOr(d.ISP, true) }

// GetDisplayLcd returns the LCD routing flag, off by default.
func (d *DeviceConfig) GetDisplayLcd() bool { return boolOr(d.DisplayLcd, false) }

// GetDisplayUsb returns the USB routing flag, on by default.
func (d *DeviceConfig) GetDisplayUsb() bool { return boolOr(d.DisplayUsb, true) }

// GetDisplayUart returns the UART routing flag, off by default.
func (d *DeviceConfig) GetDisplayUart() bool { return boolOr(d.DisplayUart, false) }

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetCapacity returns the queue capacity, 0 meaning unbounded.
func (q *QueueConfig) GetCapacity() int {
	if q.Capacity == nil {
		return DefaultQueueCapacity
	}
	return *q.Capacity
}

// GetHorizontalFOV returns the horizontal field of view in degrees.
func (c *CalibrationConfig) GetHorizontalFOV() float64 {
	if c.HorizontalFOV == nil {
		return DefaultHorizontalFOV
	}
	return *c.HorizontalFOV
}

// GetVerticalFOV returns the vertical field of view in degrees.
func (c *CalibrationConfig) GetVerticalFOV() float64 {
	if c.VerticalFOV == nil {
		return DefaultVerticalFOV
	}
	return *c.VerticalFOV
}

// GetRecordDir returns the recording directory, "" when not recording.
func (c *PipelineConfig) GetRecordDir() string {
	if c.RecordDir == nil {
		return ""
	}
	return *c.RecordDir
}

// GetListen returns the debug listen address, "" when disabled.
func (c *PipelineConfig) GetListen() string {
	if c.Listen == nil {
		return ""
	}
	return *c.Listen
}
