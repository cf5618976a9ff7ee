// Package source selects the frame producer for a pipeline: a live sensor,
// a simulated sensor, or the replay of a recorded capture. All three share
// the Source contract so the rest of the pipeline never needs to know which
// one it has.
package source

import (
	"context"
	"fmt"

	"github.com/banshee-data/tofcam/internal/a010"
	"github.com/banshee-data/tofcam/internal/config"
	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/logreader"
	"github.com/banshee-data/tofcam/internal/queue"
	"github.com/banshee-data/tofcam/internal/serialmux"
)

// Source produces frames into a strategy.
type Source interface {
	// Initialise opens the underlying device or file. It must succeed
	// before frames flow.
	Initialise(ctx context.Context) error
	// SetStrategy selects what happens to each frame.
	SetStrategy(queue.Strategy)
	// Run blocks until the source is exhausted, fails or ctx ends.
	Run(ctx context.Context) error
	// Close releases the source. It is safe to call more than once.
	Close() error
}

// Puller is implemented by sources that can also be read synchronously.
type Puller interface {
	NextImage() (frame.Frame, bool)
}

// Kind names the selected producer.
type Kind string

const (
	KindLive      Kind = "live"
	KindSimulated Kind = "simulated"
	KindReplay    Kind = "replay"
)

// KindOf reports which producer cfg selects.
func KindOf(cfg config.SourceConfig) Kind {
	switch {
	case cfg.GetLogFile() != "":
		return KindReplay
	case cfg.GetSimulate():
		return KindSimulated
	default:
		return KindLive
	}
}

// New builds the source selected by cfg. Nothing is opened until
// Initialise.
func New(cfg config.SourceConfig) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source configuration: %w", err)
	}

	switch KindOf(cfg) {
	case KindReplay:
		return logreader.NewReader(cfg.GetLogFile(), logreader.WithReadingSpeedFPS(cfg.GetReadingFPS())), nil
	case KindSimulated:
		sim := serialmux.NewSimulatedSensor()
		return newLive("simulator", cfg, a010.WithOpener(sim.Opener())), nil
	default:
		return newLive(cfg.GetPort(), cfg), nil
	}
}

// Live is a sensor source: a driver plus the configuration applied to the
// device once connected.
type Live struct {
	*a010.Driver
	device a010.DriverConfig
}

func newLive(path string, cfg config.SourceConfig, extra ...a010.Option) *Live {
	opts := []a010.Option{
		a010.WithPortOptions(serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}),
		a010.WithReadTimeout(cfg.GetReadTimeout()),
		a010.WithCommandTimeout(cfg.GetCommandTimeout()),
	}
	return &Live{
		Driver: a010.NewDriver(path, append(opts, extra...)...),
		device: DriverConfig(cfg.Device),
	}
}

// Initialise connects to the sensor and applies the device configuration.
// If configuring fails the connection is released again.
func (l *Live) Initialise(ctx context.Context) error {
	if err := l.Driver.Initialise(ctx); err != nil {
		return err
	}
	if err := l.Driver.Configure(ctx, l.device); err != nil {
		l.Driver.Terminate()
		return fmt.Errorf("failed to configure sensor: %w", err)
	}
	return nil
}

// DeviceConfig returns the configuration applied by Initialise.
func (l *Live) DeviceConfig() a010.DriverConfig { return l.device }

// DriverConfig converts the file configuration into a driver configuration,
// filling in defaults.
func DriverConfig(d config.DeviceConfig) a010.DriverConfig {
	return a010.DriverConfig{
		ISP:              d.GetISP(),
		DisplayLcd:       d.GetDisplayLcd(),
		DisplayUsb:       d.GetDisplayUsb(),
		DisplayUart:      d.GetDisplayUart(),
		Binning:          d.GetBinning(),
		FPS:              d.GetFPS(),
		QuantizationUnit: d.GetQuantizationUnit(),
		AntiMMI:          d.GetAntiMMI(),
		AutoExposure:     d.GetAutoExposure(),
	}
}
