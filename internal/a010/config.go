package a010

import (
	"context"
	"fmt"

	"github.com/banshee-data/tofcam/internal/frame"
)

// DriverConfig is the complete device configuration applied by Configure.
type DriverConfig struct {
	ISP              bool
	DisplayLcd       bool
	DisplayUsb       bool
	DisplayUart      bool
	Binning          frame.Binning
	FPS              int
	QuantizationUnit int
	AntiMMI          bool
	AutoExposure     bool
}

// DefaultConfig streams full resolution frames over USB only, at the
// fastest rate the device supports, with the nonlinear depth curve.
func DefaultConfig() DriverConfig {
	return DriverConfig{
		ISP:          true,
		DisplayUsb:   true,
		Binning:      frame.Binning100x100,
		FPS:          MaxFPS,
		AutoExposure: true,
	}
}

// Configure applies cfg one setter at a time: ISP, display routing, binning,
// frame rate, quantization unit, anti-interference and exposure. It stops at
// the first setter that fails.
func (d *Driver) Configure(ctx context.Context, cfg DriverConfig) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"isp", func(ctx context.Context) error {
			if cfg.ISP {
				return d.SetImageSignalProcessorOn(ctx)
			}
			return d.SetImageSignalProcessorOff(ctx)
		}},
		{"lcd display", onOff(cfg.DisplayLcd, d.SetDisplayLcdOn, d.SetDisplayLcdOff)},
		{"usb display", onOff(cfg.DisplayUsb, d.SetDisplayUsbOn, d.SetDisplayUsbOff)},
		{"uart display", onOff(cfg.DisplayUart, d.SetDisplayUartOn, d.SetDisplayUartOff)},
		{"binning", func(ctx context.Context) error { return d.SetBinning(ctx, cfg.Binning) }},
		{"fps", func(ctx context.Context) error { return d.SetFPS(ctx, cfg.FPS) }},
		{"quantization unit", func(ctx context.Context) error { return d.SetQuantizationUnit(ctx, cfg.QuantizationUnit) }},
		{"anti-mmi", onOff(cfg.AntiMMI, d.SetAntiMultiMachineInterferenceOn, d.SetAntiMultiMachineInterferenceOff)},
	}
	if cfg.AutoExposure {
		steps = append(steps, struct {
			name string
			fn   func(context.Context) error
		}{"auto exposure", d.SetExposureTimeAutoOn})
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("failed to configure %s: %w", step.name, err)
		}
	}
	return nil
}

func onOff(on bool, setOn, setOff func(context.Context) error) func(context.Context) error {
	if on {
		return setOn
	}
	return setOff
}
