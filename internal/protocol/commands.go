// Package protocol encodes MaixSense-A010 AT configuration commands and
// decodes the binary frame packets the sensor streams back over the same
// serial channel.
package protocol

import (
	"fmt"
	"strings"

	"github.com/banshee-data/tofcam/internal/frame"
)

// Command is a single AT command understood by the sensor.
type Command struct {
	Name  string
	Value string
}

// Attention is the bare "AT" command used to check the link is alive.
var Attention = Command{}

func (c Command) String() string {
	if c.Name == "" {
		return "AT"
	}
	return fmt.Sprintf("AT+%s=%s", c.Name, c.Value)
}

// Encode returns the bytes written to the wire, terminated by a carriage
// return.
func (c Command) Encode() []byte {
	return []byte(c.String() + "\r")
}

// Display routing bits for the DISP command.
const (
	DisplayLcd  = 1 << 0
	DisplayUsb  = 1 << 1
	DisplayUart = 1 << 2
)

// Limits accepted by the device.
const (
	MaxQuantizationUnit = 9
	MinFPS              = 1
	MaxFPS              = 19
)

func boolValue(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// ImageSignalProcessor toggles the on-board ISP.
func ImageSignalProcessor(on bool) Command {
	return Command{Name: "ISP", Value: boolValue(on)}
}

// Display sets the output routing mask (DisplayLcd|DisplayUsb|DisplayUart).
func Display(mask int) Command {
	return Command{Name: "DISP", Value: fmt.Sprintf("%d", mask&(DisplayLcd|DisplayUsb|DisplayUart))}
}

// Binning selects 1x1, 2x2 or 4x4 sensor binning.
func Binning(b frame.Binning) Command {
	v := 1
	switch b {
	case frame.Binning50x50:
		v = 2
	case frame.Binning25x25:
		v = 4
	}
	return Command{Name: "BINN", Value: fmt.Sprintf("%d", v)}
}

// FPS sets the streaming frame rate.
func FPS(fps int) Command {
	return Command{Name: "FPS", Value: fmt.Sprintf("%d", fps)}
}

// QuantizationUnit sets the depth quantization unit, 0 for the nonlinear
// response curve or 1..9 millimetres per step.
func QuantizationUnit(unit int) Command {
	return Command{Name: "UNIT", Value: fmt.Sprintf("%d", unit)}
}

// AntiMultiMachineInterference enables or disables cross-talk mitigation
// between neighbouring sensors.
func AntiMultiMachineInterference(on bool) Command {
	if on {
		return Command{Name: "ANTIMMI", Value: "0"}
	}
	return Command{Name: "ANTIMMI", Value: "-1"}
}

// AutoExposure enables automatic exposure time.
func AutoExposure() Command {
	return Command{Name: "AE", Value: "1"}
}

// Acknowledgement lines sent by the device after a command.
const (
	ResponseOK    = "OK"
	ResponseError = "ERROR"
)

// ParseCommand parses the textual form "AT" or "AT+NAME=VALUE". It is used
// by the debug console to forward hand-typed commands.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "AT") {
		return Attention, nil
	}
	rest, ok := strings.CutPrefix(strings.ToUpper(s), "AT+")
	if !ok {
		return Command{}, fmt.Errorf("command %q must start with AT+", s)
	}
	name, value, ok := strings.Cut(rest, "=")
	if !ok || name == "" || value == "" {
		return Command{}, fmt.Errorf("command %q must have the form AT+NAME=VALUE", s)
	}
	return Command{Name: name, Value: value}, nil
}
