package serialmux

import (
	"fmt"
	"slices"

	"go.bug.st/serial"
)

// DefaultBaudRate is the factory UART speed of the MaixSense-A010. Over USB
// CDC the device ignores it, but the driver still needs one.
const DefaultBaudRate = 115200

// baudRates are the speeds the sensor's UART can be switched to.
var baudRates = []int{9600, 57600, 115200, 230400, 460800, 921600, 1000000, 2000000, 3000000}

// PortOptions are the serial line parameters. The sensor always frames
// bytes as 8N1, so only the speed is configurable.
type PortOptions struct {
	BaudRate int `json:"baud_rate"`
}

// Normalise fills in the default speed and rejects one the sensor cannot
// run at.
func (o PortOptions) Normalise() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if !slices.Contains(baudRates, o.BaudRate) {
		return o, fmt.Errorf("unsupported baud rate %d: expected one of %v", o.BaudRate, baudRates)
	}
	return o, nil
}

// SerialMode returns the go.bug.st/serial mode for opening the port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}
