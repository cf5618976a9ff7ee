package serialmux

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// USB identifiers of the CH340/CH9102 bridge on the MaixSense-A010 board.
const VendorID = "1A86"

var ProductIDs = []string{"7523", "55D4"}

// ErrNoDevice is returned by FindDevicePort when no sensor is attached.
var ErrNoDevice = errors.New("no MaixSense-A010 serial device found")

// OpenSerialPort opens a real serial port with go.bug.st/serial.
func OpenSerialPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return NewSerialMuxFromOpener(OpenSerialPort, path, opts)
}

// NewSerialMuxFromOpener opens path with open and wraps the port. Failures
// are reported as *ConnectionError.
func NewSerialMuxFromOpener(open SerialPortOpener, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	if path == "" {
		return nil, &ConnectionError{Path: "<unset>", Err: errors.New("no device path given")}
	}
	port, err := open(path, opts)
	if err != nil {
		return nil, &ConnectionError{Path: path, Err: err}
	}
	return NewSerialMux(port), nil
}

// FindDevicePort returns the first attached serial device whose USB
// identifiers match the sensor's bridge chip.
func FindDevicePort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return matchDevicePort(ports)
}

func matchDevicePort(ports []*enumerator.PortDetails) (string, error) {
	for _, port := range ports {
		if port.IsUSB && strings.EqualFold(port.VID, VendorID) &&
			slices.ContainsFunc(ProductIDs, func(pid string) bool { return strings.EqualFold(pid, port.PID) }) {
			return port.Name, nil
		}
	}
	return "", ErrNoDevice
}
