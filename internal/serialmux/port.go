package serialmux

import (
	"io"
	"time"
)

// SerialPorter is the byte stream to the sensor. go.bug.st ports, the
// simulator and the test port all satisfy it.
type SerialPorter interface {
	io.ReadWriteCloser
}

// TimeoutSerialPorter is a port whose reads can be bounded. A read that
// times out returns 0 bytes and no error, which Monitor uses to notice a
// stalled packet.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortOpener opens the port at path. Drivers take one so tests and the
// simulator can stand in for hardware.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
