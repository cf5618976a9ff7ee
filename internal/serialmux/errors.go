package serialmux

import (
	"errors"
	"fmt"
)

var (
	// ErrWriteFailed is returned when the port accepts fewer bytes than a
	// command holds.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrPortClosed means the channel to the device is gone for good.
	ErrPortClosed = errors.New("serial port closed")
	// ErrCommandRejected is returned when the device answers ERROR.
	ErrCommandRejected = errors.New("command rejected by device")
	// ErrCommandTimeout is returned when no acknowledgement arrives in time.
	ErrCommandTimeout = errors.New("timed out waiting for acknowledgement")
)

// ConnectionError reports that the transport could not be opened.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to open %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a fault on an open channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
