// Serialmux multiplexes the MaixSense-A010 serial port: AT commands are
// written one at a time and wait for the device's acknowledgement, while
// the frame packets streamed back on the same channel are decoded and handed
// to a packet handler. Text lines can also be tailed by any number of
// subscribers.
package serialmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/protocol"
)

const (
	// DefaultReadTimeout bounds every read so a stalled device surfaces as
	// a dropped frame rather than a hung producer.
	DefaultReadTimeout = 500 * time.Millisecond
	// DefaultCommandTimeout bounds the wait for OK/ERROR after a command.
	DefaultCommandTimeout = 2 * time.Second

	maxConsecutiveReadErrors = 10
	readBufferSize           = 4096
	subscriberBuffer         = 16
)

// PacketHandler receives decoded frame packets on the Monitor goroutine.
type PacketHandler func(protocol.Packet)

// CommandHook observes a command sent from the debug console, with the
// outcome of sending it.
type CommandHook func(protocol.Command, error)

// Stats counts traffic through a SerialMux.
type Stats struct {
	Packets    uint64 `json:"packets"`
	Dropped    uint64 `json:"dropped"`
	Lines      uint64 `json:"lines"`
	ReadErrors uint64 `json:"read_errors"`
	Commands   uint64 `json:"commands"`
}

// SerialMux is a generic serial port multiplexer for the sensor's mixed
// text/binary stream.
type SerialMux[T SerialPorter] struct {
	port    T
	decoder protocol.Decoder

	handler   PacketHandler
	hook      CommandHook
	handlerMu sync.RWMutex

	subscribers  map[string]chan string
	subscriberMu sync.Mutex

	commandMu sync.Mutex
	responses chan string

	closing   bool
	closingMu sync.Mutex

	readTimeout    time.Duration
	commandTimeout time.Duration

	packets    atomic.Uint64
	dropped    atomic.Uint64
	lines      atomic.Uint64
	readErrors atomic.Uint64
	commands   atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving text lines from the
	// serial port. The channel ID is used to identify the unique channel
	// when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the command and waits for the device to
	// acknowledge it.
	SendCommand(context.Context, protocol.Command) error
	// SetPacketHandler installs the receiver for decoded frame packets.
	SetPacketHandler(PacketHandler)
	// SetCommandHook installs the observer for console commands.
	SetCommandHook(CommandHook)
	// Monitor reads the serial port until it fails, is closed, or ctx ends.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Stats returns the traffic counters.
	Stats() Stats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	s := &SerialMux[T]{
		port:           port,
		subscribers:    make(map[string]chan string),
		responses:      make(chan string, 8),
		readTimeout:    DefaultReadTimeout,
		commandTimeout: DefaultCommandTimeout,
	}
	s.decoder.OnPacket = s.onPacket
	s.decoder.OnLine = s.onLine
	s.decoder.OnDrop = s.onDrop
	return s
}

// SetReadTimeout changes the per-read timeout. Call before Monitor.
func (s *SerialMux[T]) SetReadTimeout(d time.Duration) { s.readTimeout = d }

// SetCommandTimeout changes the acknowledgement timeout. Call before the
// first command.
func (s *SerialMux[T]) SetCommandTimeout(d time.Duration) { s.commandTimeout = d }

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) SetPacketHandler(h PacketHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

// SetCommandHook installs the observer for console commands, so the owner
// of the device state can follow changes it did not make.
func (s *SerialMux[T]) SetCommandHook(h CommandHook) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.hook = h
}

func (s *SerialMux[T]) commandHook() CommandHook {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.hook
}

// SendCommand writes cmd to the serial port and waits for OK. Commands are
// serialised so each acknowledgement is matched with its command. Monitor
// must be running for the acknowledgement to be seen.
func (s *SerialMux[T]) SendCommand(ctx context.Context, cmd protocol.Command) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	op := "send " + cmd.String()
	if s.isClosing() {
		return &TransportError{Op: op, Err: ErrPortClosed}
	}

	// discard acknowledgements nobody waited for
	for drained := false; !drained; {
		select {
		case <-s.responses:
		default:
			drained = true
		}
	}

	data := cmd.Encode()
	n, err := s.port.Write(data)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if n != len(data) {
		return &TransportError{Op: op, Err: ErrWriteFailed}
	}
	s.commands.Add(1)

	timer := time.NewTimer(s.commandTimeout)
	defer timer.Stop()
	select {
	case line := <-s.responses:
		if ClassifyResponse(line) == ResponseError {
			return &TransportError{Op: op, Err: ErrCommandRejected}
		}
		return nil
	case <-timer.C:
		return &TransportError{Op: op, Err: ErrCommandTimeout}
	case <-ctx.Done():
		return &TransportError{Op: op, Err: ctx.Err()}
	}
}

// Monitor reads the serial port, decoding packets and response lines, until
// ctx is cancelled, the mux is closed, or the channel fails. A read that
// times out or faults drops any partially received frame and carries on.
// A Read blocked inside a port without timeouts only returns once Close is
// called.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if tp, ok := any(s.port).(TimeoutSerialPorter); ok && s.readTimeout > 0 {
		if err := tp.SetReadTimeout(s.readTimeout); err != nil {
			log.Printf("[serialmux] failed to set read timeout: %v", err)
		}
	}

	buf := make([]byte, readBufferSize)
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.isClosing() {
			return nil
		}

		n, err := s.port.Read(buf)
		if n > 0 {
			consecutive = 0
			s.decoder.Feed(buf[:n])
		}

		switch {
		case err != nil:
			if s.isClosing() {
				return nil
			}
			if isClosedErr(err) {
				s.decoder.Reset()
				return &TransportError{Op: "read", Err: fmt.Errorf("%w: %v", ErrPortClosed, err)}
			}
			s.readErrors.Add(1)
			s.decoder.Reset()
			consecutive++
			if consecutive >= maxConsecutiveReadErrors {
				return &TransportError{Op: "read", Err: fmt.Errorf("%w: %d consecutive read errors, last: %v", ErrPortClosed, consecutive, err)}
			}
			log.Printf("[serialmux] read error, dropping partial frame: %v", err)
		case n == 0 && s.decoder.Pending():
			// the read timed out part way through a packet
			s.decoder.Reset()
		}
	}
}

func isClosedErr(err error) bool {
	if errors.Is(err, ErrPortClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortClosed
}

func (s *SerialMux[T]) onPacket(p protocol.Packet) {
	s.packets.Add(1)
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h != nil {
		h(p)
	}
}

func (s *SerialMux[T]) onDrop(err error) {
	s.dropped.Add(1)
	monitoring.Debugf("[serialmux] %v", err)
}

func (s *SerialMux[T]) onLine(line string) {
	s.lines.Add(1)
	if ClassifyResponse(line) != ResponseInfo {
		select {
		case s.responses <- line:
		default:
		}
	}

	s.subscriberMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full/blocking skip so as not to block the reader
		}
	}
	s.subscriberMu.Unlock()
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Stats returns the traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Packets:    s.packets.Load(),
		Dropped:    s.dropped.Load(),
		Lines:      s.lines.Load(),
		ReadErrors: s.readErrors.Load(),
		Commands:   s.commands.Load(),
	}
}

// Close closes subscriber channels and the port. Only the first call closes
// the port; later calls return nil.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
