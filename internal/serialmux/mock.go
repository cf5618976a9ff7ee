package serialmux

import (
	"bytes"
	"sync"
	"time"
)

// TestableSerialPort is an in-memory TimeoutSerialPorter. Tests queue
// bytes for the mux to read, inspect what it wrote, inject one-shot faults,
// and can let Responder play the sensor's side of the AT exchange.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	ReadBuffer  *bytes.Buffer // bytes the next Reads return
	WriteBuffer *bytes.Buffer // everything written

	// Responder sees every successful write; its reply is queued for reading.
	Responder func(written []byte) []byte

	ReadLatency time.Duration
	BlockReads  bool // an empty buffer blocks instead of timing out
	ReadTimeout time.Duration

	// One-shot faults, cleared once returned.
	ReadError  error
	WriteError error
	ShortWrite bool

	CloseError error
	Closed     bool

	ReadCalls, WriteCalls, CloseCalls int
}

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// AckAll is a Responder that acknowledges every command with OK.
func AckAll(written []byte) []byte {
	return bytes.Repeat([]byte("OK\r\n"), bytes.Count(written, []byte("\r")))
}

// RejectAll is a Responder that answers every command with ERROR.
func RejectAll(written []byte) []byte {
	return bytes.Repeat([]byte("ERROR\r\n"), bytes.Count(written, []byte("\r")))
}

// takeReadError returns and clears the pending read fault. t.mu is held.
func (t *TestableSerialPort) takeReadError() error {
	err := t.ReadError
	t.ReadError = nil
	return err
}

// Read drains ReadBuffer. Without BlockReads an empty buffer acts like an
// expired read timeout: 0 bytes and no error.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}
	if err := t.takeReadError(); err != nil {
		return 0, err
	}
	if t.ReadLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.ReadLatency)
		t.mu.Lock()
	}

	if t.ReadBuffer.Len() == 0 && !t.BlockReads {
		t.mu.Unlock()
		time.Sleep(time.Millisecond)
		t.mu.Lock()
		return 0, nil
	}
	for !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, ErrPortClosed
	}
	if err := t.takeReadError(); err != nil {
		return 0, err
	}
	return t.ReadBuffer.Read(p)
}

// Write records p and lets Responder answer it.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}

	if t.ShortWrite {
		t.ShortWrite = false
		return t.WriteBuffer.Write(p[:len(p)-1])
	}

	n, err = t.WriteBuffer.Write(p)
	if t.Responder != nil {
		if reply := t.Responder(p); len(reply) > 0 {
			t.ReadBuffer.Write(reply)
			t.readCond.Broadcast()
		}
	}
	return n, err
}

// Close marks the port closed and wakes blocked readers. Every call
// returns CloseError.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.CloseCalls++
	t.readCond.Broadcast()
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues bytes as if the sensor had sent them.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// SetReadError makes the next Read fail with err.
func (t *TestableSerialPort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns a copy of everything written so far.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.WriteBuffer.Bytes())
}

// IsClosed reports whether Close has been called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// Opener returns a SerialPortOpener that always hands out t.
func (t *TestableSerialPort) Opener() SerialPortOpener {
	return func(string, PortOptions) (SerialPorter, error) { return t, nil }
}
