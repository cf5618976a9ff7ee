package serialmux

import (
	"bytes"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/protocol"
)

// SimulatedSensor is an in-memory MaixSense-A010 used when no hardware is
// attached. It acknowledges AT commands, honours ISP, BINN and FPS, and
// streams a moving depth ramp once the ISP is switched on.
type SimulatedSensor struct {
	mu      sync.Mutex
	pending bytes.Buffer
	closed  bool

	streaming   bool
	binning     frame.Binning
	period      time.Duration
	next        time.Time
	frameID     uint16
	readTimeout time.Duration
}

// NewSimulatedSensor returns a simulator in the device's power-on state.
func NewSimulatedSensor() *SimulatedSensor {
	return &SimulatedSensor{
		binning: frame.Binning100x100,
		period:  time.Second / 10,
	}
}

// Opener returns a SerialPortOpener that hands out s regardless of path.
func (s *SimulatedSensor) Opener() SerialPortOpener {
	return func(string, PortOptions) (SerialPorter, error) { return s, nil }
}

// Write interprets every carriage-return terminated command in p.
func (s *SimulatedSensor) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrPortClosed
	}
	for _, raw := range bytes.Split(p, []byte("\r")) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if s.apply(string(raw)) {
			s.pending.WriteString(protocol.ResponseOK + "\r\n")
		} else {
			s.pending.WriteString(protocol.ResponseError + "\r\n")
		}
	}
	return len(p), nil
}

func (s *SimulatedSensor) apply(raw string) bool {
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		return false
	}
	if cmd == protocol.Attention {
		return true
	}
	v, err := strconv.Atoi(cmd.Value)
	if err != nil {
		return false
	}
	switch cmd.Name {
	case "ISP":
		s.streaming = v == 1
		s.next = time.Now()
	case "BINN":
		switch v {
		case 1:
			s.binning = frame.Binning100x100
		case 2:
			s.binning = frame.Binning50x50
		case 4:
			s.binning = frame.Binning25x25
		default:
			return false
		}
	case "FPS":
		if v < protocol.MinFPS || v > protocol.MaxFPS {
			return false
		}
		s.period = time.Second / time.Duration(v)
	case "UNIT":
		return v >= 0 && v <= protocol.MaxQuantizationUnit
	case "DISP", "ANTIMMI", "AE":
	default:
		return false
	}
	return true
}

// Read returns queued acknowledgements and frame packets. When nothing is
// due before the read timeout it returns 0 bytes and no error.
func (s *SimulatedSensor) Read(p []byte) (int, error) {
	s.mu.Lock()
	deadline := time.Time{}
	if s.readTimeout > 0 {
		deadline = time.Now().Add(s.readTimeout)
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, ErrPortClosed
		}
		now := time.Now()
		if s.streaming && !now.Before(s.next) {
			s.pending.Write(protocol.EncodePacket(s.nextPacket()))
			s.next = s.next.Add(s.period)
			if s.next.Before(now) {
				s.next = now.Add(s.period)
			}
		}
		if s.pending.Len() > 0 {
			n, err := s.pending.Read(p)
			s.mu.Unlock()
			return n, err
		}
		s.mu.Unlock()

		if !deadline.IsZero() && !now.Before(deadline) {
			return 0, nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *SimulatedSensor) nextPacket() protocol.Packet {
	n := s.binning.Size()
	pixels := make([]byte, n*n)
	for i := range n {
		for j := range n {
			// a ramp that drifts one step per frame, never 0 or 255
			pixels[i*n+j] = uint8(1 + (i+j+int(s.frameID))%254)
		}
	}
	s.frameID++
	return protocol.Packet{
		Metadata: protocol.Metadata{
			Rows:              uint8(n),
			Cols:              uint8(n),
			FrameID:           s.frameID,
			SensorTemperature: 40,
			DriverTemperature: 38,
			ExposureTime:      400,
		},
		Pixels: pixels,
	}
}

// SetReadTimeout implements TimeoutSerialPorter.
func (s *SimulatedSensor) SetReadTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = d
	return nil
}

// Close stops the simulator; later reads and writes fail.
func (s *SimulatedSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
