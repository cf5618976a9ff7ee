// Package recorder writes received frames to a capture file that the
// logreader package can replay, with a JSON sidecar describing the session.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/protocol"
	"github.com/banshee-data/tofcam/internal/timeutil"
)

// FileName returns the capture name for a session started at t, for
// example maixSenseA010_20240131_142501_100x100.log.
func FileName(t time.Time, b frame.Binning) string {
	return fmt.Sprintf("maixSenseA010_%s_%s.log", t.Format("20060102_150405"), b)
}

// Session is the sidecar metadata stored next to each capture.
type Session struct {
	ID         uuid.UUID  `json:"id"`
	Device     string     `json:"device,omitempty"`
	Resolution string     `json:"resolution"`
	LogFile    string     `json:"log_file"`
	Started    time.Time  `json:"started"`
	Stopped    *time.Time `json:"stopped,omitempty"`
	Frames     uint64     `json:"frames"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces the clock used for the file name and timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// Recorder is a queue.Consumer that appends every frame to a capture file
// in wire framing. Write failures stop the recording; they are logged and
// returned by Close.
type Recorder struct {
	clock   timeutil.Clock
	path    string
	sidecar string

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	session Session
	nextID  uint16
	err     error
	closed  bool
}

// New creates dir if needed and starts a capture in it. device is recorded
// in the sidecar only.
func New(dir string, b frame.Binning, device string, opts ...Option) (*Recorder, error) {
	r := &Recorder{clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	started := r.clock.Now()
	r.path = filepath.Join(dir, FileName(started, b))
	r.sidecar = strings.TrimSuffix(r.path, ".log") + ".json"

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	r.file = f
	r.w = bufio.NewWriter(f)
	r.session = Session{
		ID:         uuid.New(),
		Device:     device,
		Resolution: b.String(),
		LogFile:    filepath.Base(r.path),
		Started:    started,
	}
	if err := r.writeSidecar(); err != nil {
		f.Close()
		os.Remove(r.path)
		return nil, err
	}
	log.Printf("[recorder] recording session %s to %s", r.session.ID, r.path)
	return r, nil
}

// Path returns the capture file path.
func (r *Recorder) Path() string { return r.path }

// SidecarPath returns the JSON sidecar path.
func (r *Recorder) SidecarPath() string { return r.sidecar }

// Session returns a copy of the current session metadata.
func (r *Recorder) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// ConsumeImage appends f to the capture.
func (r *Recorder) ConsumeImage(f frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	if _, err := r.w.Write(protocol.EncodePacket(protocol.PacketFromFrame(f, r.nextID))); err != nil {
		r.err = fmt.Errorf("failed to write frame %d: %w", r.session.Frames, err)
		log.Printf("[recorder] %v; recording stopped", r.err)
		return
	}
	r.nextID++
	r.session.Frames++
}

func (r *Recorder) writeSidecar() error {
	data, err := json.MarshalIndent(r.session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(r.sidecar, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write session sidecar: %w", err)
	}
	return nil
}

// Close flushes and closes the capture and finalises the sidecar. It is
// safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.err
	if ferr := r.w.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("failed to flush capture: %w", ferr)
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close capture: %w", cerr)
	}
	stopped := r.clock.Now()
	r.session.Stopped = &stopped
	if serr := r.writeSidecar(); serr != nil && err == nil {
		err = serr
	}
	log.Printf("[recorder] session %s closed after %d frames", r.session.ID, r.session.Frames)
	return err
}

// ReadSession loads a sidecar written by a Recorder.
func ReadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	return s, nil
}
