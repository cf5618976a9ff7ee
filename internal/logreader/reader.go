// Package logreader replays a recorded MaixSense-A010 capture: a file of
// frame packets in wire framing, read back in order at a chosen pace.
package logreader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/protocol"
	"github.com/banshee-data/tofcam/internal/queue"
	"github.com/banshee-data/tofcam/internal/timeutil"
)

// ErrFileNotFound is returned by Initialise when the log does not exist.
var ErrFileNotFound = errors.New("log file not found")

const readChunkSize = 32 * 1024

// Stats counts what the reader has produced.
type Stats struct {
	Records uint64
	Skipped uint64
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock replaces the clock used for pacing.
func WithClock(c timeutil.Clock) Option {
	return func(r *Reader) { r.clock = c }
}

// WithReadingSpeedFPS sets the initial replay rate; see SetReadingSpeedFPS.
func WithReadingSpeedFPS(fps int) Option {
	return func(r *Reader) { r.SetReadingSpeedFPS(fps) }
}

// Reader replays frames from a capture file. It can be pulled with
// NextImage or drive a queue.Strategy with Run, not both at once.
type Reader struct {
	path  string
	clock timeutil.Clock

	mu       sync.Mutex
	period   time.Duration
	file     *os.File
	src      *bufio.Reader
	chunk    []byte
	decoder  protocol.Decoder
	ready    []frame.Frame
	eof      bool
	ended    bool
	closed   bool
	last     time.Time
	strategy queue.Strategy
	stats    Stats
}

// NewReader creates a reader for the capture at path. Nothing is opened
// until Initialise. The default pace is as fast as frames can be decoded.
func NewReader(path string, opts ...Option) *Reader {
	r := &Reader{
		path:  path,
		clock: timeutil.RealClock{},
	}
	r.decoder.OnPacket = r.onPacket
	r.decoder.OnDrop = r.onDrop
	r.decoder.OnLine = func(line string) {
		monitoring.Debugf("[logreader] ignoring text in capture: %q", line)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialise opens the capture. A missing file is reported as
// ErrFileNotFound. Calling it again after success is a no-op.
func (r *Reader) Initialise(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil || r.closed {
		return nil
	}
	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, r.path)
	}
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", r.path, err)
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return fmt.Errorf("failed to open log %s: is a directory", r.path)
	}
	r.file = f
	r.src = bufio.NewReaderSize(f, readChunkSize)
	r.chunk = make([]byte, readChunkSize)
	log.Printf("[logreader] replaying %s", r.path)
	return nil
}

// SetStrategy selects where Run delivers frames.
func (r *Reader) SetStrategy(s queue.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = s
}

// SetReadingSpeedFPS paces replay at fps frames per second. fps <= 0
// removes pacing.
func (r *Reader) SetReadingSpeedFPS(fps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fps <= 0 {
		r.period = 0
		return
	}
	r.period = time.Second / time.Duration(fps)
}

// SetReadingSpeedMaximum removes pacing: frames are returned as fast as
// they can be decoded.
func (r *Reader) SetReadingSpeedMaximum() {
	r.SetReadingSpeedFPS(0)
}

// NextImage returns the next frame in the capture, waiting first if needed
// to hold the configured pace. It returns false at the end of the capture
// and on every call after that, and before Initialise or after Close.
func (r *Reader) NextImage() (frame.Frame, bool) {
	return r.nextImage(context.Background())
}

func (r *Reader) nextImage(ctx context.Context) (frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ended || r.file == nil {
		return frame.Frame{}, false
	}
	if !r.fill() {
		r.ended = true
		log.Printf("[logreader] end of %s after %d frames (%d skipped)", r.path, r.stats.Records, r.stats.Skipped)
		return frame.Frame{}, false
	}
	// the frame stays queued if ctx ends while pacing
	if !r.pace(ctx) {
		return frame.Frame{}, false
	}
	f := r.ready[0]
	r.ready[0] = frame.Frame{}
	r.ready = r.ready[1:]
	r.stats.Records++
	return f, true
}

// pace waits max(0, period - time since the last delivery). It reports
// false if ctx ended first.
func (r *Reader) pace(ctx context.Context) bool {
	if r.period > 0 && !r.last.IsZero() {
		if wait := r.period - r.clock.Since(r.last); wait > 0 {
			monitoring.Debugf("[logreader] pacing %v", wait)
			select {
			case <-r.clock.After(wait):
			case <-ctx.Done():
				return false
			}
		}
	}
	r.last = r.clock.Now()
	return true
}

// fill decodes until a frame is ready, reporting false at the end of the
// capture.
func (r *Reader) fill() bool {
	for len(r.ready) == 0 {
		if r.eof {
			return false
		}
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.decoder.Feed(r.chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[logreader] read error on %s, ending replay: %v", r.path, err)
			}
			r.eof = true
			// a truncated final record is dropped
			r.decoder.Reset()
		}
	}
	return true
}

func (r *Reader) onPacket(p protocol.Packet) {
	f, err := p.Frame()
	if err != nil {
		r.onDrop(err)
		return
	}
	r.ready = append(r.ready, f)
}

func (r *Reader) onDrop(err error) {
	r.stats.Skipped++
	monitoring.Debugf("[logreader] skipping record: %v", err)
}

// Run pushes every remaining frame into the strategy until the capture ends
// or ctx is cancelled. Reaching the end is not an error.
func (r *Reader) Run(ctx context.Context) error {
	r.mu.Lock()
	s := r.strategy
	open := r.file != nil
	r.mu.Unlock()
	if !open {
		return fmt.Errorf("logreader: %s is not open", r.path)
	}

	for ctx.Err() == nil {
		f, ok := r.nextImage(ctx)
		if !ok {
			return nil
		}
		if s != nil {
			s.OnFrame(f)
		}
	}
	return nil
}

// Stats returns the replay counters.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close releases the file. It is safe to call more than once; after Close
// NextImage returns false.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.ended = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.src = nil
	r.ready = nil
	return err
}
