// Package testutil provides shared test fixtures: frames, encoded packets,
// recorded log files and a capturing diagnostic logger.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/protocol"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// FilledFrame returns a size x size frame with every pixel set to v.
func FilledFrame(t testing.TB, size int, v uint8) frame.Frame {
	t.Helper()
	f, err := frame.Filled(size, size, v)
	AssertNoError(t, err)
	return f
}

// RampFrame returns a rows x cols frame whose pixels count up from seed,
// skipping the invalid values 0 and 255.
func RampFrame(t testing.TB, rows, cols int, seed uint8) frame.Frame {
	t.Helper()
	pixels := make([]byte, rows*cols)
	for k := range pixels {
		pixels[k] = uint8(1 + (int(seed)+k)%254)
	}
	f, err := frame.New(rows, cols, pixels)
	AssertNoError(t, err)
	return f
}

// PacketBytes encodes f as a wire packet with the given frame id.
func PacketBytes(f frame.Frame, id uint16) []byte {
	return protocol.EncodePacket(protocol.PacketFromFrame(f, id))
}

// WriteLog writes frames as consecutive packets to a new file in a test
// temp directory and returns its path.
func WriteLog(t testing.TB, frames ...frame.Frame) string {
	t.Helper()
	var data []byte
	for i, f := range frames {
		data = append(data, PacketBytes(f, uint16(i))...)
	}
	return WriteRawLog(t, data)
}

// WriteRawLog writes data verbatim to a new log file and returns its path.
func WriteRawLog(t testing.TB, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.log")
	AssertNoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// LogCapture collects monitoring.Logf output for assertions.
type LogCapture struct {
	mu    sync.Mutex
	lines []string
}

// CaptureLogs redirects monitoring.Logf into a LogCapture until the test
// ends.
func CaptureLogs(t testing.TB) *LogCapture {
	t.Helper()
	c := &LogCapture{}
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.SetLogger(original) })
	monitoring.SetLogger(func(format string, v ...interface{}) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, fmt.Sprintf(format, v...))
	})
	return c
}

// Lines returns a copy of the captured lines.
func (c *LogCapture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Contains reports whether any captured line contains substr.
func (c *LogCapture) Contains(substr string) bool {
	for _, l := range c.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// Count returns how many captured lines contain substr.
func (c *LogCapture) Count(substr string) int {
	n := 0
	for _, l := range c.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}
