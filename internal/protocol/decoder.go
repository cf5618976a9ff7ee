package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// maxLineLength bounds how much non-packet text is buffered while waiting
// for a newline. Longer runs are line noise and get discarded.
const maxLineLength = 256

// DecoderStats counts what a Decoder has produced so far.
type DecoderStats struct {
	Packets uint64
	Lines   uint64
	Dropped uint64
}

// Decoder splits the serial byte stream into frame packets and text
// response lines. It is fed arbitrary chunks and emits events in stream
// order through its callbacks. A Decoder is not safe for concurrent use.
type Decoder struct {
	// OnPacket receives every packet that passed validation.
	OnPacket func(Packet)
	// OnLine receives every non-empty text line with the line ending removed.
	OnLine func(string)
	// OnDrop receives a *DecodeError for every discarded packet.
	OnDrop func(error)

	buf   []byte
	line  []byte
	stats DecoderStats
}

// Feed consumes p. Incomplete trailing data is kept for the next call.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
	for d.step() {
	}
	if len(d.buf) == 0 {
		d.buf = d.buf[:0]
		return
	}
	// keep the pending packet prefix at the start of a fresh buffer so the
	// consumed prefix can be collected
	rest := make([]byte, len(d.buf), len(d.buf)+MaxPayloadSize)
	copy(rest, d.buf)
	d.buf = rest
}

// Reset drops any partially received packet. It is used when the transport
// times out in the middle of a packet.
func (d *Decoder) Reset() {
	if len(d.buf) > 0 {
		d.drop(&DecodeError{Reason: fmt.Sprintf("truncated packet (%d bytes received)", len(d.buf))})
	}
	d.buf = nil
}

// Pending reports whether a partial packet is buffered.
func (d *Decoder) Pending() bool { return len(d.buf) > 0 }

// Stats returns the counters accumulated so far.
func (d *Decoder) Stats() DecoderStats { return d.stats }

func (d *Decoder) drop(err error) {
	d.stats.Dropped++
	if d.OnDrop != nil {
		d.OnDrop(err)
	}
}

func (d *Decoder) step() bool {
	if len(d.buf) == 0 {
		return false
	}
	if d.buf[0] == HeaderByte0 {
		return d.stepPacket()
	}

	nl := bytes.IndexByte(d.buf, '\n')
	zero := bytes.IndexByte(d.buf, HeaderByte0)
	switch {
	case nl >= 0 && (zero < 0 || nl < zero):
		d.appendLine(d.buf[:nl])
		d.buf = d.buf[nl+1:]
		d.emitLine()
		return true
	case zero >= 0:
		d.appendLine(d.buf[:zero])
		d.buf = d.buf[zero:]
		return true
	default:
		d.appendLine(d.buf)
		d.buf = d.buf[:0]
		return false
	}
}

func (d *Decoder) stepPacket() bool {
	if len(d.buf) < 2 {
		return false
	}
	if d.buf[1] != HeaderByte1 {
		// stray zero byte between packets
		d.buf = d.buf[1:]
		return true
	}
	if len(d.buf) < prefixSize {
		return false
	}
	n := int(binary.LittleEndian.Uint16(d.buf[2:4]))
	if n <= MetadataSize || n > MaxPayloadSize {
		d.drop(&DecodeError{Reason: fmt.Sprintf("invalid packet length %d", n)})
		d.buf = d.buf[2:]
		return true
	}
	total := prefixSize + n + trailerSize
	if len(d.buf) < total {
		return false
	}
	p, err := parsePacket(d.buf[:total])
	d.buf = d.buf[total:]
	if err != nil {
		d.drop(err)
		return true
	}
	d.stats.Packets++
	if d.OnPacket != nil {
		d.OnPacket(p)
	}
	return true
}

func (d *Decoder) appendLine(b []byte) {
	d.line = append(d.line, b...)
	if len(d.line) > maxLineLength {
		d.line = d.line[:0]
	}
}

func (d *Decoder) emitLine() {
	s := strings.TrimSpace(string(d.line))
	d.line = d.line[:0]
	if s == "" {
		return
	}
	d.stats.Lines++
	if d.OnLine != nil {
		d.OnLine(s)
	}
}
