package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/tofcam/internal/frame"
)

// Wire layout of a frame packet:
//
//	0x00 0xFF | len u16le | 16 byte metadata | rows*cols pixels | checksum | 0xDD
//
// len counts the metadata and the pixels. The checksum is the low byte of
// the sum of every preceding byte of the packet.
const (
	HeaderByte0  = 0x00
	HeaderByte1  = 0xFF
	TailByte     = 0xDD
	MetadataSize = 16

	prefixSize  = 4 // header + length
	trailerSize = 2 // checksum + tail

	// MaxPayloadSize bounds the length field; nothing larger than a
	// 100x100 image is ever streamed.
	MaxPayloadSize = MetadataSize + 100*100
)

// Metadata is the fixed block that precedes the pixels in every packet.
type Metadata struct {
	Command           uint8
	OutputMode        uint8
	SensorTemperature uint8
	DriverTemperature uint8
	ExposureTime      uint32
	ErrorCode         uint8
	Rows              uint8
	Cols              uint8
	FrameID           uint16
	ISPVersion        uint8
}

// Packet is one decoded frame packet.
type Packet struct {
	Metadata
	Pixels []byte
}

// DecodeError describes a packet that was dropped.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "malformed frame packet: " + e.Reason
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Frame converts the packet pixels into an immutable frame.Frame.
func (p Packet) Frame() (frame.Frame, error) {
	return frame.New(int(p.Rows), int(p.Cols), p.Pixels)
}

// PacketFromFrame builds a packet carrying f, with the given frame id.
func PacketFromFrame(f frame.Frame, id uint16) Packet {
	return Packet{
		Metadata: Metadata{
			Rows:    uint8(f.Rows()),
			Cols:    uint8(f.Cols()),
			FrameID: id,
		},
		Pixels: f.Pixels(),
	}
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// EncodePacket serialises p into its wire representation.
func EncodePacket(p Packet) []byte {
	payload := MetadataSize + len(p.Pixels)
	buf := make([]byte, prefixSize+payload+trailerSize)
	buf[0] = HeaderByte0
	buf[1] = HeaderByte1
	binary.LittleEndian.PutUint16(buf[2:4], uint16(payload))

	m := buf[prefixSize : prefixSize+MetadataSize]
	m[0] = p.Command
	m[1] = p.OutputMode
	m[2] = p.SensorTemperature
	m[3] = p.DriverTemperature
	binary.LittleEndian.PutUint32(m[4:8], p.ExposureTime)
	m[8] = p.ErrorCode
	m[10] = p.Rows
	m[11] = p.Cols
	binary.LittleEndian.PutUint16(m[12:14], p.FrameID)
	m[14] = p.ISPVersion
	m[15] = 0xFF

	copy(buf[prefixSize+MetadataSize:], p.Pixels)
	end := prefixSize + payload
	buf[end] = checksum(buf[:end])
	buf[end+1] = TailByte
	return buf
}

// parsePacket validates a complete packet (prefix through tail).
func parsePacket(raw []byte) (Packet, error) {
	payload := len(raw) - prefixSize - trailerSize
	end := prefixSize + payload
	if raw[end+1] != TailByte {
		return Packet{}, &DecodeError{Reason: fmt.Sprintf("bad tail byte 0x%02X", raw[end+1])}
	}
	if sum := checksum(raw[:end]); sum != raw[end] {
		return Packet{}, &DecodeError{Reason: fmt.Sprintf("checksum mismatch: got 0x%02X, want 0x%02X", raw[end], sum)}
	}

	m := raw[prefixSize : prefixSize+MetadataSize]
	p := Packet{Metadata: Metadata{
		Command:           m[0],
		OutputMode:        m[1],
		SensorTemperature: m[2],
		DriverTemperature: m[3],
		ExposureTime:      binary.LittleEndian.Uint32(m[4:8]),
		ErrorCode:         m[8],
		Rows:              m[10],
		Cols:              m[11],
		FrameID:           binary.LittleEndian.Uint16(m[12:14]),
		ISPVersion:        m[14],
	}}

	n := payload - MetadataSize
	if int(p.Rows)*int(p.Cols) != n || n == 0 {
		return Packet{}, &DecodeError{Reason: fmt.Sprintf("%dx%d image does not match %d pixel bytes", p.Rows, p.Cols, n)}
	}
	p.Pixels = make([]byte, n)
	copy(p.Pixels, raw[prefixSize+MetadataSize:end])
	return p, nil
}
