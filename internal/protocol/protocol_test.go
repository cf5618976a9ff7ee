package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/frame"
)

func TestCommand_Encode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"attention", Attention, "AT\r"},
		{"isp on", ImageSignalProcessor(true), "AT+ISP=1\r"},
		{"isp off", ImageSignalProcessor(false), "AT+ISP=0\r"},
		{"usb only", Display(DisplayUsb), "AT+DISP=2\r"},
		{"all displays", Display(DisplayLcd | DisplayUsb | DisplayUart), "AT+DISP=7\r"},
		{"mask ignores unknown bits", Display(0xF0 | DisplayLcd), "AT+DISP=1\r"},
		{"binning 100", Binning(frame.Binning100x100), "AT+BINN=1\r"},
		{"binning 50", Binning(frame.Binning50x50), "AT+BINN=2\r"},
		{"binning 25", Binning(frame.Binning25x25), "AT+BINN=4\r"},
		{"fps", FPS(20), "AT+FPS=20\r"},
		{"unit", QuantizationUnit(0), "AT+UNIT=0\r"},
		{"antimmi on", AntiMultiMachineInterference(true), "AT+ANTIMMI=0\r"},
		{"antimmi off", AntiMultiMachineInterference(false), "AT+ANTIMMI=-1\r"},
		{"auto exposure", AutoExposure(), "AT+AE=1\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.cmd.Encode()))
		})
	}
}

func samplePacket(rows, cols uint8, id uint16) Packet {
	pix := make([]byte, int(rows)*int(cols))
	for i := range pix {
		pix[i] = byte(i * 7)
	}
	return Packet{
		Metadata: Metadata{
			Command:           0x01,
			SensorTemperature: 40,
			DriverTemperature: 38,
			ExposureTime:      0x01020304,
			Rows:              rows,
			Cols:              cols,
			FrameID:           id,
			ISPVersion:        2,
		},
		Pixels: pix,
	}
}

type collector struct {
	packets []Packet
	lines   []string
	drops   []error
}

func newDecoder(c *collector) *Decoder {
	return &Decoder{
		OnPacket: func(p Packet) { c.packets = append(c.packets, p) },
		OnLine:   func(s string) { c.lines = append(c.lines, s) },
		OnDrop:   func(err error) { c.drops = append(c.drops, err) },
	}
}

func TestEncodePacket_Layout(t *testing.T) {
	raw := EncodePacket(samplePacket(2, 2, 7))
	require.Len(t, raw, 4+16+4+2)
	assert.Equal(t, byte(0x00), raw[0])
	assert.Equal(t, byte(0xFF), raw[1])
	assert.Equal(t, byte(20), raw[2], "length counts metadata and pixels")
	assert.Equal(t, byte(0), raw[3])
	assert.Equal(t, byte(0xDD), raw[len(raw)-1])

	var sum byte
	for _, b := range raw[:len(raw)-2] {
		sum += b
	}
	assert.Equal(t, sum, raw[len(raw)-2])
}

func TestDecoder_RoundTrip(t *testing.T) {
	want := samplePacket(25, 25, 42)
	var c collector
	d := newDecoder(&c)
	d.Feed(EncodePacket(want))

	require.Len(t, c.packets, 1)
	if diff := cmp.Diff(want, c.packets[0]); diff != "" {
		t.Errorf("decoded packet mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, c.drops)
	assert.False(t, d.Pending())
}

func TestDecoder_ChunkedInput(t *testing.T) {
	raw := append(EncodePacket(samplePacket(50, 50, 1)), EncodePacket(samplePacket(50, 50, 2))...)
	for _, size := range []int{1, 3, 17, 1000} {
		var c collector
		d := newDecoder(&c)
		for i := 0; i < len(raw); i += size {
			end := i + size
			if end > len(raw) {
				end = len(raw)
			}
			d.Feed(raw[i:end])
		}
		require.Len(t, c.packets, 2, "chunk size %d", size)
		assert.Equal(t, uint16(1), c.packets[0].FrameID)
		assert.Equal(t, uint16(2), c.packets[1].FrameID)
	}
}

func TestDecoder_InterleavedResponses(t *testing.T) {
	var stream []byte
	stream = append(stream, []byte("OK\r\n")...)
	stream = append(stream, EncodePacket(samplePacket(2, 2, 1))...)
	stream = append(stream, []byte("\r\nERROR\r\n")...)
	stream = append(stream, EncodePacket(samplePacket(2, 2, 2))...)

	var c collector
	d := newDecoder(&c)
	d.Feed(stream)

	assert.Equal(t, []string{"OK", "ERROR"}, c.lines)
	require.Len(t, c.packets, 2)
	assert.Equal(t, DecoderStats{Packets: 2, Lines: 2}, d.Stats())
}

func TestDecoder_DropsMalformedAndContinues(t *testing.T) {
	bad := EncodePacket(samplePacket(2, 2, 1))
	bad[len(bad)-2] ^= 0xFF // corrupt checksum

	badTail := EncodePacket(samplePacket(2, 2, 2))
	badTail[len(badTail)-1] = 0x00

	mismatch := samplePacket(2, 2, 3)
	mismatch.Rows = 3 // 3x2 does not match 4 pixels
	badDims := EncodePacket(mismatch)

	good := EncodePacket(samplePacket(2, 2, 4))

	var stream []byte
	for _, p := range [][]byte{bad, badTail, badDims, good} {
		stream = append(stream, p...)
	}

	var c collector
	d := newDecoder(&c)
	d.Feed(stream)

	require.Len(t, c.packets, 1)
	assert.Equal(t, uint16(4), c.packets[0].FrameID)
	require.Len(t, c.drops, 3)
	for _, err := range c.drops {
		assert.True(t, IsDecodeError(err), "%v", err)
	}
}

func TestDecoder_InvalidLengthResyncs(t *testing.T) {
	stream := []byte{0x00, 0xFF, 0xFF, 0xFF} // length 65535
	stream = append(stream, EncodePacket(samplePacket(2, 2, 9))...)

	var c collector
	d := newDecoder(&c)
	d.Feed(stream)

	require.Len(t, c.packets, 1)
	assert.Equal(t, uint16(9), c.packets[0].FrameID)
	assert.Len(t, c.drops, 1)
}

func TestDecoder_ResetDropsTruncatedPacket(t *testing.T) {
	raw := EncodePacket(samplePacket(25, 25, 1))

	var c collector
	d := newDecoder(&c)
	d.Feed(raw[:100])
	assert.True(t, d.Pending())

	d.Reset()
	assert.False(t, d.Pending())
	require.Len(t, c.drops, 1)

	d.Feed(EncodePacket(samplePacket(25, 25, 2)))
	require.Len(t, c.packets, 1)
	assert.Equal(t, uint16(2), c.packets[0].FrameID)
}

func TestDecoder_StrayZeroAndLongNoise(t *testing.T) {
	noise := make([]byte, 600)
	for i := range noise {
		noise[i] = 'x'
	}
	stream := append([]byte{0x00, 'A'}, noise...)
	stream = append(stream, []byte("\nOK\n")...)

	var c collector
	d := newDecoder(&c)
	d.Feed(stream)
	assert.Equal(t, []string{"OK"}, c.lines)
}

func TestPacket_Frame(t *testing.T) {
	f, err := frame.New(2, 2, []byte{10, 20, 30, 40})
	require.NoError(t, err)

	p := PacketFromFrame(f, 3)
	got, err := p.Frame()
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, uint16(3), p.FrameID)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(" at+fps=10 ")
	require.NoError(t, err)
	assert.Equal(t, FPS(10), cmd)

	cmd, err = ParseCommand("AT")
	require.NoError(t, err)
	assert.Equal(t, Attention, cmd)

	for _, bad := range []string{"", "FPS=10", "AT+FPS", "AT+=1", "AT+FPS="} {
		_, err := ParseCommand(bad)
		assert.Error(t, err, bad)
	}
}
