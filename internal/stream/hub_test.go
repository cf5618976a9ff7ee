package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/testutil"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) FrameMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	var msg FrameMessage
	require.NoError(t, cbor.Unmarshal(data, &msg))
	return msg
}

func TestHub_BroadcastsFrames(t *testing.T) {
	h := NewHub(2)
	defer h.Close()
	a := dialHub(t, h)
	b := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Stats().Clients == 2 }, time.Second, time.Millisecond)

	f := testutil.RampFrame(t, 25, 25, 7)
	h.ConsumeImage(f)

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readFrame(t, conn)
		assert.EqualValues(t, 1, msg.Seq)
		assert.Equal(t, 25, msg.Rows)
		assert.Equal(t, 25, msg.Cols)
		assert.Equal(t, 2, msg.Unit)
		assert.Equal(t, f.Pixels(), msg.Pixels)
	}

	h.SetQuantizationUnit(5)
	h.ConsumeImage(f)
	msg := readFrame(t, a)
	assert.EqualValues(t, 2, msg.Seq)
	assert.Equal(t, 5, msg.Unit)
}

func TestHub_NoViewers(t *testing.T) {
	h := NewHub(0)
	h.ConsumeImage(testutil.FilledFrame(t, 25, 9))
	assert.Equal(t, Stats{Frames: 1}, h.Stats())
}

func TestHub_SlowViewerSkipsFrames(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Stats().Clients == 1 }, time.Second, time.Millisecond)

	// Nothing reads, so the socket and then the client buffer fill up.
	f := testutil.FilledFrame(t, 100, 9)
	for i := 0; i < 100000 && h.Stats().Skipped == 0; i++ {
		h.ConsumeImage(f)
	}
	require.NotZero(t, h.Stats().Skipped)

	msg := readFrame(t, conn)
	assert.EqualValues(t, 1, msg.Seq)
}

func TestHub_ViewerDisconnect(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Stats().Clients == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Stats().Clients == 0 }, time.Second, time.Millisecond)
	h.ConsumeImage(testutil.FilledFrame(t, 25, 9))
}

func TestHub_Close(t *testing.T) {
	h := NewHub(0)
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Stats().Clients == 1 }, time.Second, time.Millisecond)

	h.Close()
	h.Close()
	assert.Zero(t, h.Stats().Clients)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// New viewers are turned away after Close.
	late := dialHub(t, h)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}
