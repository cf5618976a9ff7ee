// Package stream pushes frames to browser viewers over websockets. Every
// frame is one binary message holding a CBOR-encoded FrameMessage.
package stream

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/monitoring"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	// clientBuffer frames may wait per viewer; beyond that the viewer
	// misses frames rather than holding up dispatch.
	clientBuffer = 4
)

// FrameMessage is the wire form of one frame.
type FrameMessage struct {
	Seq    uint64 `cbor:"seq"`
	Rows   int    `cbor:"rows"`
	Cols   int    `cbor:"cols"`
	Unit   int    `cbor:"unit"`
	Pixels []byte `cbor:"pixels"`
}

// Stats counts hub traffic.
type Stats struct {
	Clients int    `json:"clients"`
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Hub is a queue consumer that fans frames out to websocket viewers. It is
// also the http.Handler viewers connect to.
type Hub struct {
	upgrader websocket.Upgrader
	unit     atomic.Int32

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	frames  atomic.Uint64
	skipped atomic.Uint64
}

// NewHub returns a hub that labels frames with the given quantization unit.
func NewHub(unit int) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	h.SetQuantizationUnit(unit)
	return h
}

// SetQuantizationUnit changes the unit sent with later frames.
func (h *Hub) SetQuantizationUnit(unit int) { h.unit.Store(int32(unit)) }

// ConsumeImage encodes f once and queues it for every viewer. A viewer whose
// buffer is full skips the frame.
func (h *Hub) ConsumeImage(f frame.Frame) {
	msg, err := cbor.Marshal(FrameMessage{
		Seq:    h.frames.Add(1),
		Rows:   f.Rows(),
		Cols:   f.Cols(),
		Unit:   int(h.unit.Load()),
		Pixels: f.Pixels(),
	})
	if err != nil {
		monitoring.Warnf("[stream] failed to encode frame: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.skipped.Add(1)
		}
	}
}

// ServeHTTP upgrades the request and registers the viewer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Debugf("[stream] upgrade failed: %v", err)
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	monitoring.Logf("[stream] viewer connected from %s", r.RemoteAddr)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop discards viewer messages and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(1 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := h.write(c, websocket.BinaryMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) write(c *client, messageType int, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.done)
		c.conn.Close()
		monitoring.Debugf("[stream] viewer %s disconnected", c.conn.RemoteAddr())
	})
}

// Stats returns the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	return Stats{Clients: n, Frames: h.frames.Load(), Skipped: h.skipped.Load()}
}

// Close disconnects every viewer and refuses new ones. It is safe to call
// more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}
