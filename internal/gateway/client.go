// Package gateway is the Connection Registry (spec §4.3): it owns the
// live WebSocket for each online identity and is the only place that
// knows how to turn a whisperId into bytes on a wire. Adapted from the
// teacher's internal/websocket hub/client split, narrowed from
// "many devices per user" fan-out to this system's single-active-device
// model — one whisperId maps to at most one Client at a time.
package gateway

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whisper2/broker/internal/codec"
)

const (
	writeWait = 10 * time.Second

	// idleTimeout is spec §4.3's "90s of silence closes the socket".
	idleTimeout = 90 * time.Second
	pingPeriod  = (idleTimeout * 8) / 10

	maxFrameSize = codec.MaxFrameBytes
)

// Client wraps one live WebSocket connection. A socket is accepted
// anonymously — the identity behind it isn't known until register_proof
// succeeds over the same connection (spec §4.1) — so WhisperID/DeviceID
// start empty and are set exactly once, by Registry.Bind.
type Client struct {
	registry *Registry
	conn     *websocket.Conn
	send     chan []byte

	mu        sync.RWMutex
	WhisperID string
	DeviceID  string
}

func newClient(r *Registry, conn *websocket.Conn) *Client {
	return &Client{
		registry: r,
		conn:     conn,
		send:     make(chan []byte, 64),
	}
}

// Identity returns the client's current whisperId/deviceId, empty until a
// successful register_proof binds them via Registry.Bind.
func (c *Client) Identity() (whisperID, deviceID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.WhisperID, c.DeviceID
}

func (c *Client) setIdentity(whisperID, deviceID string) {
	c.mu.Lock()
	c.WhisperID = whisperID
	c.DeviceID = deviceID
	c.mu.Unlock()
}

// ReadPump pumps inbound frames to the dispatch callback until the
// connection closes or falls silent for idleTimeout. dispatch receives the
// Client itself (not a bare whisperId) because the first frames on a fresh
// socket are pre-identity (register_begin/register_proof).
func (c *Client) ReadPump(dispatch func(c *Client, raw []byte)) {
	defer func() {
		c.registry.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				whisperID, _ := c.Identity()
				log.Printf("[gateway] read error whisperId=%s: %v", whisperID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		dispatch(c, raw)
	}
}

// WritePump drains queued outbound frames and sends periodic pings
// carrying serverTime, per spec §4.3.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			payload, _ := codec.Encode(codec.TypePing, "", pingPayload())
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// SendFrame encodes and queues a frame directly on this socket, independent
// of the Registry's whisperId table. This is the only way to reply to a
// not-yet-bound socket (register_begin/register_proof) and is also used
// for ordinary acks so a reply never depends on a registry lookup racing
// against Bind. Returns false if the outbound buffer is full, closing the
// socket the same way Registry.SendFrame does.
func (c *Client) SendFrame(frameType codec.FrameType, requestID string, payload any) bool {
	body, err := codec.Encode(frameType, requestID, payload)
	if err != nil {
		log.Printf("[gateway] encode failed type=%s: %v", frameType, err)
		return false
	}
	select {
	case c.send <- body:
		return true
	default:
		close(c.send)
		return false
	}
}

func pingPayload() map[string]any {
	return map[string]any{"serverTime": time.Now().UTC().Format(time.RFC3339Nano)}
}
