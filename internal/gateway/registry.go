package gateway

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/whisper2/broker/internal/codec"
	"github.com/whisper2/broker/internal/metrics"
)

// Registry is the server-local connection table: whisperId -> live socket.
// Single-active-device means at most one Client per whisperId; a second
// registration for the same whisperId evicts the first (the session layer
// already closed the prior session token before this is called, so this
// is purely a hint-close of the stale local socket).
type Registry struct {
	serverID string

	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}

	presence PresenceNotifier
}

// PresenceNotifier is the cross-instance presence hook (internal/presence);
// kept as a narrow interface so this package never imports it directly.
type PresenceNotifier interface {
	SetOnline(whisperID, serverID string, online bool)
}

func New(serverID string, presence PresenceNotifier) *Registry {
	r := &Registry{
		serverID:   serverID,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		presence:   presence,
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	for {
		select {
		case c := <-r.register:
			r.doRegister(c)
		case c := <-r.unregister:
			r.doUnregister(c)
		case <-r.shutdown:
			r.mu.Lock()
			for _, c := range r.clients {
				close(c.send)
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *Registry) Shutdown() { close(r.shutdown) }

// Accept wraps a freshly upgraded connection and starts its pumps. The
// socket is anonymous until Bind is called — register_begin/register_proof
// arrive as ordinary frames on it before any identity exists (spec §4.1).
func (r *Registry) Accept(conn *websocket.Conn, dispatch func(c *Client, raw []byte)) *Client {
	c := newClient(r, conn)
	go c.WritePump()
	go c.ReadPump(dispatch)
	return c
}

// Bind attaches whisperID/deviceID to an already-accepted socket on
// register_proof success, inserting it into the live connection table and
// evicting any prior socket for the same whisperId (single-active-device).
func (r *Registry) Bind(c *Client, whisperID, deviceID string) {
	c.setIdentity(whisperID, deviceID)
	r.register <- c
}

func (r *Registry) doRegister(c *Client) {
	r.mu.Lock()
	if prior, ok := r.clients[c.WhisperID]; ok && prior != c {
		close(prior.send)
	}
	r.clients[c.WhisperID] = c
	count := len(r.clients)
	r.mu.Unlock()
	metrics.WebSocketConnections.WithLabelValues(r.serverID).Set(float64(count))
	if r.presence != nil {
		r.presence.SetOnline(c.WhisperID, r.serverID, true)
	}
	log.Printf("[gateway] online whisperId=%s device=%s server=%s", c.WhisperID, c.DeviceID, r.serverID)
}

func (r *Registry) doUnregister(c *Client) {
	whisperID, _ := c.Identity()
	if whisperID == "" {
		return
	}
	r.mu.Lock()
	stillCurrent := r.clients[whisperID] == c
	if stillCurrent {
		delete(r.clients, whisperID)
	}
	count := len(r.clients)
	r.mu.Unlock()
	if stillCurrent {
		metrics.WebSocketConnections.WithLabelValues(r.serverID).Set(float64(count))
		if r.presence != nil {
			r.presence.SetOnline(whisperID, r.serverID, false)
		}
	}
}

// IsOnline reports whether whisperID has a live local socket on this instance.
func (r *Registry) IsOnline(whisperID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[whisperID]
	return ok
}

// SendFrame delivers an encoded frame to whisperID's local socket, if any.
// Returns false if the identity has no local connection (caller should
// fall back to the pending queue / cross-instance presence lookup).
func (r *Registry) SendFrame(whisperID string, frameType codec.FrameType, requestID string, payload any) bool {
	r.mu.RLock()
	c, ok := r.clients[whisperID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	body, err := codec.Encode(frameType, requestID, payload)
	if err != nil {
		log.Printf("[gateway] encode failed whisperId=%s type=%s: %v", whisperID, frameType, err)
		return false
	}
	select {
	case c.send <- body:
		return true
	default:
		log.Printf("[gateway] send buffer full, closing whisperId=%s", whisperID)
		close(c.send)
		return false
	}
}

// CloseSession implements session.EvictionNotifier: a device eviction at
// the store layer closes the stale local socket as a best-effort hint.
// The store write already committed; this is advisory only.
func (r *Registry) CloseSession(whisperID, reason string) {
	r.mu.RLock()
	c, ok := r.clients[whisperID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	body, _ := codec.Encode(codec.TypeError, "", map[string]any{
		"code":    "SESSION_EVICTED",
		"message": reason,
	})
	select {
	case c.send <- body:
	default:
	}
	close(c.send)
}
