package httpapi

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebSocket upgrades the connection and hands it to the Registry
// anonymously — no identity is known yet (spec §4.1). The socket only
// becomes addressable once register_proof succeeds over it and the
// Dispatcher calls Registry.Bind.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r.Header.Get("Origin")) {
		log.Printf("[httpapi] websocket rejected: origin %q not allowed", r.Header.Get("Origin"))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] websocket upgrade failed: %v", err)
		return
	}

	s.registry.Accept(conn, s.dispatcher.Dispatch)
}

// originAllowed mirrors the teacher's CheckOrigin allowlist, exact-match or
// same-parent-domain subdomain, with a wildcard escape hatch for "*".
func (s *Server) originAllowed(origin string) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || parsedOrigin.Host == "" {
		return false
	}
	for _, allowed := range s.allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			return true
		}
		parsedAllowed, err := url.Parse(allowed)
		if err != nil || parsedAllowed.Host == "" {
			continue
		}
		if parsedOrigin.Host == parsedAllowed.Host || strings.HasSuffix(parsedOrigin.Host, "."+parsedAllowed.Host) {
			return true
		}
	}
	return false
}
