// Package call is the Call Signaling FSM (spec §4.8): call_initiate /
// call_ringing / call_answer / call_ice_candidate / call_end, with TTL-based
// timeouts, plus TURN credential minting for get_turn_credentials. The
// HMAC construction follows the standard WebRTC TURN REST API convention
// (username = "<expiry>:<whisperId>", credential = base64 HMAC-SHA1 of the
// username keyed by the shared secret); the hmac.New(...)/constant-time
// compare idiom is grounded in the teacher's message-HMAC verification in
// internal/websocket/hub.go.
package call

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// TurnCredentials is the turn_credentials response payload shape.
type TurnCredentials struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTL        int      `json:"ttl"`
	URLs       []string `json:"urls"`
}

// turnCredentialTTL bounds how long a minted credential is valid for.
const turnCredentialTTL = 10 * time.Minute

// MintTurnCredentials builds short-lived TURN credentials scoped to the
// caller's whisperId, per the TURN REST API convention (RFC-adjacent,
// widely implemented by coturn et al.).
func MintTurnCredentials(sharedSecret, whisperID string, urls []string, now time.Time) TurnCredentials {
	expiry := now.Add(turnCredentialTTL).Unix()
	username := fmt.Sprintf("%d:%s", expiry, whisperID)

	mac := hmac.New(sha1.New, []byte(sharedSecret))
	mac.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return TurnCredentials{
		Username:   username,
		Credential: credential,
		TTL:        int(turnCredentialTTL.Seconds()),
		URLs:       urls,
	}
}
