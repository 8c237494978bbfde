// Package signature is the Signature Verifier (spec §4.2): canonical-form
// serialization followed by Ed25519 verification. The teacher repo's own
// VerifySignedPreKeySignature (internal/security/signal.go) is explicitly a
// simplified ECDSA-P256 placeholder, not real Ed25519 — this package uses
// the standard library's crypto/ed25519 directly instead, since spec's
// canonical form and signature scheme are fixed primitives with no domain
// framing a third-party library would add (see DESIGN.md).
package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/whisper2/broker/internal/apperror"
)

// Fields is the ordered input to the canonical form. Omitted optional
// fields (ReplyTo etc. are never part of the signed form) contribute no
// line; the canonical form only ever covers these seven fields.
type Fields struct {
	MessageType string
	MessageID   string
	From        string
	ToOrGroupID string
	Timestamp   string
	Nonce       string
	Ciphertext  string
}

// Canonical reconstructs the exact signed string:
//
//	v1\n<messageType>\n<messageId>\n<from>\n<toOrGroupId>\n<timestamp>\n<nonce>\n<ciphertext>\n
//
// Field ordering, separators, and the version tag are load-bearing: any
// discrepancy invalidates every signature (spec §6).
func Canonical(f Fields) []byte {
	return []byte(fmt.Sprintf("v1\n%s\n%s\n%s\n%s\n%s\n%s\n%s\n",
		f.MessageType, f.MessageID, f.From, f.ToOrGroupID, f.Timestamp, f.Nonce, f.Ciphertext))
}

// Verify checks Ed25519.verify(signPublicKey, SHA256(canonical), sig).
// Any failure — malformed key, malformed signature, bad signature — maps
// uniformly to AUTH_FAILED so the verifier never leaks which step failed.
func Verify(signPublicKey []byte, f Fields, sig []byte) error {
	if len(signPublicKey) != ed25519.PublicKeySize {
		return apperror.New(apperror.AuthFailed, "signature verification failed")
	}
	digest := sha256.Sum256(Canonical(f))
	if !ed25519.Verify(ed25519.PublicKey(signPublicKey), digest[:], sig) {
		return apperror.New(apperror.AuthFailed, "signature verification failed")
	}
	return nil
}

// VerifyChallenge checks the register_proof signature: Ed25519 over
// SHA256(challengeBytes), per spec §4.1 (not the 7-field canonical form —
// there is no message being signed yet, just the raw challenge).
func VerifyChallenge(signPublicKey, challenge, sig []byte) error {
	if len(signPublicKey) != ed25519.PublicKeySize {
		return apperror.New(apperror.AuthFailed, "signature verification failed")
	}
	digest := sha256.Sum256(challenge)
	if !ed25519.Verify(ed25519.PublicKey(signPublicKey), digest[:], sig) {
		return apperror.New(apperror.AuthFailed, "signature verification failed")
	}
	return nil
}
