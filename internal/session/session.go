// Package session is the Identity & Session Manager (spec §4.1):
// register_begin/register_proof challenge-response, session_refresh,
// logout, and the single-active-device eviction invariant. Adapted from
// the teacher's internal/auth/auth.go structure (a long-lived service
// object constructed once, methods instead of package globals) but the
// authentication mechanism itself is replaced end to end: spec requires
// an Ed25519 challenge/proof handshake and opaque session tokens, not
// SMS codes, TOTP, or JWTs.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/models"
	"github.com/whisper2/broker/internal/signature"
	"github.com/whisper2/broker/internal/store"
	"github.com/whisper2/broker/internal/whisperid"
)

const challengeTTL = 60 * time.Second

// EvictionNotifier is how the session manager tells the Connection
// Registry to close a superseded socket; implemented by internal/gateway.
// Kept as a narrow interface so this package never imports the transport
// layer (spec §9: components are long-lived objects wired by
// construction, not coupled to each other's internals).
type EvictionNotifier interface {
	CloseSession(whisperID string, reason string)
}

type Manager struct {
	store    *store.Store
	redis    *redis.Client
	notifier EvictionNotifier
	ttl      time.Duration
}

func New(st *store.Store, redisClient *redis.Client, notifier EvictionNotifier, sessionTTL time.Duration) *Manager {
	return &Manager{store: st, redis: redisClient, notifier: notifier, ttl: sessionTTL}
}

func challengeKey(id string) string { return "challenge:" + id }

// RegisterBegin mints a one-shot 32-byte challenge with a 60s TTL, per
// spec §4.1. A non-empty whisperID marks this as a recovery attempt.
func (m *Manager) RegisterBegin(ctx context.Context, whisperID string) (challengeID string, challenge []byte, expiresAt time.Time, err error) {
	if whisperID != "" {
		if err := whisperid.Validate(whisperID); err != nil {
			return "", nil, time.Time{}, apperror.New(apperror.InvalidPayload, "malformed whisperId")
		}
	}
	challenge = make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", nil, time.Time{}, apperror.Wrap(apperror.Internal, "failed to generate challenge", err)
	}
	challengeID = uuid.New().String()
	expiresAt = time.Now().Add(challengeTTL)

	rec := models.Challenge{ChallengeID: challengeID, WhisperID: whisperID, Challenge: challenge, ExpiresAt: expiresAt}
	data := encodeChallenge(rec)
	if err := m.redis.Set(ctx, challengeKey(challengeID), data, challengeTTL).Err(); err != nil {
		return "", nil, time.Time{}, apperror.Wrap(apperror.Internal, "failed to store challenge", err)
	}
	return challengeID, challenge, expiresAt, nil
}

// RegisterProofResult is returned to the caller on success.
type RegisterProofResult struct {
	WhisperID        string
	SessionToken     string
	SessionExpiresAt time.Time
	ServerTime       time.Time
}

// RegisterProof consumes the challenge (one-shot: GETDEL), verifies the
// Ed25519 signature over SHA256(challengeBytes), and — on success —
// atomically evicts any prior device/session per spec §4.1's
// single-active-device rule.
func (m *Manager) RegisterProof(ctx context.Context, challengeID, deviceID, platform string, encPub, signPub, sig []byte, pushToken, voipToken string) (*RegisterProofResult, error) {
	raw, err := m.redis.GetDel(ctx, challengeKey(challengeID)).Result()
	if err == redis.Nil {
		return nil, apperror.New(apperror.AuthFailed, "unknown or expired challenge")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "challenge store error", err)
	}
	rec, err := decodeChallenge(raw)
	if err != nil {
		return nil, apperror.New(apperror.AuthFailed, "unknown or expired challenge")
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, apperror.New(apperror.AuthFailed, "challenge expired")
	}

	if err := signature.VerifyChallenge(signPub, rec.Challenge, sig); err != nil {
		return nil, err
	}

	var whisperID string
	if rec.WhisperID != "" {
		// Recovery: the stored identity's signPublicKey MUST match.
		existing, err := m.store.GetIdentity(rec.WhisperID)
		if err != nil {
			return nil, apperror.New(apperror.AuthFailed, "unknown identity")
		}
		if existing.Status == models.IdentityBanned {
			return nil, apperror.New(apperror.Forbidden, "identity is banned")
		}
		if !bytesEqual(existing.SignPublicKey, signPub) {
			return nil, apperror.New(apperror.AuthFailed, "recovery key mismatch")
		}
		whisperID = rec.WhisperID
	} else {
		whisperID = whisperid.FromSignPublicKey(signPub)
		if _, err := m.store.GetIdentity(whisperID); err != nil {
			if err := m.store.CreateIdentity(whisperID, encPub, signPub); err != nil {
				return nil, apperror.Wrap(apperror.Internal, "failed to create identity", err)
			}
		}
	}

	sessionToken, err := newOpaqueToken()
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to generate session token", err)
	}

	previousTokens, err := m.store.SetActiveDeviceAndSession(whisperID, deviceID, platform, pushToken, voipToken, sessionToken, m.ttl)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to commit device binding", err)
	}

	// The store write above is the commit; the socket close below is a
	// hint (spec §9 "Concurrency across device eviction").
	if m.notifier != nil && len(previousTokens) > 0 {
		m.notifier.CloseSession(whisperID, "session_superseded")
	}

	return &RegisterProofResult{
		WhisperID:        whisperID,
		SessionToken:     sessionToken,
		SessionExpiresAt: time.Now().Add(m.ttl),
		ServerTime:       time.Now(),
	}, nil
}

func (m *Manager) SessionRefresh(sessionToken string) (time.Time, error) {
	sess, err := m.store.GetSessionByToken(sessionToken)
	if err != nil {
		return time.Time{}, apperror.New(apperror.AuthFailed, "invalid session")
	}
	if time.Now().After(sess.ExpiresAt) {
		return time.Time{}, apperror.New(apperror.AuthFailed, "session expired")
	}
	newExpiry := time.Now().Add(m.ttl)
	if err := m.store.RefreshSession(sessionToken, newExpiry); err != nil {
		return time.Time{}, apperror.Wrap(apperror.Internal, "failed to refresh session", err)
	}
	return newExpiry, nil
}

func (m *Manager) Logout(sessionToken string) error {
	if err := m.store.RevokeSession(sessionToken); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to revoke session", err)
	}
	return nil
}

// Authenticate resolves a bearer/session token to its identity, failing
// uniformly with AUTH_FAILED for unknown or expired tokens.
func (m *Manager) Authenticate(sessionToken string) (*models.Session, error) {
	sess, err := m.store.GetSessionByToken(sessionToken)
	if err != nil {
		return nil, apperror.New(apperror.AuthFailed, "invalid session")
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, apperror.New(apperror.AuthFailed, "session expired")
	}
	return sess, nil
}

func (m *Manager) GetIdentity(whisperID string) (*models.Identity, error) {
	id, err := m.store.GetIdentity(whisperID)
	if err != nil {
		return nil, apperror.New(apperror.NotFound, "identity not found")
	}
	return id, nil
}

func newOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type challengeRecord struct {
	ChallengeID string `json:"challengeId"`
	WhisperID   string `json:"whisperId,omitempty"`
	Challenge   string `json:"challenge"`
	ExpiresAt   int64  `json:"expiresAt"`
}

func encodeChallenge(c models.Challenge) string {
	rec := challengeRecord{
		ChallengeID: c.ChallengeID,
		WhisperID:   c.WhisperID,
		Challenge:   base64.StdEncoding.EncodeToString(c.Challenge),
		ExpiresAt:   c.ExpiresAt.UnixNano(),
	}
	data, _ := json.Marshal(rec)
	return string(data)
}

func decodeChallenge(raw string) (models.Challenge, error) {
	var rec challengeRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.Challenge{}, err
	}
	decoded, err := base64.StdEncoding.DecodeString(rec.Challenge)
	if err != nil {
		return models.Challenge{}, err
	}
	return models.Challenge{
		ChallengeID: rec.ChallengeID,
		WhisperID:   rec.WhisperID,
		Challenge:   decoded,
		ExpiresAt:   time.Unix(0, rec.ExpiresAt),
	}, nil
}
