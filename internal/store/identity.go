package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/whisper2/broker/internal/models"
)

// CreateIdentity inserts a fresh identity row; called once from
// register_proof on a non-recovery registration.
func (s *Store) CreateIdentity(whisperID string, encPub, signPub []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO identities (whisper_id, enc_public_key, sign_public_key, status, created_at)
		 VALUES ($1, $2, $3, 'active', now())`,
		whisperID, encPub, signPub)
	return err
}

func (s *Store) GetIdentity(whisperID string) (*models.Identity, error) {
	row := s.db.QueryRow(
		`SELECT whisper_id, enc_public_key, sign_public_key, active_device_id, status, created_at
		 FROM identities WHERE whisper_id = $1`, whisperID)
	var id models.Identity
	var status string
	if err := row.Scan(&id.WhisperID, &id.EncPublicKey, &id.SignPublicKey, &id.ActiveDeviceID, &status, &id.CreatedAt); err != nil {
		return nil, err
	}
	id.Status = models.IdentityStatus(status)
	return &id, nil
}

// SetActiveDeviceAndSession is the single-active-device compare-and-set
// transaction from spec §4.1/§9: write the new device binding, revoke the
// prior session, all as one commit. The caller closes the prior socket
// afterward — the store write is the commit, the socket close is a hint.
func (s *Store) SetActiveDeviceAndSession(whisperID, deviceID, platform, pushToken, voipToken, newSessionToken string, sessionTTL time.Duration) (previousSessionTokens []string, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT session_token FROM sessions WHERE whisper_id = $1`, whisperID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			rows.Close()
			return nil, err
		}
		previousSessionTokens = append(previousSessionTokens, tok)
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE whisper_id = $1`, whisperID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(
		`INSERT INTO device_bindings (whisper_id, device_id, platform, push_token, voip_token, registered_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (whisper_id) DO UPDATE SET device_id = $2, platform = $3, push_token = $4, voip_token = $5, registered_at = now()`,
		whisperID, deviceID, platform, pushToken, voipToken); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE identities SET active_device_id = $2 WHERE whisper_id = $1`, whisperID, deviceID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(
		`INSERT INTO sessions (session_token, whisper_id, device_id, expires_at) VALUES ($1, $2, $3, $4)`,
		newSessionToken, whisperID, deviceID, time.Now().Add(sessionTTL)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return previousSessionTokens, nil
}

func (s *Store) GetDeviceBinding(whisperID string) (*models.DeviceBinding, error) {
	row := s.db.QueryRow(
		`SELECT whisper_id, device_id, platform, push_token, voip_token, registered_at
		 FROM device_bindings WHERE whisper_id = $1`, whisperID)
	var d models.DeviceBinding
	if err := row.Scan(&d.WhisperID, &d.DeviceID, &d.Platform, &d.PushToken, &d.VoipToken, &d.RegisteredAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) UpdateTokens(whisperID, pushToken, voipToken string) error {
	_, err := s.db.Exec(`UPDATE device_bindings SET push_token = $2, voip_token = $3 WHERE whisper_id = $1`,
		whisperID, pushToken, voipToken)
	return err
}

// ClearPushToken implements the Push Coordinator's "invalid-token clears
// the stored token" rule (spec §4.9).
func (s *Store) ClearPushToken(whisperID string, voip bool) error {
	col := "push_token"
	if voip {
		col = "voip_token"
	}
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE device_bindings SET %s = '' WHERE whisper_id = $1`, col), whisperID)
	return err
}

func (s *Store) GetSessionByToken(token string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT session_token, whisper_id, device_id, expires_at FROM sessions WHERE session_token = $1`, token)
	var sess models.Session
	if err := row.Scan(&sess.SessionToken, &sess.WhisperID, &sess.DeviceID, &sess.ExpiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) RevokeSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_token = $1`, token)
	return err
}

func (s *Store) RefreshSession(token string, newExpiry time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET expires_at = $2 WHERE session_token = $1`, token, newExpiry)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteIdentity cascades to device bindings, sessions, contact hints, and
// (via FK) attachment records/grants the identity owns, per spec §3's
// destroy-on-self-delete lifecycle.
func (s *Store) DeleteIdentity(whisperID string) error {
	_, err := s.db.Exec(`UPDATE identities SET status = 'deleted' WHERE whisper_id = $1`, whisperID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM sessions WHERE whisper_id = $1`, whisperID)
	return err
}

func (s *Store) BanIdentity(whisperID string) error {
	_, err := s.db.Exec(`UPDATE identities SET status = 'banned' WHERE whisper_id = $1`, whisperID)
	return err
}
