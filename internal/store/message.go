package store

import (
	"database/sql"
	"time"

	"github.com/whisper2/broker/internal/models"
)

// SaveEnvelope persists a 1:1 envelope; the persist is the commit point
// per spec §5 (no fanout can leave a half-committed state because this
// write happens before any delivery attempt).
func (s *Store) SaveEnvelope(e *models.Envelope) error {
	var objectKey *string
	if e.Attachment != nil {
		objectKey = &e.Attachment.ObjectKey
	}
	var replyTo *string
	if e.ReplyTo != "" {
		replyTo = &e.ReplyTo
	}
	_, err := s.db.Exec(
		`INSERT INTO envelopes (message_id, from_id, to_id, msg_type, timestamp, nonce, ciphertext, sig, reply_to, object_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'queued')
		 ON CONFLICT (message_id) DO NOTHING`,
		e.MessageID, e.From, e.To, e.MsgType, e.Timestamp, e.Nonce, e.Ciphertext, e.Sig, replyTo, objectKey)
	return err
}

// SeenRecently implements the 24h dedup key (from, messageId) from spec §4.4.
func (s *Store) SeenRecently(from, messageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM envelopes WHERE from_id = $1 AND message_id = $2 AND persisted_at > $3)`,
		from, messageID, time.Now().Add(-24*time.Hour)).Scan(&exists)
	return exists, err
}

// MarkStatus implements "first receipt wins": delivered_at/read_at are only
// ever set once (COALESCE keeps the earliest value).
func (s *Store) MarkStatus(messageID, status string, at time.Time) error {
	switch status {
	case "delivered":
		_, err := s.db.Exec(`UPDATE envelopes SET status = 'delivered', delivered_at = COALESCE(delivered_at, $2) WHERE message_id = $1`, messageID, at)
		return err
	case "read":
		_, err := s.db.Exec(`UPDATE envelopes SET status = 'read', read_at = COALESCE(read_at, $2) WHERE message_id = $1`, messageID, at)
		return err
	}
	return nil
}

func (s *Store) EnvelopeSender(messageID string) (string, error) {
	var from string
	err := s.db.QueryRow(`SELECT from_id FROM envelopes WHERE message_id = $1`, messageID).Scan(&from)
	return from, err
}

func (s *Store) EnvelopeRecipient(messageID string) (string, error) {
	var to string
	err := s.db.QueryRow(`SELECT to_id FROM envelopes WHERE message_id = $1`, messageID).Scan(&to)
	return to, err
}

// HasSeenContact backs the "contacts hint list" supplement from
// SPEC_FULL.md §3: has `to` ever received a message from `from` before.
func (s *Store) HasSeenContact(from, to string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM contact_hints WHERE from_id = $1 AND to_id = $2)`, from, to).Scan(&exists)
	return exists, err
}

func (s *Store) RecordContact(from, to string) error {
	_, err := s.db.Exec(`INSERT INTO contact_hints (from_id, to_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, from, to)
	return err
}

// PutBackup upserts the single opaque backup blob per identity, returning
// created=true iff this was an insert (PUT 201) rather than a replace
// (PUT 200), per spec §6.
func (s *Store) PutBackup(whisperID, nonce, ciphertext string) (created bool, err error) {
	var existedBefore bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM backups WHERE whisper_id = $1)`, whisperID).Scan(&existedBefore); err != nil {
		return false, err
	}
	_, err = s.db.Exec(
		`INSERT INTO backups (whisper_id, nonce, ciphertext, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (whisper_id) DO UPDATE SET nonce = $2, ciphertext = $3, updated_at = now()`,
		whisperID, nonce, ciphertext)
	if err != nil {
		return false, err
	}
	return !existedBefore, nil
}

func (s *Store) GetBackup(whisperID string) (nonce, ciphertext string, err error) {
	err = s.db.QueryRow(`SELECT nonce, ciphertext FROM backups WHERE whisper_id = $1`, whisperID).Scan(&nonce, &ciphertext)
	if err == sql.ErrNoRows {
		return "", "", err
	}
	return nonce, ciphertext, err
}

func (s *Store) DeleteBackup(whisperID string) error {
	_, err := s.db.Exec(`DELETE FROM backups WHERE whisper_id = $1`, whisperID)
	return err
}

// DeleteMessage marks an envelope deleted; only the original sender may
// request it. The deleteForEveryone flag is not stored, and the row is
// tombstoned, not scrubbed: its ciphertext stays in place, so
// delivery-receipt bookkeeping for it still resolves.
func (s *Store) DeleteMessage(messageID, requestedBy string) error {
	res, err := s.db.Exec(
		`UPDATE envelopes SET status = 'deleted' WHERE message_id = $1 AND from_id = $2`,
		messageID, requestedBy)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
