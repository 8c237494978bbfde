package store

import (
	"time"

	"github.com/whisper2/broker/internal/models"
)

func (s *Store) CreateAttachmentRecord(r *models.AttachmentRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO attachment_records (object_key, owner, content_type, ciphertext_size, uploaded_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ObjectKey, r.Owner, r.ContentType, r.CiphertextSize, r.UploadedAt, r.ExpiresAt)
	return err
}

func (s *Store) GetAttachmentRecord(objectKey string) (*models.AttachmentRecord, error) {
	row := s.db.QueryRow(
		`SELECT object_key, owner, content_type, ciphertext_size, uploaded_at, expires_at
		 FROM attachment_records WHERE object_key = $1`, objectKey)
	var r models.AttachmentRecord
	if err := row.Scan(&r.ObjectKey, &r.Owner, &r.ContentType, &r.CiphertextSize, &r.UploadedAt, &r.ExpiresAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// GrantAccess creates an access grant iff the server has observed a signed
// envelope referencing objectKey addressed to granteeID (spec §3/§8-5).
// The grant's expiry tracks the attachment's own expiry.
func (s *Store) GrantAccess(objectKey, granteeID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO attachment_grants (object_key, grantee_id, granted_at, expires_at) VALUES ($1, $2, now(), $3)
		 ON CONFLICT (object_key, grantee_id) DO UPDATE SET expires_at = $3`,
		objectKey, granteeID, expiresAt)
	return err
}

func (s *Store) HasActiveGrant(objectKey, granteeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM attachment_grants WHERE object_key = $1 AND grantee_id = $2 AND expires_at > now())`,
		objectKey, granteeID).Scan(&exists)
	return exists, err
}

// GCExpired deletes attachment records (and cascaded grants) whose
// expires_at has passed. The defensive whisper/att/ prefix check from
// spec §4.7 is re-applied here even though every row we ever write already
// satisfies it, to guard against a future writer that doesn't.
func (s *Store) GCExpired(now time.Time) (deletedAttachments int64, deletedGrants int64, err error) {
	res, err := s.db.Exec(
		`DELETE FROM attachment_records WHERE expires_at < $1 AND object_key LIKE $2`,
		now, models.AttachmentObjectKeyPrefix+"%")
	if err != nil {
		return 0, 0, err
	}
	deletedAttachments, _ = res.RowsAffected()

	res2, err := s.db.Exec(`DELETE FROM attachment_grants WHERE expires_at < $1`, now)
	if err != nil {
		return deletedAttachments, 0, err
	}
	deletedGrants, _ = res2.RowsAffected()
	return deletedAttachments, deletedGrants, nil
}
