package models

import "time"

// AttachmentRecord is the §3 "Attachment Record": objectKey always lives under
// whisper/att/ so the GC pass can defensively re-check the prefix before
// deleting anything.
type AttachmentRecord struct {
	ObjectKey      string
	Owner          string
	ContentType    string
	CiphertextSize int64
	UploadedAt     time.Time
	ExpiresAt      time.Time
}

// AttachmentGrant is §3 "Attachment Access Grant": exists iff the server
// observed a signed envelope referencing ObjectKey addressed to Grantee.
type AttachmentGrant struct {
	ObjectKey string
	GranteeID string
	GrantedAt time.Time
	ExpiresAt time.Time
}

const AttachmentObjectKeyPrefix = "whisper/att/"

// AttachmentUploadTTL and AttachmentDownloadTTL are both 15 minutes per
// spec §4.7 — narrower than the teacher's 1-hour download presign.
const (
	AttachmentUploadTTL   = 15 * time.Minute
	AttachmentDownloadTTL = 15 * time.Minute
	AttachmentLifetime    = 30 * 24 * time.Hour
	MaxAttachmentSize     = 100 * 1024 * 1024
)
