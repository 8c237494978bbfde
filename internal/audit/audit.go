// Package audit is a trimmed, domain-rewired version of the teacher's
// internal/security/audit.go: an async, batched security-event logger
// backed by Postgres. Event types are narrowed to the decisions spec §7
// calls out as "surfaced": auth/policy decisions, device eviction, admin
// actions — the teacher's much larger catalog (PIN/MFA/recovery-key/
// prekey events) has no equivalent in this system and is dropped rather
// than carried as dead enum values.
package audit

import (
	"database/sql"
	"log"
	"time"
)

type EventType string

const (
	EventRegisterProofOK     EventType = "register_proof_ok"
	EventRegisterProofFailed EventType = "register_proof_failed"
	EventSessionEvicted      EventType = "session_evicted"
	EventForbidden           EventType = "forbidden"
	EventAdminGCRun          EventType = "admin_gc_run"
	EventIdentityBanned      EventType = "identity_banned"
)

type Event struct {
	Type      EventType
	WhisperID string
	Detail    string
	At        time.Time
}

// Logger batches writes the way the teacher's AuditLogger does (a buffered
// channel drained by one background writer) so a slow audit table can
// never block the request path it is observing.
type Logger struct {
	db     *sql.DB
	events chan Event
	done   chan struct{}
}

func NewLogger(db *sql.DB) *Logger {
	l := &Logger{db: db, events: make(chan Event, 1024), done: make(chan struct{})}
	go l.run()
	return l
}

func (l *Logger) run() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]Event, 0, 64)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			if _, err := l.db.Exec(
				`INSERT INTO audit_events (event_type, whisper_id, detail, at) VALUES ($1, $2, $3, $4)`,
				e.Type, e.WhisperID, e.Detail, e.At); err != nil {
				log.Printf("[audit] write failed: %v", err)
			}
		}
		batch = batch[:0]
	}
	for {
		select {
		case e := <-l.events:
			batch = append(batch, e)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			flush()
			return
		}
	}
}

func (l *Logger) Log(eventType EventType, whisperID, detail string) {
	select {
	case l.events <- Event{Type: eventType, WhisperID: whisperID, Detail: detail, At: time.Now()}:
	default:
		log.Printf("[audit] queue full, dropping event %s for %s", eventType, whisperID)
	}
}

func (l *Logger) Shutdown() {
	close(l.done)
}

const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         BIGSERIAL PRIMARY KEY,
	event_type TEXT NOT NULL,
	whisper_id TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
