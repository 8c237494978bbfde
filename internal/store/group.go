package store

import (
	"database/sql"

	"github.com/whisper2/broker/internal/models"
)

func (s *Store) CreateGroup(groupID, title, creator string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO groups (group_id, title, creator, created_at) VALUES ($1, $2, $3, now())`,
		groupID, title, creator); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO group_members (group_id, whisper_id, role, joined_at) VALUES ($1, $2, 'owner', now())`,
		groupID, creator); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AddGroupMember(groupID, whisperID string, role models.GroupRole) error {
	_, err := s.db.Exec(
		`INSERT INTO group_members (group_id, whisper_id, role, joined_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (group_id, whisper_id) DO UPDATE SET role = $3, removed_at = NULL`,
		groupID, whisperID, string(role))
	return err
}

func (s *Store) RemoveGroupMember(groupID, whisperID string) error {
	_, err := s.db.Exec(`UPDATE group_members SET removed_at = now() WHERE group_id = $1 AND whisper_id = $2 AND removed_at IS NULL`,
		groupID, whisperID)
	return err
}

func (s *Store) SetGroupMemberRole(groupID, whisperID string, role models.GroupRole) error {
	_, err := s.db.Exec(`UPDATE group_members SET role = $3 WHERE group_id = $1 AND whisper_id = $2 AND removed_at IS NULL`,
		groupID, whisperID, string(role))
	return err
}

func (s *Store) SetGroupTitle(groupID, title string) error {
	_, err := s.db.Exec(`UPDATE groups SET title = $2 WHERE group_id = $1`, groupID, title)
	return err
}

// GetGroup loads a group with its full membership (including removed
// members, so past-message-isolation checks can distinguish "removed" from
// "never a member").
func (s *Store) GetGroup(groupID string) (*models.Group, error) {
	g := &models.Group{GroupID: groupID}
	row := s.db.QueryRow(`SELECT title, creator, created_at FROM groups WHERE group_id = $1`, groupID)
	if err := row.Scan(&g.Title, &g.Creator, &g.CreatedAt); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT whisper_id, role, joined_at, removed_at FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.GroupMember
		var role string
		var removedAt sql.NullTime
		if err := rows.Scan(&m.WhisperID, &role, &m.JoinedAt, &removedAt); err != nil {
			return nil, err
		}
		m.Role = models.GroupRole(role)
		if removedAt.Valid {
			t := removedAt.Time
			m.RemovedAt = &t
		}
		g.Members = append(g.Members, m)
	}
	return g, nil
}

func (s *Store) ActiveGroupMemberCount(groupID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT count(*) FROM group_members WHERE group_id = $1 AND removed_at IS NULL`, groupID).Scan(&n)
	return n, err
}

func (s *Store) IsActiveMember(groupID, whisperID string) (bool, models.GroupRole, error) {
	var role string
	err := s.db.QueryRow(
		`SELECT role FROM group_members WHERE group_id = $1 AND whisper_id = $2 AND removed_at IS NULL`,
		groupID, whisperID).Scan(&role)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, models.GroupRole(role), nil
}
