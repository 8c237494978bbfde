package models

import "time"

type GroupRole string

const (
	RoleOwner  GroupRole = "owner"
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

// MaxGroupMembers bounds active (non-removed) membership, per spec §3/§8.
const MaxGroupMembers = 50

// GroupMember is one row of a group's membership table; RemovedAt nil means
// the member is active. Kept even after removal (RemovedAt set) so past
// message-isolation can distinguish "never a member" from "removed".
type GroupMember struct {
	WhisperID string
	Role      GroupRole
	JoinedAt  time.Time
	RemovedAt *time.Time
}

func (m GroupMember) Active() bool { return m.RemovedAt == nil }

// Group is §3 "Group": exactly one owner invariant is enforced by the
// group engine, never by a unique index alone (promotions/demotions must
// be transactional against it).
type Group struct {
	GroupID   string
	Title     string
	Creator   string
	CreatedAt time.Time
	Members   []GroupMember
}

func (g *Group) Member(whisperID string) *GroupMember {
	for i := range g.Members {
		if g.Members[i].WhisperID == whisperID {
			return &g.Members[i]
		}
	}
	return nil
}

// ActiveMembers returns the whisperIds of members with RemovedAt == nil.
func (g *Group) ActiveMembers() []string {
	out := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Active() {
			out = append(out, m.WhisperID)
		}
	}
	return out
}
