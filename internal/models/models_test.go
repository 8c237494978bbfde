package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCall_Deadline(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ringing := &Call{State: CallRinging, CreatedAt: created}
	assert.Equal(t, created.Add(RingingTTL), ringing.Deadline())

	connected := &Call{State: CallConnected, CreatedAt: created}
	assert.Equal(t, created.Add(ConnectedTTL), connected.Deadline())
}

func TestCall_PartyAndOther(t *testing.T) {
	c := &Call{CallerID: "WSP-AAAA-AAAA-AAAA", CalleeID: "WSP-BBBB-BBBB-BBBB"}
	assert.True(t, c.Party(c.CallerID))
	assert.True(t, c.Party(c.CalleeID))
	assert.False(t, c.Party("WSP-CCCC-CCCC-CCCC"))

	assert.Equal(t, c.CalleeID, c.Other(c.CallerID))
	assert.Equal(t, c.CallerID, c.Other(c.CalleeID))
}

func TestGroup_ActiveMembersExcludesRemoved(t *testing.T) {
	removedAt := time.Now()
	g := &Group{
		GroupID: "g1",
		Members: []GroupMember{
			{WhisperID: "a", Role: RoleOwner},
			{WhisperID: "b", Role: RoleMember, RemovedAt: &removedAt},
			{WhisperID: "c", Role: RoleMember},
		},
	}
	assert.ElementsMatch(t, []string{"a", "c"}, g.ActiveMembers())
}

func TestGroup_Member(t *testing.T) {
	g := &Group{Members: []GroupMember{{WhisperID: "a"}}}
	assert.NotNil(t, g.Member("a"))
	assert.Nil(t, g.Member("nonexistent"))
}

func TestGroupMember_Active(t *testing.T) {
	active := GroupMember{WhisperID: "a"}
	assert.True(t, active.Active())

	removedAt := time.Now()
	removed := GroupMember{WhisperID: "b", RemovedAt: &removedAt}
	assert.False(t, removed.Active())
}
