package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coffer/internal/domain"
)

// TestRoles_Checks covers the owner and agent role checks.
func TestRoles_Checks(t *testing.T) {
	roles := NewRoles("owner-key", "agent-key")

	tests := []struct {
		name    string
		caller  string
		isOwner bool
		isAgent bool
	}{
		{"owner key", "owner-key", true, true},
		{"agent key", "agent-key", false, true},
		{"unknown key", "other-key", false, false},
		{"empty key", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isOwner, roles.IsOwner(tt.caller))
			assert.Equal(t, tt.isAgent, roles.IsAgent(tt.caller))
		})
	}
}

// TestRoles_UnassignedRoleNeverMatches verifies an empty configured key
// cannot be satisfied, not even by an empty presented key.
func TestRoles_UnassignedRoleNeverMatches(t *testing.T) {
	roles := NewRoles("", "")

	assert.False(t, roles.IsOwner(""))
	assert.False(t, roles.IsAgent(""))
	assert.ErrorIs(t, roles.RequireOwner(""), domain.ErrNotOwner)
	assert.ErrorIs(t, roles.RequireAgent(""), domain.ErrNotAgent)
}

// TestRoles_ConcurrentRotation exercises agent checks racing an agent
// rotation. Run with the race detector; the checks must stay consistent
// with one of the two keys at every point.
func TestRoles_ConcurrentRotation(t *testing.T) {
	roles := NewRoles("owner-key", "agent-0")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			key := "agent-0"
			if i%2 == 1 {
				key = "agent-1"
			}
			require.NoError(t, roles.SetAgent("owner-key", key))
		}
	}()

	for i := 0; i < 1000; i++ {
		// Either key may hold the role mid-rotation; the owner always does.
		roles.IsAgent("agent-0")
		roles.IsAgent("agent-1")
		assert.False(t, roles.IsAgent("some-other-key"))
		assert.NoError(t, roles.RequireAgent("owner-key"))
	}
	<-done
}

// TestRoles_SetAgent verifies agent rotation is owner-gated.
func TestRoles_SetAgent(t *testing.T) {
	roles := NewRoles("owner-key", "agent-key")

	err := roles.SetAgent("agent-key", "new-agent")
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.True(t, roles.IsAgent("agent-key"))

	require.NoError(t, roles.SetAgent("owner-key", "new-agent"))
	assert.True(t, roles.IsAgent("new-agent"))
	assert.False(t, roles.IsAgent("agent-key"))
}
