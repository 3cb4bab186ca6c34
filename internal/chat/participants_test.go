package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyParticipants(t *testing.T) {
	tests := []struct {
		name             string
		idA, roleA       string
		idB, roleB       string
		wantPrimary      string
		wantCounterparty string
	}{
		{"user and consultant", "u", "user", "c", "consultant", "u", "c"},
		{"consultant and user", "c", "consultant", "u", "user", "u", "c"},
		{"two users", "a", "user", "b", "user", "a", "b"},
		{"two consultants", "a", "consultant", "b", "consultant", "a", "b"},
		{"unknown roles", "a", "", "b", "", "a", "b"},
		{"role casing", "c", " Consultant ", "u", "", "u", "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, counterparty := ClassifyParticipants(tt.idA, tt.roleA, tt.idB, tt.roleB)
			assert.Equal(t, tt.wantPrimary, primary)
			assert.Equal(t, tt.wantCounterparty, counterparty)
		})
	}
}

func TestRolePolicyCustomRoles(t *testing.T) {
	p := NewRolePolicy("therapist", "Coach")

	assert.True(t, p.IsProvider("coach"))
	assert.False(t, p.IsProvider("consultant"))

	primary, counterparty := p.Classify("t", "therapist", "u", "user")
	assert.Equal(t, "u", primary)
	assert.Equal(t, "t", counterparty)
}
