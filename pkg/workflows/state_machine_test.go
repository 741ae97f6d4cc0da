package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine(t *testing.T) {
	sm := NewStateMachine(map[string][]string{
		"PENDING":   {"IN_ESCROW", "CANCELLED"},
		"IN_ESCROW": {"RELEASED"},
	})

	assert.True(t, sm.CanTransition("PENDING", "IN_ESCROW"))
	assert.False(t, sm.CanTransition("PENDING", "RELEASED"))
	assert.False(t, sm.CanTransition("RELEASED", "PENDING"))
	assert.Equal(t, []string{"RELEASED"}, sm.GetAllowedTransitions("IN_ESCROW"))
	assert.Empty(t, sm.GetAllowedTransitions("CANCELLED"))
	assert.True(t, sm.IsTerminal("CANCELLED"))
	assert.False(t, sm.IsTerminal("PENDING"))
}

func TestStateMachineCopiesTransitions(t *testing.T) {
	transitions := map[string][]string{"A": {"B"}}
	sm := NewStateMachine(transitions)
	transitions["A"][0] = "C"

	assert.True(t, sm.CanTransition("A", "B"))
	sm.GetAllowedTransitions("A")[0] = "D"
	assert.True(t, sm.CanTransition("A", "B"))
}
