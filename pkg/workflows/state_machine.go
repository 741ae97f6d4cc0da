package workflows

import "slices"

// StateMachine enforces status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine with the given allowed transitions.
// Statuses absent from the map are terminal.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	copied := make(map[string][]string, len(transitions))
	for from, to := range transitions {
		copied[from] = slices.Clone(to)
	}
	return &StateMachine{allowedTransitions: copied}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	return slices.Contains(sm.allowedTransitions[from], to)
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return slices.Clone(allowed)
}

// IsTerminal reports whether no transition leaves from
func (sm *StateMachine) IsTerminal(from string) bool {
	return len(sm.allowedTransitions[from]) == 0
}
