package workflows

// StateMachine enforces monotonic status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewRequestStateMachine covers the redemption request lifecycle
func NewRequestStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"draft":            {"pending_approval", "cancelled"},
			"pending_approval": {"approved", "rejected", "cancelled"},
			"approved":         {"processing", "queued"},
			"queued":           {"pending_approval", "processing", "cancelled"},
			"processing":       {"settled", "failed"},
			"settled":          {},
			"rejected":         {},
			"failed":           {},
			"cancelled":        {},
		},
	}
}

// NewSettlementStateMachine covers the settlement aggregate lifecycle
func NewSettlementStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"pending":          {"processing"},
			"processing":       {"completed", "failed", "failed_post_burn"},
			"completed":        {},
			"failed":           {},
			"failed_post_burn": {},
		},
	}
}

// NewWindowStateMachine covers the redemption window lifecycle
func NewWindowStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"upcoming":   {"open"},
			"open":       {"closed"},
			"closed":     {"processing"},
			"processing": {"completed"},
			"completed":  {},
		},
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
