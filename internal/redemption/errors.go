package redemption

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the redemption, consensus, settlement and
// window packages.
var (
	ErrNotFound              = errors.New("entity not found")
	ErrNotAnAssignedApprover = errors.New("approver is not assigned to this request")
	ErrDuplicateDecision     = errors.New("approver has already decided")
	ErrAlreadyFinalized      = errors.New("request verdict already finalized")
	ErrNoOpenWindow          = errors.New("no open redemption window accepts submissions")
	ErrSettlementInProgress  = errors.New("settlement has already begun")
)

// ValidationError rejects bad input before any state change
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConflictError signals a concurrent modification; callers may re-read and retry
type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Entity, e.Reason)
}

// ExternalExecutionError wraps a ledger executor failure; retried per policy
type ExternalExecutionError struct {
	Operation string
	Err       error
}

func (e *ExternalExecutionError) Error() string {
	return fmt.Sprintf("ledger execution failed during %s: %v", e.Operation, e.Err)
}

func (e *ExternalExecutionError) Unwrap() error { return e.Err }

// FatalSettlementError marks a settlement that exhausted retries or failed
// after the burn leg confirmed. Never auto-retried; requires manual resolution.
type FatalSettlementError struct {
	RequestID string
	Leg       string
	Reason    string
}

func (e *FatalSettlementError) Error() string {
	return fmt.Sprintf("settlement for request %s fatally failed on %s leg: %s", e.RequestID, e.Leg, e.Reason)
}

// SchedulingError covers window admission failures and SLA breaches
type SchedulingError struct {
	WindowID string
	Reason   string
}

func (e *SchedulingError) Error() string {
	if e.WindowID == "" {
		return fmt.Sprintf("scheduling error: %s", e.Reason)
	}
	return fmt.Sprintf("scheduling error on window %s: %s", e.WindowID, e.Reason)
}
