package consensus

import "clearhaven/redemption-platform/redemption-backend/internal/redemption"

type tally struct {
	approved int
	rejected int
	pending  int
	total    int
}

func tallyOf(assignments []redemption.ApproverAssignment) tally {
	t := tally{total: len(assignments)}
	for _, a := range assignments {
		switch a.Status {
		case redemption.DecisionApproved:
			t.approved++
		case redemption.DecisionRejected:
			t.rejected++
		default:
			t.pending++
		}
	}
	return t
}

type evaluateFunc func(t tally, required int) Verdict

// evaluators dispatches on the consensus type. Rejection is fail-fast for
// every type: a verdict is emitted the moment it becomes mathematically
// unreachable, without waiting for remaining approvers.
var evaluators = map[redemption.ConsensusType]evaluateFunc{
	redemption.ConsensusAll:       evaluateAll,
	redemption.ConsensusMajority:  evaluateMajority,
	redemption.ConsensusThreshold: evaluateThreshold,
}

// evaluateAll approves only on unanimity; a single rejection finalizes
func evaluateAll(t tally, required int) Verdict {
	if t.rejected > 0 {
		return VerdictRejected
	}
	if t.total > 0 && t.approved == t.total {
		return VerdictApproved
	}
	return VerdictPending
}

// evaluateMajority approves on strict majority; rejects once a majority
// is unreachable (rejected >= total - floor(total/2))
func evaluateMajority(t tally, required int) Verdict {
	if t.total == 0 {
		return VerdictPending
	}
	if t.approved > t.total/2 {
		return VerdictApproved
	}
	if t.rejected >= t.total-t.total/2 {
		return VerdictRejected
	}
	return VerdictPending
}

// evaluateThreshold approves once approvedCount reaches the required count;
// rejects once the remaining pending votes cannot reach it
func evaluateThreshold(t tally, required int) Verdict {
	if t.approved >= required {
		return VerdictApproved
	}
	if t.approved+t.pending < required {
		return VerdictRejected
	}
	return VerdictPending
}
