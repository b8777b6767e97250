package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
	"clearhaven/redemption-platform/redemption-backend/pkg/workflows"
)

// Verdict is the outcome of evaluating all recorded decisions
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// RoleProvider resolves eligible roles to concrete approver identities
// at assignment time
type RoleProvider interface {
	ResolveApprovers(ctx context.Context, roles []string) ([]uuid.UUID, error)
}

// SettlementEnqueuer hands an approved request to the settlement engine
type SettlementEnqueuer interface {
	Enqueue(requestID uuid.UUID)
}

// Engine evaluates approval configs against incoming approver decisions
type Engine struct {
	repo        redemption.Repository
	roles       RoleProvider
	settlements SettlementEnqueuer
	notifier    notifications.Sink
	logger      *zap.Logger
	locks       *workflows.KeyedMutex
}

func NewEngine(repo redemption.Repository, roles RoleProvider, settlements SettlementEnqueuer, notifier notifications.Sink, logger *zap.Logger) *Engine {
	return &Engine{
		repo:        repo,
		roles:       roles,
		settlements: settlements,
		notifier:    notifier,
		logger:      logger,
		locks:       workflows.NewKeyedMutex(64),
	}
}

// Begin opens the approval phase for a submitted request: auto-approves small
// amounts below the configured threshold, otherwise resolves eligible roles to
// approvers and creates one pending assignment per approver.
func (e *Engine) Begin(ctx context.Context, req *redemption.RedemptionRequest, cfg *redemption.ApprovalConfig) error {
	unlock := e.locks.Lock(req.ID)
	defer unlock()

	if cfg.AutoApproveThreshold != nil && req.TokenAmount.LessThanOrEqual(*cfg.AutoApproveThreshold) {
		return e.autoApprove(ctx, req, cfg)
	}

	var roles []string
	if err := json.Unmarshal(cfg.EligibleRoles, &roles); err != nil {
		return fmt.Errorf("failed to decode eligible roles: %w", err)
	}
	if len(roles) == 0 {
		return &redemption.ValidationError{Field: "eligible_roles", Reason: "must not be empty"}
	}

	approvers, err := e.roles.ResolveApprovers(ctx, roles)
	if err != nil {
		return fmt.Errorf("failed to resolve approvers: %w", err)
	}
	if len(approvers) == 0 {
		return &redemption.ValidationError{Field: "eligible_roles", Reason: "resolved to no approvers"}
	}
	if cfg.ConsensusType == redemption.ConsensusThreshold && cfg.RequiredApprovals > len(approvers) {
		return &redemption.ValidationError{Field: "required_approvals", Reason: "exceeds number of assigned approvers"}
	}

	assignments := make([]redemption.ApproverAssignment, 0, len(approvers))
	for _, approverID := range approvers {
		assignments = append(assignments, redemption.ApproverAssignment{
			RequestID:  req.ID,
			ApproverID: approverID,
			Status:     redemption.DecisionPending,
		})
	}
	if err := e.repo.CreateAssignments(ctx, assignments); err != nil {
		return fmt.Errorf("failed to create approver assignments: %w", err)
	}

	e.logger.Info("approval phase opened",
		zap.String("request_id", req.ID.String()),
		zap.String("consensus_type", string(cfg.ConsensusType)),
		zap.Int("approvers", len(approvers)))
	return nil
}

// autoApprove finalizes the request without assignments, recording a
// synthetic system decision for audit
func (e *Engine) autoApprove(ctx context.Context, req *redemption.RedemptionRequest, cfg *redemption.ApprovalConfig) error {
	detail, _ := json.Marshal(map[string]interface{}{
		"reason":    "auto_approve_threshold",
		"threshold": cfg.AutoApproveThreshold.String(),
		"amount":    req.TokenAmount.String(),
	})
	if err := e.repo.AppendAudit(ctx, &redemption.AuditEntry{
		EntityType: "redemption_request",
		EntityID:   req.ID,
		Action:     "decision.approved",
		ActorID:    &redemption.SystemActorID,
		Detail:     datatypes.JSON(detail),
	}); err != nil {
		return fmt.Errorf("failed to record synthetic decision: %w", err)
	}
	return e.finalize(ctx, req, VerdictApproved, "")
}

// SubmitDecision records an approver's decision and re-evaluates the verdict.
// Decisions arriving after a terminal verdict are kept for audit but do not
// alter status; the caller receives ErrAlreadyFinalized.
func (e *Engine) SubmitDecision(ctx context.Context, requestID, approverID uuid.UUID, decision redemption.DecisionStatus, comment, signature *string) (Verdict, error) {
	if decision != redemption.DecisionApproved && decision != redemption.DecisionRejected {
		return VerdictPending, &redemption.ValidationError{Field: "decision", Reason: "must be approved or rejected"}
	}

	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.repo.GetRequest(ctx, requestID)
	if err != nil {
		return VerdictPending, err
	}

	if req.Status.IsTerminal() || req.Status == redemption.StatusApproved ||
		req.Status == redemption.StatusProcessing || req.Status == redemption.StatusSettled {
		e.recordLateDecision(ctx, requestID, approverID, decision, comment)
		return verdictFor(req.Status), redemption.ErrAlreadyFinalized
	}
	if req.Status != redemption.StatusPendingApproval {
		return VerdictPending, &redemption.ValidationError{Field: "status", Reason: "request is not awaiting approval"}
	}

	assignment, err := e.repo.GetAssignment(ctx, requestID, approverID)
	if errors.Is(err, redemption.ErrNotFound) {
		return VerdictPending, redemption.ErrNotAnAssignedApprover
	}
	if err != nil {
		return VerdictPending, err
	}
	if assignment.Status != redemption.DecisionPending {
		return VerdictPending, redemption.ErrDuplicateDecision
	}

	if err := e.repo.RecordDecision(ctx, requestID, approverID, decision, comment, signature); err != nil {
		return VerdictPending, err
	}

	detail, _ := json.Marshal(map[string]interface{}{"decision": decision})
	e.repo.AppendAudit(ctx, &redemption.AuditEntry{
		EntityType: "redemption_request",
		EntityID:   requestID,
		Action:     "decision." + string(decision),
		ActorID:    &approverID,
		Detail:     datatypes.JSON(detail),
	})
	e.notifier.Notify(ctx, notifications.Event{
		Type:     notifications.EventDecisionRecorded,
		EntityID: requestID,
		Status:   string(decision),
		At:       time.Now(),
	})

	return e.Evaluate(ctx, req)
}

// Evaluate recomputes the verdict from all assignments and finalizes the
// request when the verdict is terminal. Caller must hold the request lock.
func (e *Engine) Evaluate(ctx context.Context, req *redemption.RedemptionRequest) (Verdict, error) {
	cfg, err := e.configFor(ctx, req)
	if err != nil {
		return VerdictPending, err
	}

	assignments, err := e.repo.ListAssignments(ctx, req.ID)
	if err != nil {
		return VerdictPending, err
	}

	t := tallyOf(assignments)
	verdict := evaluators[cfg.ConsensusType](t, requiredFor(req, cfg))
	if verdict == VerdictPending {
		return VerdictPending, nil
	}

	reason := ""
	if verdict == VerdictRejected {
		reason = fmt.Sprintf("consensus %s rejected: %d approved, %d rejected of %d assigned",
			cfg.ConsensusType, t.approved, t.rejected, t.total)
	}
	if err := e.finalize(ctx, req, verdict, reason); err != nil {
		return VerdictPending, err
	}
	return verdict, nil
}

func (e *Engine) configFor(ctx context.Context, req *redemption.RedemptionRequest) (*redemption.ApprovalConfig, error) {
	if req.ApprovalConfigID == nil {
		// No config bound: fall back to a simple threshold on the request itself
		return &redemption.ApprovalConfig{
			ConsensusType:     redemption.ConsensusThreshold,
			RequiredApprovals: req.RequiredApprovals,
		}, nil
	}
	return e.repo.GetApprovalConfig(ctx, *req.ApprovalConfigID)
}

func requiredFor(req *redemption.RedemptionRequest, cfg *redemption.ApprovalConfig) int {
	required := cfg.RequiredApprovals
	if req.RequiredApprovals > required {
		required = req.RequiredApprovals
	}
	if required < 1 {
		required = 1
	}
	return required
}

// finalize writes the terminal verdict and triggers side effects: approved
// standard requests go straight to settlement, approved interval requests
// wait for their window's pricing pass.
func (e *Engine) finalize(ctx context.Context, req *redemption.RedemptionRequest, verdict Verdict, reason string) error {
	now := time.Now()
	req.FinalizedAt = &now

	switch verdict {
	case VerdictApproved:
		req.Status = redemption.StatusApproved
		if req.RedemptionType == redemption.RedemptionTypeStandard && req.NAVUsed == nil {
			// Standard requests settle at the approval-time conversion rate
			rate := req.ConversionRate
			req.NAVUsed = &rate
		}
	case VerdictRejected:
		req.Status = redemption.StatusRejected
		req.RejectionReason = &reason
	default:
		return fmt.Errorf("cannot finalize non-terminal verdict %q", verdict)
	}

	if err := e.repo.SaveRequest(ctx, req); err != nil {
		return err
	}

	detail, _ := json.Marshal(map[string]interface{}{"verdict": verdict, "reason": reason})
	e.repo.AppendAudit(ctx, &redemption.AuditEntry{
		EntityType: "redemption_request",
		EntityID:   req.ID,
		Action:     "verdict." + string(verdict),
		Detail:     datatypes.JSON(detail),
	})
	e.notifier.Notify(ctx, notifications.Event{
		Type:     notifications.EventRequestFinalized,
		EntityID: req.ID,
		Status:   string(req.Status),
		At:       now,
	})

	e.logger.Info("verdict finalized",
		zap.String("request_id", req.ID.String()),
		zap.String("verdict", string(verdict)))

	if verdict == VerdictApproved && req.RedemptionType == redemption.RedemptionTypeStandard {
		e.settlements.Enqueue(req.ID)
	}
	return nil
}

// Assignments lists the approver assignments for a request
func (e *Engine) Assignments(ctx context.Context, requestID uuid.UUID) ([]redemption.ApproverAssignment, error) {
	if _, err := e.repo.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return e.repo.ListAssignments(ctx, requestID)
}

// recordLateDecision keeps post-verdict decisions for audit without touching state
func (e *Engine) recordLateDecision(ctx context.Context, requestID, approverID uuid.UUID, decision redemption.DecisionStatus, comment *string) {
	detail, _ := json.Marshal(map[string]interface{}{
		"decision": decision,
		"comment":  comment,
		"late":     true,
	})
	if err := e.repo.AppendAudit(ctx, &redemption.AuditEntry{
		EntityType: "redemption_request",
		EntityID:   requestID,
		Action:     "decision.late",
		ActorID:    &approverID,
		Detail:     datatypes.JSON(detail),
	}); err != nil {
		e.logger.Warn("failed to record late decision", zap.Error(err))
	}
}

func verdictFor(status redemption.RequestStatus) Verdict {
	switch status {
	case redemption.StatusApproved, redemption.StatusProcessing, redemption.StatusSettled:
		return VerdictApproved
	case redemption.StatusRejected:
		return VerdictRejected
	}
	return VerdictPending
}
