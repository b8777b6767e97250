package redemption

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/pkg/workflows"
)

var decimalOne = decimal.NewFromInt(1)

// WindowAssigner attaches an interval request to the open redemption window
type WindowAssigner interface {
	AssignToWindow(ctx context.Context, req *RedemptionRequest) error
}

// ApprovalStarter opens the approval phase for a submitted request
type ApprovalStarter interface {
	Begin(ctx context.Context, req *RedemptionRequest, cfg *ApprovalConfig) error
}

// Service handles the investor-facing request lifecycle: submission,
// cancellation and lookups. Approval and settlement are driven by their own
// engines once a request is submitted.
type Service interface {
	Submit(ctx context.Context, req *RedemptionRequest) (*RedemptionRequest, error)
	Cancel(ctx context.Context, id, investorID uuid.UUID) (*RedemptionRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*RedemptionRequest, error)
	List(ctx context.Context, status *RequestStatus, limit int) ([]RedemptionRequest, error)
}

type service struct {
	repo      Repository
	windows   WindowAssigner
	approvals ApprovalStarter
	notifier  notifications.Sink
	logger    *zap.Logger
	sm        *workflows.StateMachine
}

func NewService(repo Repository, windows WindowAssigner, approvals ApprovalStarter, notifier notifications.Sink, logger *zap.Logger) Service {
	return &service{
		repo:      repo,
		windows:   windows,
		approvals: approvals,
		notifier:  notifier,
		logger:    logger,
		sm:        workflows.NewRequestStateMachine(),
	}
}

// Submit validates and persists a new request, attaches interval requests to
// the open window, and opens the approval phase
func (s *service) Submit(ctx context.Context, req *RedemptionRequest) (*RedemptionRequest, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	cfg, err := s.repo.GetApprovalConfig(ctx, *req.ApprovalConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval config: %w", err)
	}
	if cfg.ConsensusType == ConsensusThreshold {
		req.RequiredApprovals = cfg.RequiredApprovals
	}

	if req.RedemptionType == RedemptionTypeInterval {
		if err := s.windows.AssignToWindow(ctx, req); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	req.Status = StatusPendingApproval
	req.SubmittedAt = &now
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"token_amount":    req.TokenAmount.String(),
		"token_type":      req.TokenType,
		"redemption_type": req.RedemptionType,
	})
	s.repo.AppendAudit(ctx, &AuditEntry{
		EntityType: "redemption_request",
		EntityID:   req.ID,
		Action:     "request.submitted",
		ActorID:    &req.InvestorID,
		Detail:     datatypes.JSON(detail),
	})
	s.notifier.Notify(ctx, notifications.Event{
		Type:     notifications.EventRequestSubmitted,
		EntityID: req.ID,
		Status:   string(req.Status),
		At:       now,
	})

	if err := s.approvals.Begin(ctx, req, cfg); err != nil {
		return nil, err
	}

	s.logger.Info("redemption request submitted",
		zap.String("request_id", req.ID.String()),
		zap.String("investor_id", req.InvestorID.String()),
		zap.String("token_amount", req.TokenAmount.String()),
		zap.String("redemption_type", string(req.RedemptionType)))
	return req, nil
}

func (s *service) validate(req *RedemptionRequest) error {
	if !req.TokenAmount.IsPositive() {
		return &ValidationError{Field: "token_amount", Reason: "must be positive"}
	}
	if req.TokenType == "" {
		return &ValidationError{Field: "token_type", Reason: "required"}
	}
	if req.SourceWalletAddress == "" {
		return &ValidationError{Field: "source_wallet_address", Reason: "required"}
	}
	if req.DestinationWalletAddress == "" {
		return &ValidationError{Field: "destination_wallet_address", Reason: "required"}
	}
	switch req.RedemptionType {
	case RedemptionTypeStandard, RedemptionTypeInterval:
	case "":
		req.RedemptionType = RedemptionTypeStandard
	default:
		return &ValidationError{Field: "redemption_type", Reason: "must be standard or interval"}
	}
	if req.ApprovalConfigID == nil {
		return &ValidationError{Field: "approval_config_id", Reason: "required"}
	}
	if req.ConversionRate.IsZero() {
		req.ConversionRate = decimalOne
	}
	if !req.ConversionRate.IsPositive() {
		return &ValidationError{Field: "conversion_rate", Reason: "must be positive"}
	}
	return nil
}

// Cancel withdraws the investor's request while it is still withdrawable.
// Once settlement has begun the legs are not cancellable, only retried or
// failed.
func (s *service) Cancel(ctx context.Context, id, investorID uuid.UUID) (*RedemptionRequest, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.InvestorID != investorID {
		return nil, ErrNotFound
	}

	if !req.Status.Cancellable() {
		if req.Status.IsTerminal() {
			return nil, &ConflictError{Entity: "redemption_request", Reason: "request already finalized"}
		}
		return nil, ErrSettlementInProgress
	}

	now := time.Now()
	req.Status = StatusCancelled
	req.FinalizedAt = &now
	if err := s.repo.SaveRequest(ctx, req); err != nil {
		return nil, err
	}

	s.repo.AppendAudit(ctx, &AuditEntry{
		EntityType: "redemption_request",
		EntityID:   req.ID,
		Action:     "request.cancelled",
		ActorID:    &investorID,
		Detail:     datatypes.JSON(`{}`),
	})
	s.notifier.Notify(ctx, notifications.Event{
		Type:     notifications.EventRequestCancelled,
		EntityID: req.ID,
		Status:   string(req.Status),
		At:       now,
	})

	s.logger.Info("redemption request cancelled",
		zap.String("request_id", req.ID.String()),
		zap.String("investor_id", investorID.String()))
	return req, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*RedemptionRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

func (s *service) List(ctx context.Context, status *RequestStatus, limit int) ([]RedemptionRequest, error) {
	if status != nil {
		return s.repo.ListRequestsByStatus(ctx, *status, limit)
	}
	return s.repo.ListRequests(ctx, limit)
}
