package window

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
	"clearhaven/redemption-platform/redemption-backend/pkg/pricing"
	"clearhaven/redemption-platform/redemption-backend/pkg/workflows"
)

// SettlementEnqueuer hands priced requests to settlement asynchronously
type SettlementEnqueuer interface {
	Enqueue(requestID uuid.UUID)
}

// Scheduler drives redemption windows through their lifecycle: admits interval
// requests during the submission period, closes and prices the batch against a
// NAV snapshot, scales demand to the window cap, and hands the result to
// settlement.
type Scheduler struct {
	windows     Repository
	requests    redemption.Repository
	settlements SettlementEnqueuer
	oracle      pricing.Oracle
	notifier    notifications.Sink
	logger      *zap.Logger
	sm          *workflows.StateMachine

	// ProcessingSLA bounds how long a window may sit in processing before an
	// operational alert fires
	ProcessingSLA time.Duration
}

func NewScheduler(windows Repository, requests redemption.Repository, settlements SettlementEnqueuer, oracle pricing.Oracle, notifier notifications.Sink, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		windows:       windows,
		requests:      requests,
		settlements:   settlements,
		oracle:        oracle,
		notifier:      notifier,
		logger:        logger,
		sm:            workflows.NewWindowStateMachine(),
		ProcessingSLA: time.Hour,
	}
}

// CreateWindow validates and persists a new window in upcoming status
func (s *Scheduler) CreateWindow(ctx context.Context, w *RedemptionWindow) error {
	if w.TokenType == "" {
		return &redemption.ValidationError{Field: "token_type", Reason: "required"}
	}
	if !w.SubmissionStart.Before(w.SubmissionEnd) {
		return &redemption.ValidationError{Field: "submission_end", Reason: "must be after submission start"}
	}
	if w.SubmissionEnd.After(w.Start) {
		return &redemption.ValidationError{Field: "start", Reason: "processing must begin after submissions end"}
	}
	if w.MaxRedemptionAmount != nil && !w.MaxRedemptionAmount.IsPositive() {
		return &redemption.ValidationError{Field: "max_redemption_amount", Reason: "must be positive"}
	}
	w.Status = StatusUpcoming
	if err := s.windows.Create(ctx, w); err != nil {
		return err
	}
	s.logger.Info("redemption window created",
		zap.String("window_id", w.ID.String()),
		zap.String("token_type", w.TokenType),
		zap.Time("submission_start", w.SubmissionStart),
		zap.Time("submission_end", w.SubmissionEnd))
	return nil
}

// AssignToWindow attaches an interval request to the currently open window
// whose submission period contains now, bumping the window's admission
// counters. The caller persists the request itself.
func (s *Scheduler) AssignToWindow(ctx context.Context, req *redemption.RedemptionRequest) error {
	if req.RedemptionType != redemption.RedemptionTypeInterval {
		return &redemption.ValidationError{Field: "redemption_type", Reason: "only interval requests enter windows"}
	}

	now := time.Now()
	w, err := s.windows.FindOpenWindow(ctx, req.TokenType, now)
	if err != nil {
		return err
	}
	if !w.AcceptsSubmissions(now) {
		return redemption.ErrNoOpenWindow
	}

	if err := s.windows.AddSubmission(ctx, w.ID, req.TokenAmount); err != nil {
		return err
	}
	req.WindowID = &w.ID
	return nil
}

// CloseSubmissions transitions an open window to closed; no further requests
// are admitted afterwards
func (s *Scheduler) CloseSubmissions(ctx context.Context, windowID uuid.UUID) error {
	w, err := s.windows.Get(ctx, windowID)
	if err != nil {
		return err
	}
	if !s.sm.CanTransition(string(w.Status), string(StatusClosed)) {
		return &redemption.SchedulingError{WindowID: w.ID.String(), Reason: "window is not open"}
	}

	w.Status = StatusClosed
	if err := s.windows.Save(ctx, w); err != nil {
		return err
	}

	s.notifyTransition(ctx, w)
	s.logger.Info("window submissions closed",
		zap.String("window_id", w.ID.String()),
		zap.Int("requests", w.CurrentRequests),
		zap.String("total_value", w.TotalRequestValue.String()))
	return nil
}

// PriceAndProcess transitions a closed window to processing: stamps the NAV,
// scales approved demand to the cap, and enqueues settlement for each
// allocated request. Requests cut by pro-rata have their unfilled remainder
// carried over to the next window as a queued child request, or rejected when
// carryover is disabled.
//
// Processing requires every attached request to hold an approval verdict; a
// window with undecided requests is left closed and the call fails.
func (s *Scheduler) PriceAndProcess(ctx context.Context, windowID uuid.UUID, nav *decimal.Decimal) error {
	w, err := s.windows.Get(ctx, windowID)
	if err != nil {
		return err
	}
	if !s.sm.CanTransition(string(w.Status), string(StatusProcessing)) {
		return &redemption.SchedulingError{WindowID: w.ID.String(), Reason: "window is not closed"}
	}

	reqs, err := s.requests.ListRequestsByWindow(ctx, w.ID)
	if err != nil {
		return err
	}

	// Approval barrier: no request's final status is emitted until every
	// request in the window has a verdict
	for i := range reqs {
		switch reqs[i].Status {
		case redemption.StatusDraft, redemption.StatusPendingApproval:
			return &redemption.SchedulingError{
				WindowID: w.ID.String(),
				Reason:   "requests still awaiting approval verdicts",
			}
		}
	}

	navValue, err := s.resolveNAV(ctx, w, nav)
	if err != nil {
		return err
	}

	now := time.Now()
	w.Status = StatusProcessing
	w.NAV = &navValue
	w.NAVDate = &now
	w.ProcessingStartedAt = &now
	if err := s.windows.Save(ctx, w); err != nil {
		return err
	}
	s.notifyTransition(ctx, w)

	s.logger.Info("window processing started",
		zap.String("window_id", w.ID.String()),
		zap.String("nav", navValue.String()),
		zap.Int("requests", len(reqs)))

	return s.processBatch(ctx, w, reqs, navValue)
}

func (s *Scheduler) resolveNAV(ctx context.Context, w *RedemptionWindow, nav *decimal.Decimal) (decimal.Decimal, error) {
	if nav != nil {
		if !nav.IsPositive() {
			return decimal.Zero, &redemption.ValidationError{Field: "nav", Reason: "must be positive"}
		}
		return *nav, nil
	}
	value, err := s.oracle.NAVAt(ctx, w.TokenType, w.SubmissionEnd)
	if err != nil {
		return decimal.Zero, &redemption.SchedulingError{WindowID: w.ID.String(), Reason: "no NAV available: " + err.Error()}
	}
	return value, nil
}

// processBatch allocates the window's approved demand and emits each request's
// final outcome
func (s *Scheduler) processBatch(ctx context.Context, w *RedemptionWindow, reqs []redemption.RedemptionRequest, nav decimal.Decimal) error {
	byID := make(map[uuid.UUID]*redemption.RedemptionRequest, len(reqs))
	var entries []Entry
	for i := range reqs {
		req := &reqs[i]
		switch req.Status {
		case redemption.StatusApproved, redemption.StatusQueued:
			byID[req.ID] = req
			entries = append(entries, Entry{ID: req.ID, Amount: req.TokenAmount})
		case redemption.StatusRejected:
			if err := s.windows.AddOutcome(ctx, w.ID, "rejected_value", req.TokenAmount); err != nil {
				s.logger.Warn("failed to record rejected value", zap.Error(err))
			}
		}
	}

	allocations := s.allocate(w, entries)

	for _, alloc := range allocations {
		req := byID[alloc.ID]
		if alloc.Scaled.IsZero() {
			if err := s.deferRequest(ctx, w, req, req.TokenAmount); err != nil {
				s.logger.Error("failed to defer unallocated request",
					zap.String("request_id", req.ID.String()), zap.Error(err))
			}
			continue
		}
		if err := s.dispatchRequest(ctx, w, req, alloc, nav); err != nil {
			s.logger.Error("failed to dispatch allocated request",
				zap.String("request_id", req.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) allocate(w *RedemptionWindow, entries []Entry) []Allocation {
	if w.EnableProRata && w.MaxRedemptionAmount != nil {
		return Allocate(*w.MaxRedemptionAmount, entries)
	}
	allocations := make([]Allocation, len(entries))
	for i, e := range entries {
		allocations[i] = Allocation{ID: e.ID, Scaled: e.Amount, Remainder: decimal.Zero}
	}
	return allocations
}

// dispatchRequest prices one allocated request and hands it to settlement. A
// pro-rata-cut request settles its scaled amount now; the remainder becomes a
// queued carryover request for the next window.
func (s *Scheduler) dispatchRequest(ctx context.Context, w *RedemptionWindow, req *redemption.RedemptionRequest, alloc Allocation, nav decimal.Decimal) error {
	if alloc.Remainder.IsPositive() {
		if err := s.carryOver(ctx, w, req, alloc.Remainder); err != nil {
			return err
		}
		req.TokenAmount = alloc.Scaled
	}

	if req.DistributionID != nil {
		if err := s.requests.DrawDownDistribution(ctx, *req.DistributionID, req.ID, alloc.Scaled); err != nil {
			// Pool exhausted: the whole request waits for the next window
			s.logger.Warn("distribution draw-down failed, deferring request",
				zap.String("request_id", req.ID.String()),
				zap.String("distribution_id", req.DistributionID.String()),
				zap.Error(err))
			return s.deferRequest(ctx, w, req, alloc.Scaled)
		}
	}

	req.NAVUsed = &nav
	req.Status = redemption.StatusProcessing
	if err := s.requests.SaveRequest(ctx, req); err != nil {
		return err
	}
	if err := s.windows.AddOutcome(ctx, w.ID, "approved_value", alloc.Scaled); err != nil {
		s.logger.Warn("failed to record approved value", zap.Error(err))
	}

	s.settlements.Enqueue(req.ID)
	return nil
}

// carryOver creates a queued child request holding the unfilled remainder, or
// records it as rejected demand when carryover is disabled
func (s *Scheduler) carryOver(ctx context.Context, w *RedemptionWindow, req *redemption.RedemptionRequest, remainder decimal.Decimal) error {
	if !w.QueueUnprocessed {
		if err := s.windows.AddOutcome(ctx, w.ID, "rejected_value", remainder); err != nil {
			s.logger.Warn("failed to record rejected value", zap.Error(err))
		}
		s.audit(ctx, req.ID, "prorata_remainder_rejected", map[string]interface{}{
			"window_id": w.ID.String(),
			"remainder": remainder.String(),
		})
		return nil
	}

	child := &redemption.RedemptionRequest{
		InvestorID:               req.InvestorID,
		InvestorCount:            req.InvestorCount,
		TokenAmount:              remainder,
		TokenType:                req.TokenType,
		ConversionRate:           req.ConversionRate,
		SourceWalletAddress:      req.SourceWalletAddress,
		DestinationWalletAddress: req.DestinationWalletAddress,
		RedemptionType:           redemption.RedemptionTypeInterval,
		Status:                   redemption.StatusQueued,
		ApprovalConfigID:         req.ApprovalConfigID,
		RequiredApprovals:        req.RequiredApprovals,
		DistributionID:           req.DistributionID,
		ParentRequestID:          &req.ID,
	}
	if err := s.requests.CreateRequest(ctx, child); err != nil {
		return err
	}
	if err := s.windows.AddOutcome(ctx, w.ID, "queued_value", remainder); err != nil {
		s.logger.Warn("failed to record queued value", zap.Error(err))
	}

	s.audit(ctx, child.ID, "prorata_remainder_queued", map[string]interface{}{
		"window_id": w.ID.String(),
		"parent_id": req.ID.String(),
		"remainder": remainder.String(),
	})
	s.logger.Info("pro-rata remainder queued for next window",
		zap.String("request_id", req.ID.String()),
		zap.String("carryover_id", child.ID.String()),
		zap.String("remainder", remainder.String()))
	return nil
}

// deferRequest routes a request that received no allocation this window:
// queued for the next window, or rejected when carryover is disabled
func (s *Scheduler) deferRequest(ctx context.Context, w *RedemptionWindow, req *redemption.RedemptionRequest, amount decimal.Decimal) error {
	if w.QueueUnprocessed {
		req.Status = redemption.StatusQueued
		req.WindowID = nil
		if err := s.requests.SaveRequest(ctx, req); err != nil {
			return err
		}
		if err := s.windows.AddOutcome(ctx, w.ID, "queued_value", amount); err != nil {
			s.logger.Warn("failed to record queued value", zap.Error(err))
		}
		s.audit(ctx, req.ID, "window_carryover_queued", map[string]interface{}{
			"window_id": w.ID.String(),
			"amount":    amount.String(),
		})
		return nil
	}

	reason := "window capacity exhausted"
	req.Status = redemption.StatusRejected
	req.RejectionReason = &reason
	if err := s.requests.SaveRequest(ctx, req); err != nil {
		return err
	}
	if err := s.windows.AddOutcome(ctx, w.ID, "rejected_value", amount); err != nil {
		s.logger.Warn("failed to record rejected value", zap.Error(err))
	}
	s.audit(ctx, req.ID, "window_capacity_rejected", map[string]interface{}{
		"window_id": w.ID.String(),
		"amount":    amount.String(),
	})
	return nil
}

// Complete transitions a processing window to completed once every attached
// request reached a terminal settlement or queued state
func (s *Scheduler) Complete(ctx context.Context, windowID uuid.UUID) error {
	w, err := s.windows.Get(ctx, windowID)
	if err != nil {
		return err
	}
	if !s.sm.CanTransition(string(w.Status), string(StatusCompleted)) {
		return &redemption.SchedulingError{WindowID: w.ID.String(), Reason: "window is not processing"}
	}

	reqs, err := s.requests.ListRequestsByWindow(ctx, w.ID)
	if err != nil {
		return err
	}
	for i := range reqs {
		status := reqs[i].Status
		if !status.IsTerminal() && status != redemption.StatusQueued {
			return &redemption.SchedulingError{
				WindowID: w.ID.String(),
				Reason:   "requests still settling",
			}
		}
	}

	now := time.Now()
	w.Status = StatusCompleted
	w.CompletedAt = &now
	if err := s.windows.Save(ctx, w); err != nil {
		return err
	}

	s.notifyTransition(ctx, w)
	s.logger.Info("window completed",
		zap.String("window_id", w.ID.String()),
		zap.String("approved_value", w.ApprovedValue.String()),
		zap.String("queued_value", w.QueuedValue.String()),
		zap.String("rejected_value", w.RejectedValue.String()))
	return nil
}

// Sweep runs one lifecycle pass: opens due windows (re-admitting queued
// carryover requests), closes and prices windows past their submission end,
// completes settled windows, and raises SLA alerts for stuck ones. Driven by
// cron from the window worker.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now()

	dueOpen, err := s.windows.ListDueForOpen(ctx, now)
	if err != nil {
		s.logger.Error("window sweep: listing due-for-open failed", zap.Error(err))
	}
	for i := range dueOpen {
		s.openWindow(ctx, &dueOpen[i])
	}

	dueClose, err := s.windows.ListDueForClose(ctx, now)
	if err != nil {
		s.logger.Error("window sweep: listing due-for-close failed", zap.Error(err))
	}
	for i := range dueClose {
		w := &dueClose[i]
		if err := s.CloseSubmissions(ctx, w.ID); err != nil {
			s.logger.Error("window sweep: close failed",
				zap.String("window_id", w.ID.String()), zap.Error(err))
			continue
		}
		if err := s.PriceAndProcess(ctx, w.ID, nil); err != nil {
			// Approval barrier or missing NAV; the next sweep retries
			s.logger.Warn("window sweep: processing deferred",
				zap.String("window_id", w.ID.String()), zap.Error(err))
		}
	}

	s.sweepProcessing(ctx, now)
}

func (s *Scheduler) openWindow(ctx context.Context, w *RedemptionWindow) {
	if !s.sm.CanTransition(string(w.Status), string(StatusOpen)) {
		return
	}
	w.Status = StatusOpen
	if err := s.windows.Save(ctx, w); err != nil {
		s.logger.Error("window sweep: open failed",
			zap.String("window_id", w.ID.String()), zap.Error(err))
		return
	}
	s.notifyTransition(ctx, w)
	s.logger.Info("window opened", zap.String("window_id", w.ID.String()))

	s.admitQueued(ctx, w)
}

// admitQueued re-attaches queued carryover requests of the window's token type
func (s *Scheduler) admitQueued(ctx context.Context, w *RedemptionWindow) {
	queued, err := s.requests.ListRequestsByStatus(ctx, redemption.StatusQueued, 0)
	if err != nil {
		s.logger.Error("failed to list queued requests", zap.Error(err))
		return
	}
	for i := range queued {
		req := &queued[i]
		if req.TokenType != w.TokenType || req.WindowID != nil {
			continue
		}
		if err := s.windows.AddSubmission(ctx, w.ID, req.TokenAmount); err != nil {
			s.logger.Warn("failed to admit queued request",
				zap.String("request_id", req.ID.String()), zap.Error(err))
			continue
		}
		req.WindowID = &w.ID
		if err := s.requests.SaveRequest(ctx, req); err != nil {
			s.logger.Warn("failed to attach queued request",
				zap.String("request_id", req.ID.String()), zap.Error(err))
			continue
		}
		s.logger.Info("queued request re-entered window",
			zap.String("request_id", req.ID.String()),
			zap.String("window_id", w.ID.String()))
	}
}

// sweepProcessing tries to complete processing windows and alerts on any
// stuck past the SLA. Stuck windows are never auto-retried: a breach implies
// NAV or pro-rata computation is incomplete and needs an operator.
func (s *Scheduler) sweepProcessing(ctx context.Context, now time.Time) {
	stuck, err := s.windows.ListStuckProcessing(ctx, now.Add(-s.ProcessingSLA))
	if err != nil {
		s.logger.Error("window sweep: listing processing windows failed", zap.Error(err))
		return
	}
	for i := range stuck {
		w := &stuck[i]
		if err := s.Complete(ctx, w.ID); err == nil {
			continue
		}
		s.notifier.Notify(ctx, notifications.Event{
			Type:     notifications.EventWindowSLABreach,
			EntityID: w.ID,
			Status:   string(w.Status),
			Detail: map[string]interface{}{
				"processing_started_at": w.ProcessingStartedAt,
				"sla":                   s.ProcessingSLA.String(),
			},
			At: now,
		})
		s.logger.Error("window stuck in processing past SLA",
			zap.String("window_id", w.ID.String()),
			zap.Timep("processing_started_at", w.ProcessingStartedAt),
			zap.Duration("sla", s.ProcessingSLA))
	}
}

func (s *Scheduler) notifyTransition(ctx context.Context, w *RedemptionWindow) {
	s.notifier.Notify(ctx, notifications.Event{
		Type:     notifications.EventWindowTransitioned,
		EntityID: w.ID,
		Status:   string(w.Status),
		At:       time.Now(),
	})
}

func (s *Scheduler) audit(ctx context.Context, entityID uuid.UUID, action string, detail map[string]interface{}) {
	payload, _ := json.Marshal(detail)
	entry := &redemption.AuditEntry{
		EntityType: "redemption_request",
		EntityID:   entityID,
		Action:     action,
		ActorID:    &redemption.SystemActorID,
		Detail:     datatypes.JSON(payload),
	}
	if err := s.requests.AppendAudit(ctx, entry); err != nil {
		s.logger.Warn("failed to append audit entry", zap.Error(err))
	}
}
