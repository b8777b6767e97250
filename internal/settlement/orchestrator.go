package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
	"clearhaven/redemption-platform/redemption-backend/internal/settlement/ledger"
	"clearhaven/redemption-platform/redemption-backend/pkg/workflows"
)

// Config tunes settlement execution
type Config struct {
	Retry               RetryPolicy
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
	SettlementCurrency  string
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Retry:               DefaultRetryPolicy(),
		ConfirmPollInterval: 10 * time.Second,
		ConfirmTimeout:      5 * time.Minute,
		SettlementCurrency:  "USD",
	}
}

// Orchestrator drives a settlement through its burn and transfer legs.
// Execution is idempotent per request: a settlement that already reached a
// terminal state is returned unchanged, and leg submissions are keyed so the
// executor never performs the same operation twice.
type Orchestrator struct {
	repo     Repository
	requests redemption.Repository
	exec     ledger.Executor
	cfg      Config
	notifier notifications.Sink
	logger   *zap.Logger
	locks    *workflows.KeyedMutex
	sm       *workflows.StateMachine
}

func NewOrchestrator(repo Repository, requests redemption.Repository, exec ledger.Executor, cfg Config, notifier notifications.Sink, logger *zap.Logger) *Orchestrator {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.ConfirmPollInterval == 0 {
		cfg.ConfirmPollInterval = 10 * time.Second
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 5 * time.Minute
	}
	if cfg.SettlementCurrency == "" {
		cfg.SettlementCurrency = "USD"
	}
	return &Orchestrator{
		repo:     repo,
		requests: requests,
		exec:     exec,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		locks:    workflows.NewKeyedMutex(64),
		sm:       workflows.NewSettlementStateMachine(),
	}
}

// Enqueue hands the request to settlement asynchronously; used by the
// consensus engine on approval
func (o *Orchestrator) Enqueue(requestID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := o.Execute(ctx, requestID); err != nil {
			o.logger.Error("settlement execution failed",
				zap.String("request_id", requestID.String()),
				zap.Error(err))
		}
	}()
}

// Execute creates or resumes the settlement for an approved request and
// drives both legs to completion. Safe to call repeatedly and concurrently.
func (o *Orchestrator) Execute(ctx context.Context, requestID uuid.UUID) (*Settlement, error) {
	unlock := o.locks.Lock(requestID)
	defer unlock()

	req, err := o.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	st, err := o.repo.GetByRequest(ctx, requestID)
	switch {
	case errors.Is(err, redemption.ErrNotFound):
		st, err = o.createSettlement(ctx, req)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if st.Status.IsTerminal() {
			return st, nil
		}
	}

	return st, o.drive(ctx, st, req)
}

func (o *Orchestrator) createSettlement(ctx context.Context, req *redemption.RedemptionRequest) (*Settlement, error) {
	if req.Status != redemption.StatusApproved && req.Status != redemption.StatusProcessing {
		return nil, &redemption.ValidationError{Field: "status", Reason: "request is not approved for settlement"}
	}

	nav := req.ConversionRate
	if req.NAVUsed != nil {
		nav = *req.NAVUsed
	}

	settlementType := TypeStandard
	if req.RedemptionType == redemption.RedemptionTypeInterval {
		settlementType = TypeInterval
	}

	st := &Settlement{
		RequestID:    req.ID,
		Type:         settlementType,
		Status:       StatusPending,
		NAVUsed:      nav,
		ExchangeRate: req.ConversionRate,
		Burn:         BurnLeg{Leg: Leg{Status: LegNotStarted}},
		Transfer: TransferLeg{
			Leg:      Leg{Status: LegNotStarted},
			Amount:   req.TokenAmount.Mul(nav).Round(4),
			Currency: o.cfg.SettlementCurrency,
		},
	}

	if err := o.repo.Create(ctx, st); err != nil {
		var conflict *redemption.ConflictError
		if errors.As(err, &conflict) {
			// Lost the race to a concurrent Execute; use its settlement
			return o.repo.GetByRequest(ctx, req.ID)
		}
		return nil, err
	}

	if req.Status == redemption.StatusApproved {
		if err := o.updateRequestStatus(ctx, req, redemption.StatusProcessing); err != nil {
			return nil, err
		}
	}

	o.logger.Info("settlement created",
		zap.String("settlement_id", st.ID.String()),
		zap.String("request_id", req.ID.String()),
		zap.String("nav", nav.String()))
	return st, nil
}

// drive runs the legs in order: burn first, transfer only after the burn
// confirms. A transfer failure after a confirmed burn is the distinct
// failed_post_burn state requiring manual intervention.
func (o *Orchestrator) drive(ctx context.Context, st *Settlement, req *redemption.RedemptionRequest) error {
	if st.Status == StatusPending {
		st.Status = StatusProcessing
		if err := o.repo.Save(ctx, st); err != nil {
			return err
		}
	}

	if st.Burn.Status != LegConfirmed {
		if err := o.driveLeg(ctx, st, req, ledger.KindBurn); err != nil {
			return o.failSettlement(ctx, st, req, StatusFailed, ledger.KindBurn, err)
		}
	}

	if st.Transfer.Status != LegConfirmed {
		if err := o.driveLeg(ctx, st, req, ledger.KindTransfer); err != nil {
			return o.failSettlement(ctx, st, req, StatusFailedPostBurn, ledger.KindTransfer, err)
		}
	}

	now := o.cfg.Retry.clock().Now()
	st.Status = StatusCompleted
	st.CompletedAt = &now
	if err := o.repo.Save(ctx, st); err != nil {
		return err
	}
	if err := o.updateRequestStatus(ctx, req, redemption.StatusSettled); err != nil {
		return err
	}

	o.notifier.Notify(ctx, notifications.Event{
		Type:     notifications.EventSettlementUpdated,
		EntityID: st.ID,
		Status:   string(StatusCompleted),
		At:       now,
	})
	o.logger.Info("settlement completed",
		zap.String("settlement_id", st.ID.String()),
		zap.String("request_id", st.RequestID.String()))
	return nil
}

// driveLeg submits one leg and sees it through confirmation, retrying failed
// attempts with backoff up to the policy bound
func (o *Orchestrator) driveLeg(ctx context.Context, st *Settlement, req *redemption.RedemptionRequest, kind ledger.InstructionKind) error {
	key := ledger.IdempotencyKey(st.RequestID, kind)
	instr := o.instructionFor(st, req, kind)
	leg := o.legFor(st, kind)
	clock := o.cfg.Retry.clock()

	for {
		result, err := o.exec.Submit(ctx, key, instr)

		if err == nil && result.Status == ledger.ExecPending {
			now := clock.Now()
			leg.Status = LegPending
			leg.SubmittedAt = &now
			if result.TxHash != "" {
				hash := result.TxHash
				leg.TxHash = &hash
			}
			if saveErr := o.repo.Save(ctx, st); saveErr != nil {
				return saveErr
			}
			result, err = o.awaitConfirmation(ctx, key)
		}

		if err == nil && result.Status == ledger.ExecConfirmed {
			now := clock.Now()
			leg.Status = LegConfirmed
			leg.ConfirmedAt = &now
			if result.TxHash != "" {
				hash := result.TxHash
				leg.TxHash = &hash
			}
			if kind == ledger.KindBurn {
				st.Burn.GasUsed = result.GasUsed
			}
			st.LastError = nil
			return o.repo.Save(ctx, st)
		}

		reason := "ledger execution failed"
		if err != nil {
			reason = err.Error()
		} else if result.Err != "" {
			reason = result.Err
		}

		now := clock.Now()
		st.RetryCount++
		st.LastRetryAt = &now
		st.LastError = &reason
		if saveErr := o.repo.Save(ctx, st); saveErr != nil {
			return saveErr
		}

		if st.RetryCount >= o.cfg.Retry.MaxAttempts {
			leg.Status = LegFailed
			if saveErr := o.repo.Save(ctx, st); saveErr != nil {
				return saveErr
			}
			return &redemption.ExternalExecutionError{Operation: string(kind), Err: errors.New(reason)}
		}

		o.logger.Warn("settlement leg attempt failed, retrying",
			zap.String("request_id", st.RequestID.String()),
			zap.String("leg", string(kind)),
			zap.Int("retry_count", st.RetryCount),
			zap.String("reason", reason))

		if err := clock.Sleep(ctx, o.cfg.Retry.Backoff(st.RetryCount)); err != nil {
			return err
		}
	}
}

// awaitConfirmation polls the executor until the submission leaves pending
// or the confirmation timeout elapses
func (o *Orchestrator) awaitConfirmation(ctx context.Context, key string) (*ledger.Result, error) {
	clock := o.cfg.Retry.clock()
	deadline := clock.Now().Add(o.cfg.ConfirmTimeout)

	for {
		result, err := o.exec.QueryStatus(ctx, key)
		if err != nil {
			return nil, err
		}
		if result.Status != ledger.ExecPending {
			return result, nil
		}
		if !clock.Now().Before(deadline) {
			return nil, &redemption.ExternalExecutionError{Operation: "confirmation", Err: errors.New("confirmation timed out")}
		}
		if err := clock.Sleep(ctx, o.cfg.ConfirmPollInterval); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) instructionFor(st *Settlement, req *redemption.RedemptionRequest, kind ledger.InstructionKind) ledger.Instruction {
	instr := ledger.Instruction{
		Kind:      kind,
		RequestID: req.ID,
		TokenType: req.TokenType,
		Source:    req.SourceWalletAddress,
		Memo:      ledger.IdempotencyKey(req.ID, kind),
	}
	switch kind {
	case ledger.KindBurn:
		instr.Amount = req.TokenAmount
	case ledger.KindTransfer:
		instr.Amount = st.Transfer.Amount
		instr.Currency = st.Transfer.Currency
		instr.Destination = req.DestinationWalletAddress
	}
	return instr
}

func (o *Orchestrator) legFor(st *Settlement, kind ledger.InstructionKind) *Leg {
	if kind == ledger.KindBurn {
		return &st.Burn.Leg
	}
	return &st.Transfer.Leg
}

// failSettlement records the terminal failure on both the settlement and its
// request and raises the operational alert
func (o *Orchestrator) failSettlement(ctx context.Context, st *Settlement, req *redemption.RedemptionRequest, status Status, kind ledger.InstructionKind, cause error) error {
	if o.sm.CanTransition(string(st.Status), string(status)) {
		st.Status = status
		if err := o.repo.Save(ctx, st); err != nil {
			return err
		}
	}
	if err := o.updateRequestStatus(ctx, req, redemption.StatusFailed); err != nil {
		o.logger.Error("failed to mark request failed", zap.Error(err))
	}

	o.notifier.Notify(ctx, notifications.Event{
		Type:     notifications.EventSettlementFatal,
		EntityID: st.ID,
		Status:   string(status),
		Detail:   map[string]interface{}{"leg": string(kind), "reason": cause.Error()},
		At:       o.cfg.Retry.clock().Now(),
	})
	o.logger.Error("settlement fatally failed",
		zap.String("settlement_id", st.ID.String()),
		zap.String("request_id", st.RequestID.String()),
		zap.String("leg", string(kind)),
		zap.Error(cause))

	return &redemption.FatalSettlementError{
		RequestID: st.RequestID.String(),
		Leg:       string(kind),
		Reason:    cause.Error(),
	}
}

// updateRequestStatus saves with one conflict retry; the request may have
// been touched by a window counter update since we loaded it
func (o *Orchestrator) updateRequestStatus(ctx context.Context, req *redemption.RedemptionRequest, status redemption.RequestStatus) error {
	req.Status = status
	err := o.requests.SaveRequest(ctx, req)
	var conflict *redemption.ConflictError
	if errors.As(err, &conflict) {
		fresh, getErr := o.requests.GetRequest(ctx, req.ID)
		if getErr != nil {
			return getErr
		}
		fresh.Status = status
		if saveErr := o.requests.SaveRequest(ctx, fresh); saveErr != nil {
			return saveErr
		}
		*req = *fresh
		return nil
	}
	return err
}
