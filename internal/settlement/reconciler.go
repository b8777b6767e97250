package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clearhaven/redemption-platform/redemption-backend/internal/settlement/ledger"
)

// Reconciler sweeps settlements whose legs sat pending beyond a timeout and
// re-queries the executor for their true status. This recovers from executor
// or process crashes without double-submission, relying on the idempotency
// key for safety.
type Reconciler struct {
	repo         Repository
	exec         ledger.Executor
	orchestrator *Orchestrator
	logger       *zap.Logger

	PendingTimeout time.Duration
	BatchSize      int
}

func NewReconciler(repo Repository, exec ledger.Executor, orchestrator *Orchestrator, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:           repo,
		exec:           exec,
		orchestrator:   orchestrator,
		logger:         logger,
		PendingTimeout: 10 * time.Minute,
		BatchSize:      50,
	}
}

// Sweep runs one reconciliation pass
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.PendingTimeout)
	stale, err := r.repo.ListStalePending(ctx, cutoff, r.BatchSize)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	r.logger.Info("reconciling stale settlements", zap.Int("count", len(stale)))

	for i := range stale {
		r.reconcile(ctx, &stale[i])
	}
	return nil
}

// reconcile refreshes the stale leg from the executor, then resumes the
// settlement through the normal execution path
func (r *Reconciler) reconcile(ctx context.Context, st *Settlement) {
	kind := ledger.KindBurn
	leg := &st.Burn.Leg
	if st.Burn.Status == LegConfirmed {
		kind = ledger.KindTransfer
		leg = &st.Transfer.Leg
	}
	if leg.Status != LegPending {
		return
	}

	key := ledger.IdempotencyKey(st.RequestID, kind)
	result, err := r.exec.QueryStatus(ctx, key)
	if err != nil {
		r.logger.Warn("reconciliation query failed",
			zap.String("settlement_id", st.ID.String()),
			zap.String("leg", string(kind)),
			zap.Error(err))
		return
	}

	switch result.Status {
	case ledger.ExecConfirmed:
		now := time.Now()
		leg.Status = LegConfirmed
		leg.ConfirmedAt = &now
		if result.TxHash != "" {
			hash := result.TxHash
			leg.TxHash = &hash
		}
		if kind == ledger.KindBurn {
			st.Burn.GasUsed = result.GasUsed
		}
		if err := r.repo.Save(ctx, st); err != nil {
			r.logger.Warn("failed to persist reconciled leg", zap.Error(err))
			return
		}
		r.logger.Info("reconciled pending leg to confirmed",
			zap.String("settlement_id", st.ID.String()),
			zap.String("leg", string(kind)))
	case ledger.ExecFailed:
		// Leave the leg pending->failed handling to the execution path so
		// retry accounting stays in one place
		r.logger.Info("reconciliation found failed leg, resuming settlement",
			zap.String("settlement_id", st.ID.String()),
			zap.String("leg", string(kind)))
	default:
		// Still pending on the ledger; nothing to do this pass
		return
	}

	r.orchestrator.Enqueue(st.RequestID)
}
