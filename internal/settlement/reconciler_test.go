package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clearhaven/redemption-platform/redemption-backend/internal/settlement/ledger"
)

func TestSweepConfirmsStalePendingLeg(t *testing.T) {
	exec := ledger.NewMemoryExecutor()
	o, repo, requests := newTestOrchestrator(t, exec, newFakeClock())
	req := approvedRequest(t, requests)

	// A crash mid-settlement left the burn leg pending with no one driving it
	stale := time.Now().Add(-time.Hour)
	st := &Settlement{
		RequestID: req.ID,
		Type:      TypeStandard,
		Status:    StatusProcessing,
		Burn:      BurnLeg{Leg: Leg{Status: LegPending, SubmittedAt: &stale}},
		Transfer:  TransferLeg{Leg: Leg{Status: LegNotStarted}},
	}
	require.NoError(t, repo.Create(context.Background(), st))

	burnKey := ledger.IdempotencyKey(req.ID, ledger.KindBurn)
	exec.Resolve(burnKey, ledger.Result{Status: ledger.ExecConfirmed, TxHash: "tx-burn"})

	r := NewReconciler(repo, exec, o, zap.NewNop())
	require.NoError(t, r.Sweep(context.Background()))

	stored, err := repo.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, LegConfirmed, stored.Burn.Status)
	require.NotNil(t, stored.Burn.TxHash)
	assert.Equal(t, "tx-burn", *stored.Burn.TxHash)
}

func TestSweepIgnoresFreshPendingLegs(t *testing.T) {
	exec := ledger.NewMemoryExecutor()
	o, repo, requests := newTestOrchestrator(t, exec, newFakeClock())
	req := approvedRequest(t, requests)

	recent := time.Now().Add(-time.Minute)
	st := &Settlement{
		RequestID: req.ID,
		Status:    StatusProcessing,
		Burn:      BurnLeg{Leg: Leg{Status: LegPending, SubmittedAt: &recent}},
	}
	require.NoError(t, repo.Create(context.Background(), st))

	r := NewReconciler(repo, exec, o, zap.NewNop())
	require.NoError(t, r.Sweep(context.Background()))

	stored, err := repo.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, LegPending, stored.Burn.Status)
}

func TestSweepSkipsTerminalSettlements(t *testing.T) {
	exec := ledger.NewMemoryExecutor()
	o, repo, requests := newTestOrchestrator(t, exec, newFakeClock())
	req := approvedRequest(t, requests)

	stale := time.Now().Add(-time.Hour)
	st := &Settlement{
		RequestID: req.ID,
		Status:    StatusFailedPostBurn,
		Burn:      BurnLeg{Leg: Leg{Status: LegConfirmed}},
		Transfer:  TransferLeg{Leg: Leg{Status: LegPending, SubmittedAt: &stale}},
	}
	require.NoError(t, repo.Create(context.Background(), st))

	r := NewReconciler(repo, exec, o, zap.NewNop())
	require.NoError(t, r.Sweep(context.Background()))

	stored, err := repo.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedPostBurn, stored.Status)
}
