package consensus

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
)

type staticRoles struct {
	ids []uuid.UUID
}

func (s staticRoles) ResolveApprovers(ctx context.Context, roles []string) ([]uuid.UUID, error) {
	return s.ids, nil
}

type captureEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (c *captureEnqueuer) Enqueue(requestID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, requestID)
}

func (c *captureEnqueuer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func newTestEngine(t *testing.T, approvers []uuid.UUID) (*Engine, *redemption.MemoryRepository, *captureEnqueuer) {
	t.Helper()
	repo := redemption.NewMemoryRepository()
	enq := &captureEnqueuer{}
	engine := NewEngine(repo, staticRoles{ids: approvers}, enq, notifications.NoopSink{}, zap.NewNop())
	return engine, repo, enq
}

func seedConfig(repo *redemption.MemoryRepository, consensusType redemption.ConsensusType, required int) *redemption.ApprovalConfig {
	cfg := &redemption.ApprovalConfig{
		Name:              "test config",
		ConsensusType:     consensusType,
		RequiredApprovals: required,
		EligibleRoles:     datatypes.JSON(`["treasury"]`),
	}
	repo.PutApprovalConfig(cfg)
	return cfg
}

func seedRequest(t *testing.T, repo *redemption.MemoryRepository, cfg *redemption.ApprovalConfig, amount int64) *redemption.RedemptionRequest {
	t.Helper()
	req := &redemption.RedemptionRequest{
		InvestorID:               uuid.New(),
		TokenAmount:              decimal.NewFromInt(amount),
		TokenType:                "CHRE",
		ConversionRate:           decimal.NewFromFloat(1.25),
		SourceWalletAddress:      "GSRC",
		DestinationWalletAddress: "GDST",
		RedemptionType:           redemption.RedemptionTypeStandard,
		Status:                   redemption.StatusPendingApproval,
		ApprovalConfigID:         &cfg.ID,
	}
	require.NoError(t, repo.CreateRequest(context.Background(), req))
	return req
}

func TestBeginAutoApprovesBelowThreshold(t *testing.T) {
	approver := uuid.New()
	engine, repo, enq := newTestEngine(t, []uuid.UUID{approver})

	threshold := decimal.NewFromInt(1000)
	cfg := seedConfig(repo, redemption.ConsensusAll, 1)
	cfg.AutoApproveThreshold = &threshold
	repo.PutApprovalConfig(cfg)

	req := seedRequest(t, repo, cfg, 500)
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	stored, err := repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusApproved, stored.Status)
	require.NotNil(t, stored.NAVUsed)
	assert.True(t, stored.NAVUsed.Equal(stored.ConversionRate))
	assert.Equal(t, 1, enq.count())

	// The synthetic decision is attributed to the system actor
	var found bool
	for _, e := range repo.AuditEntries(req.ID) {
		if e.Action == "decision.approved" {
			found = true
			require.NotNil(t, e.ActorID)
			assert.Equal(t, redemption.SystemActorID, *e.ActorID)
		}
	}
	assert.True(t, found, "expected a synthetic decision audit entry")
}

func TestBeginCreatesAssignments(t *testing.T) {
	approvers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	engine, repo, _ := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusThreshold, 2)
	req := seedRequest(t, repo, cfg, 5000)

	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	assignments, err := repo.ListAssignments(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 3)
	for _, a := range assignments {
		assert.Equal(t, redemption.DecisionPending, a.Status)
	}
}

func TestBeginRejectsUnreachableThreshold(t *testing.T) {
	approvers := []uuid.UUID{uuid.New(), uuid.New()}
	engine, repo, _ := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusThreshold, 3)
	req := seedRequest(t, repo, cfg, 5000)

	err := engine.Begin(context.Background(), req, cfg)
	var verr *redemption.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required_approvals", verr.Field)
}

func TestThresholdApprovesAtRequiredCount(t *testing.T) {
	approvers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	engine, repo, enq := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusThreshold, 2)
	req := seedRequest(t, repo, cfg, 5000)
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	verdict, err := engine.SubmitDecision(context.Background(), req.ID, approvers[0], redemption.DecisionApproved, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPending, verdict)
	assert.Equal(t, 0, enq.count())

	// Order does not matter: the third approver's vote reaches the threshold
	verdict, err = engine.SubmitDecision(context.Background(), req.ID, approvers[2], redemption.DecisionApproved, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, verdict)
	assert.Equal(t, 1, enq.count())

	stored, err := repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusApproved, stored.Status)
	assert.NotNil(t, stored.FinalizedAt)
}

func TestAllConsensusRejectsFailFast(t *testing.T) {
	approvers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	engine, repo, enq := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusAll, 1)
	req := seedRequest(t, repo, cfg, 5000)
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	// One rejection finalizes immediately without waiting for the others
	verdict, err := engine.SubmitDecision(context.Background(), req.ID, approvers[1], redemption.DecisionRejected, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictRejected, verdict)
	assert.Equal(t, 0, enq.count())

	stored, err := repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusRejected, stored.Status)
	require.NotNil(t, stored.RejectionReason)
	assert.NotEmpty(t, *stored.RejectionReason)
}

func TestMajorityApprovesTwoOfThree(t *testing.T) {
	approvers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	engine, repo, _ := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusMajority, 1)
	req := seedRequest(t, repo, cfg, 5000)
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	ctx := context.Background()
	verdict, err := engine.SubmitDecision(ctx, req.ID, approvers[0], redemption.DecisionApproved, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPending, verdict)

	verdict, err = engine.SubmitDecision(ctx, req.ID, approvers[1], redemption.DecisionRejected, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPending, verdict)

	verdict, err = engine.SubmitDecision(ctx, req.ID, approvers[2], redemption.DecisionApproved, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, verdict)
}

func TestDuplicateDecisionRejected(t *testing.T) {
	approvers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	engine, repo, _ := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusThreshold, 3)
	req := seedRequest(t, repo, cfg, 5000)
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	_, err := engine.SubmitDecision(context.Background(), req.ID, approvers[0], redemption.DecisionApproved, nil, nil)
	require.NoError(t, err)

	_, err = engine.SubmitDecision(context.Background(), req.ID, approvers[0], redemption.DecisionRejected, nil, nil)
	assert.ErrorIs(t, err, redemption.ErrDuplicateDecision)
}

func TestLateDecisionRecordedNotApplied(t *testing.T) {
	approvers := []uuid.UUID{uuid.New(), uuid.New()}
	engine, repo, enq := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusThreshold, 1)
	req := seedRequest(t, repo, cfg, 5000)
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	ctx := context.Background()
	verdict, err := engine.SubmitDecision(ctx, req.ID, approvers[0], redemption.DecisionApproved, nil, nil)
	require.NoError(t, err)
	require.Equal(t, VerdictApproved, verdict)
	require.Equal(t, 1, enq.count())

	// The second approver's vote arrives after finalization
	verdict, err = engine.SubmitDecision(ctx, req.ID, approvers[1], redemption.DecisionRejected, nil, nil)
	assert.ErrorIs(t, err, redemption.ErrAlreadyFinalized)
	assert.Equal(t, VerdictApproved, verdict)

	stored, err := repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusApproved, stored.Status)
	assert.Equal(t, 1, enq.count())

	var late bool
	for _, e := range repo.AuditEntries(req.ID) {
		if e.Action == "decision.late" {
			late = true
		}
	}
	assert.True(t, late, "expected a late decision audit entry")
}

func TestUnassignedApproverRejected(t *testing.T) {
	approvers := []uuid.UUID{uuid.New()}
	engine, repo, _ := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusAll, 1)
	req := seedRequest(t, repo, cfg, 5000)
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	_, err := engine.SubmitDecision(context.Background(), req.ID, uuid.New(), redemption.DecisionApproved, nil, nil)
	assert.ErrorIs(t, err, redemption.ErrNotAnAssignedApprover)
}

func TestIntervalApprovalDoesNotEnqueueSettlement(t *testing.T) {
	approvers := []uuid.UUID{uuid.New()}
	engine, repo, enq := newTestEngine(t, approvers)
	cfg := seedConfig(repo, redemption.ConsensusAll, 1)
	req := seedRequest(t, repo, cfg, 5000)
	req.RedemptionType = redemption.RedemptionTypeInterval
	require.NoError(t, repo.SaveRequest(context.Background(), req))
	require.NoError(t, engine.Begin(context.Background(), req, cfg))

	verdict, err := engine.SubmitDecision(context.Background(), req.ID, approvers[0], redemption.DecisionApproved, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictApproved, verdict)

	// Interval requests wait for their window's pricing pass
	assert.Equal(t, 0, enq.count())
	stored, err := repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.NAVUsed)
}
