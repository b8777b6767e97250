package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
	"clearhaven/redemption-platform/redemption-backend/pkg/pricing"
)

type fakeWindowRepo struct {
	mu      sync.Mutex
	windows map[uuid.UUID]*RedemptionWindow
}

func newFakeWindowRepo() *fakeWindowRepo {
	return &fakeWindowRepo{windows: make(map[uuid.UUID]*RedemptionWindow)}
}

func (f *fakeWindowRepo) Create(ctx context.Context, w *RedemptionWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Version == 0 {
		w.Version = 1
	}
	clone := *w
	f.windows[w.ID] = &clone
	return nil
}

func (f *fakeWindowRepo) Get(ctx context.Context, id uuid.UUID) (*RedemptionWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return nil, redemption.ErrNotFound
	}
	clone := *w
	return &clone, nil
}

func (f *fakeWindowRepo) Save(ctx context.Context, w *RedemptionWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.windows[w.ID]
	if !ok || current.Version != w.Version {
		return &redemption.ConflictError{Entity: "redemption_window", Reason: "version mismatch"}
	}
	w.Version++
	clone := *w
	// Outcome aggregates are owned by AddSubmission/AddOutcome
	clone.CurrentRequests = current.CurrentRequests
	clone.TotalRequestValue = current.TotalRequestValue
	clone.ApprovedValue = current.ApprovedValue
	clone.QueuedValue = current.QueuedValue
	clone.RejectedValue = current.RejectedValue
	f.windows[w.ID] = &clone
	return nil
}

func (f *fakeWindowRepo) List(ctx context.Context, status *Status, limit int) ([]RedemptionWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RedemptionWindow
	for _, w := range f.windows {
		if status == nil || w.Status == *status {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWindowRepo) FindOpenWindow(ctx context.Context, tokenType string, at time.Time) (*RedemptionWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *RedemptionWindow
	for _, w := range f.windows {
		if w.TokenType != tokenType || w.Status != StatusOpen {
			continue
		}
		if at.Before(w.SubmissionStart) || at.After(w.SubmissionEnd) {
			continue
		}
		if best == nil || w.SubmissionEnd.Before(best.SubmissionEnd) {
			best = w
		}
	}
	if best == nil {
		return nil, redemption.ErrNoOpenWindow
	}
	clone := *best
	return &clone, nil
}

func (f *fakeWindowRepo) ListDueForOpen(ctx context.Context, at time.Time) ([]RedemptionWindow, error) {
	return f.listWhere(func(w *RedemptionWindow) bool {
		return w.Status == StatusUpcoming && !w.SubmissionStart.After(at)
	}), nil
}

func (f *fakeWindowRepo) ListDueForClose(ctx context.Context, at time.Time) ([]RedemptionWindow, error) {
	return f.listWhere(func(w *RedemptionWindow) bool {
		return w.Status == StatusOpen && w.SubmissionEnd.Before(at)
	}), nil
}

func (f *fakeWindowRepo) ListStuckProcessing(ctx context.Context, startedBefore time.Time) ([]RedemptionWindow, error) {
	return f.listWhere(func(w *RedemptionWindow) bool {
		return w.Status == StatusProcessing &&
			w.ProcessingStartedAt != nil && w.ProcessingStartedAt.Before(startedBefore)
	}), nil
}

func (f *fakeWindowRepo) listWhere(match func(*RedemptionWindow) bool) []RedemptionWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RedemptionWindow
	for _, w := range f.windows {
		if match(w) {
			out = append(out, *w)
		}
	}
	return out
}

func (f *fakeWindowRepo) AddSubmission(ctx context.Context, windowID uuid.UUID, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[windowID]
	if !ok || w.Status != StatusOpen {
		return redemption.ErrNoOpenWindow
	}
	w.CurrentRequests++
	w.TotalRequestValue = w.TotalRequestValue.Add(amount)
	return nil
}

func (f *fakeWindowRepo) AddOutcome(ctx context.Context, windowID uuid.UUID, column string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[windowID]
	if !ok {
		return redemption.ErrNotFound
	}
	switch column {
	case "approved_value":
		w.ApprovedValue = w.ApprovedValue.Add(amount)
	case "queued_value":
		w.QueuedValue = w.QueuedValue.Add(amount)
	case "rejected_value":
		w.RejectedValue = w.RejectedValue.Add(amount)
	default:
		return &redemption.ValidationError{Field: "column", Reason: "unknown outcome aggregate"}
	}
	return nil
}

type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingEnqueuer) Enqueue(requestID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, requestID)
}

func (r *recordingEnqueuer) enqueued() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeWindowRepo, *redemption.MemoryRepository, *recordingEnqueuer) {
	t.Helper()
	windows := newFakeWindowRepo()
	requests := redemption.NewMemoryRepository()
	enq := &recordingEnqueuer{}
	oracle := pricing.NewStaticOracle(decimal.NewFromInt(2))
	s := NewScheduler(windows, requests, enq, oracle, notifications.NoopSink{}, zap.NewNop())
	return s, windows, requests, enq
}

func openWindowFixture(t *testing.T, windows *fakeWindowRepo, cap *decimal.Decimal) *RedemptionWindow {
	t.Helper()
	now := time.Now()
	w := &RedemptionWindow{
		TokenType:           "CHRE",
		SubmissionStart:     now.Add(-time.Hour),
		SubmissionEnd:       now.Add(time.Hour),
		Start:               now.Add(2 * time.Hour),
		End:                 now.Add(3 * time.Hour),
		Status:              StatusOpen,
		MaxRedemptionAmount: cap,
		EnableProRata:       true,
		QueueUnprocessed:    true,
	}
	require.NoError(t, windows.Create(context.Background(), w))
	return w
}

func windowRequest(t *testing.T, requests *redemption.MemoryRepository, w *RedemptionWindow, amount int64, status redemption.RequestStatus) *redemption.RedemptionRequest {
	t.Helper()
	req := &redemption.RedemptionRequest{
		InvestorID:               uuid.New(),
		TokenAmount:              decimal.NewFromInt(amount),
		TokenType:                w.TokenType,
		ConversionRate:           decimal.NewFromInt(1),
		SourceWalletAddress:      "GSRC",
		DestinationWalletAddress: "GDST",
		RedemptionType:           redemption.RedemptionTypeInterval,
		Status:                   status,
		WindowID:                 &w.ID,
	}
	require.NoError(t, requests.CreateRequest(context.Background(), req))
	return req
}

func TestAssignToWindowAdmitsIntervalRequest(t *testing.T) {
	s, windows, _, _ := newTestScheduler(t)
	w := openWindowFixture(t, windows, nil)

	req := &redemption.RedemptionRequest{
		TokenAmount:    decimal.NewFromInt(100),
		TokenType:      "CHRE",
		RedemptionType: redemption.RedemptionTypeInterval,
	}
	require.NoError(t, s.AssignToWindow(context.Background(), req))
	require.NotNil(t, req.WindowID)
	assert.Equal(t, w.ID, *req.WindowID)

	stored, err := windows.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentRequests)
	assert.True(t, stored.TotalRequestValue.Equal(decimal.NewFromInt(100)))
}

func TestAssignToWindowRejectsStandardRequest(t *testing.T) {
	s, windows, _, _ := newTestScheduler(t)
	openWindowFixture(t, windows, nil)

	req := &redemption.RedemptionRequest{
		TokenAmount:    decimal.NewFromInt(100),
		TokenType:      "CHRE",
		RedemptionType: redemption.RedemptionTypeStandard,
	}
	var verr *redemption.ValidationError
	assert.ErrorAs(t, s.AssignToWindow(context.Background(), req), &verr)
}

func TestAssignToWindowWithoutOpenWindow(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	req := &redemption.RedemptionRequest{
		TokenAmount:    decimal.NewFromInt(100),
		TokenType:      "CHRE",
		RedemptionType: redemption.RedemptionTypeInterval,
	}
	assert.ErrorIs(t, s.AssignToWindow(context.Background(), req), redemption.ErrNoOpenWindow)
}

func TestPriceAndProcessBlocksOnUndecidedRequests(t *testing.T) {
	s, windows, requests, _ := newTestScheduler(t)
	w := openWindowFixture(t, windows, nil)
	windowRequest(t, requests, w, 100, redemption.StatusPendingApproval)
	require.NoError(t, s.CloseSubmissions(context.Background(), w.ID))

	err := s.PriceAndProcess(context.Background(), w.ID, nil)
	var serr *redemption.SchedulingError
	require.ErrorAs(t, err, &serr)

	// The window stays closed so the next sweep can retry
	stored, getErr := windows.Get(context.Background(), w.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusClosed, stored.Status)
}

func TestPriceAndProcessDispatchesApprovedRequests(t *testing.T) {
	s, windows, requests, enq := newTestScheduler(t)
	w := openWindowFixture(t, windows, nil)
	req := windowRequest(t, requests, w, 100, redemption.StatusApproved)
	require.NoError(t, s.CloseSubmissions(context.Background(), w.ID))

	nav := decimal.NewFromFloat(1.1)
	require.NoError(t, s.PriceAndProcess(context.Background(), w.ID, &nav))

	stored, err := requests.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, redemption.StatusProcessing, stored.Status)
	require.NotNil(t, stored.NAVUsed)
	assert.True(t, stored.NAVUsed.Equal(nav))
	assert.Equal(t, []uuid.UUID{req.ID}, enq.enqueued())

	win, err := windows.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, win.Status)
	require.NotNil(t, win.NAV)
	assert.True(t, win.NAV.Equal(nav))
	assert.True(t, win.ApprovedValue.Equal(decimal.NewFromInt(100)))
}

func TestPriceAndProcessFallsBackToOracle(t *testing.T) {
	s, windows, requests, _ := newTestScheduler(t)
	w := openWindowFixture(t, windows, nil)
	windowRequest(t, requests, w, 100, redemption.StatusApproved)
	require.NoError(t, s.CloseSubmissions(context.Background(), w.ID))

	require.NoError(t, s.PriceAndProcess(context.Background(), w.ID, nil))

	win, err := windows.Get(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, win.NAV)
	assert.True(t, win.NAV.Equal(decimal.NewFromInt(2)))
}

func TestProRataCutCreatesQueuedCarryover(t *testing.T) {
	s, windows, requests, enq := newTestScheduler(t)
	cap := decimal.NewFromInt(1_000_000)
	w := openWindowFixture(t, windows, &cap)
	big := windowRequest(t, requests, w, 700_000, redemption.StatusApproved)
	small := windowRequest(t, requests, w, 500_000, redemption.StatusApproved)
	require.NoError(t, s.CloseSubmissions(context.Background(), w.ID))

	nav := decimal.NewFromInt(1)
	require.NoError(t, s.PriceAndProcess(context.Background(), w.ID, &nav))

	ctx := context.Background()
	scaledTotal := decimal.Zero
	for _, id := range []uuid.UUID{big.ID, small.ID} {
		stored, err := requests.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, redemption.StatusProcessing, stored.Status)
		scaledTotal = scaledTotal.Add(stored.TokenAmount)
	}
	assert.True(t, scaledTotal.Equal(cap), "scaled amounts must sum to the cap, got %s", scaledTotal)
	assert.Len(t, enq.enqueued(), 2)

	// Each remainder became a queued child pointing back at its parent
	queued, err := requests.ListRequestsByStatus(ctx, redemption.StatusQueued, 0)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	remainderTotal := decimal.Zero
	for _, child := range queued {
		require.NotNil(t, child.ParentRequestID)
		assert.Nil(t, child.WindowID)
		remainderTotal = remainderTotal.Add(child.TokenAmount)
	}
	assert.True(t, remainderTotal.Equal(decimal.NewFromInt(200_000)))

	win, err := windows.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, win.ApprovedValue.Equal(cap))
	assert.True(t, win.QueuedValue.Equal(decimal.NewFromInt(200_000)))
}

func TestProRataRemainderRejectedWhenCarryoverDisabled(t *testing.T) {
	s, windows, requests, _ := newTestScheduler(t)
	cap := decimal.NewFromInt(100)
	w := openWindowFixture(t, windows, &cap)
	w.QueueUnprocessed = false
	require.NoError(t, windows.Save(context.Background(), w))

	windowRequest(t, requests, w, 150, redemption.StatusApproved)
	require.NoError(t, s.CloseSubmissions(context.Background(), w.ID))

	nav := decimal.NewFromInt(1)
	require.NoError(t, s.PriceAndProcess(context.Background(), w.ID, &nav))

	queued, err := requests.ListRequestsByStatus(context.Background(), redemption.StatusQueued, 0)
	require.NoError(t, err)
	assert.Empty(t, queued)

	win, err := windows.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, win.RejectedValue.Equal(decimal.NewFromInt(50)))
	assert.True(t, win.ApprovedValue.Equal(cap))
}

func TestCompleteRequiresSettledRequests(t *testing.T) {
	s, windows, requests, _ := newTestScheduler(t)
	w := openWindowFixture(t, windows, nil)
	req := windowRequest(t, requests, w, 100, redemption.StatusApproved)
	require.NoError(t, s.CloseSubmissions(context.Background(), w.ID))
	nav := decimal.NewFromInt(1)
	require.NoError(t, s.PriceAndProcess(context.Background(), w.ID, &nav))

	err := s.Complete(context.Background(), w.ID)
	var serr *redemption.SchedulingError
	require.ErrorAs(t, err, &serr)

	stored, getErr := requests.GetRequest(context.Background(), req.ID)
	require.NoError(t, getErr)
	stored.Status = redemption.StatusSettled
	require.NoError(t, requests.SaveRequest(context.Background(), stored))

	require.NoError(t, s.Complete(context.Background(), w.ID))
	win, getErr := windows.Get(context.Background(), w.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusCompleted, win.Status)
	assert.NotNil(t, win.CompletedAt)
}

func TestSweepOpensAndAdmitsQueuedCarryover(t *testing.T) {
	s, windows, requests, _ := newTestScheduler(t)

	now := time.Now()
	w := &RedemptionWindow{
		TokenType:        "CHRE",
		SubmissionStart:  now.Add(-time.Minute),
		SubmissionEnd:    now.Add(time.Hour),
		Start:            now.Add(2 * time.Hour),
		End:              now.Add(3 * time.Hour),
		Status:           StatusUpcoming,
		EnableProRata:    true,
		QueueUnprocessed: true,
	}
	require.NoError(t, windows.Create(context.Background(), w))

	carryover := &redemption.RedemptionRequest{
		InvestorID:     uuid.New(),
		TokenAmount:    decimal.NewFromInt(250),
		TokenType:      "CHRE",
		RedemptionType: redemption.RedemptionTypeInterval,
		Status:         redemption.StatusQueued,
	}
	require.NoError(t, requests.CreateRequest(context.Background(), carryover))

	s.Sweep(context.Background())

	win, err := windows.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, win.Status)
	assert.Equal(t, 1, win.CurrentRequests)

	stored, err := requests.GetRequest(context.Background(), carryover.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.WindowID)
	assert.Equal(t, w.ID, *stored.WindowID)
	assert.Equal(t, redemption.StatusQueued, stored.Status)
}
