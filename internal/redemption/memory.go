package redemption

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepository is an in-process Repository used in development mode and
// tests. It honors the same concurrency contracts as the Postgres
// implementation: optimistic version checks on save and write-once decisions.
type MemoryRepository struct {
	mu            sync.Mutex
	requests      map[uuid.UUID]*RedemptionRequest
	configs       map[uuid.UUID]*ApprovalConfig
	assignments   map[uuid.UUID][]*ApproverAssignment
	distributions map[uuid.UUID]*Distribution
	draws         []DistributionRedemption
	audits        []AuditEntry
	seq           int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests:      make(map[uuid.UUID]*RedemptionRequest),
		configs:       make(map[uuid.UUID]*ApprovalConfig),
		assignments:   make(map[uuid.UUID][]*ApproverAssignment),
		distributions: make(map[uuid.UUID]*Distribution),
	}
}

func (m *MemoryRepository) CreateRequest(ctx context.Context, req *RedemptionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Version == 0 {
		req.Version = 1
	}
	m.seq++
	req.CreatedAt = time.Now().Add(time.Duration(m.seq))
	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

func (m *MemoryRepository) GetRequest(ctx context.Context, id uuid.UUID) (*RedemptionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (m *MemoryRepository) SaveRequest(ctx context.Context, req *RedemptionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[req.ID]
	if !ok || current.Version != req.Version {
		return &ConflictError{Entity: "redemption_request", Reason: "version mismatch"}
	}
	req.Version++
	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListRequests(ctx context.Context, limit int) ([]RedemptionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.collect(func(r *RedemptionRequest) bool { return true })
	sort.Slice(reqs, func(a, b int) bool { return reqs[a].CreatedAt.After(reqs[b].CreatedAt) })
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

func (m *MemoryRepository) ListRequestsByWindow(ctx context.Context, windowID uuid.UUID) ([]RedemptionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.collect(func(r *RedemptionRequest) bool {
		return r.WindowID != nil && *r.WindowID == windowID
	})
	sort.Slice(reqs, func(a, b int) bool { return reqs[a].ID.String() < reqs[b].ID.String() })
	return reqs, nil
}

func (m *MemoryRepository) ListRequestsByStatus(ctx context.Context, status RequestStatus, limit int) ([]RedemptionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.collect(func(r *RedemptionRequest) bool { return r.Status == status })
	sort.Slice(reqs, func(a, b int) bool { return reqs[a].CreatedAt.Before(reqs[b].CreatedAt) })
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

func (m *MemoryRepository) collect(match func(*RedemptionRequest) bool) []RedemptionRequest {
	var reqs []RedemptionRequest
	for _, r := range m.requests {
		if match(r) {
			reqs = append(reqs, *r)
		}
	}
	return reqs
}

// PutApprovalConfig seeds a config
func (m *MemoryRepository) PutApprovalConfig(cfg *ApprovalConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	clone := *cfg
	m.configs[cfg.ID] = &clone
}

func (m *MemoryRepository) GetApprovalConfig(ctx context.Context, id uuid.UUID) (*ApprovalConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cfg
	return &clone, nil
}

func (m *MemoryRepository) CreateAssignments(ctx context.Context, assignments []ApproverAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range assignments {
		a := assignments[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.CreatedAt = time.Now()
		m.assignments[a.RequestID] = append(m.assignments[a.RequestID], &a)
	}
	return nil
}

func (m *MemoryRepository) GetAssignment(ctx context.Context, requestID, approverID uuid.UUID) (*ApproverAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments[requestID] {
		if a.ApproverID == approverID {
			clone := *a
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) ListAssignments(ctx context.Context, requestID uuid.UUID) ([]ApproverAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ApproverAssignment
	for _, a := range m.assignments[requestID] {
		out = append(out, *a)
	}
	return out, nil
}

func (m *MemoryRepository) RecordDecision(ctx context.Context, requestID, approverID uuid.UUID, decision DecisionStatus, comment, signature *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments[requestID] {
		if a.ApproverID != approverID {
			continue
		}
		if a.Status != DecisionPending {
			return ErrDuplicateDecision
		}
		now := time.Now()
		a.Status = decision
		a.Comment = comment
		a.Signature = signature
		a.DecidedAt = &now
		return nil
	}
	return ErrDuplicateDecision
}

// PutDistribution seeds a distribution pool
func (m *MemoryRepository) PutDistribution(d *Distribution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	clone := *d
	m.distributions[d.ID] = &clone
}

func (m *MemoryRepository) GetDistribution(ctx context.Context, id uuid.UUID) (*Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.distributions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (m *MemoryRepository) DrawDownDistribution(ctx context.Context, distributionID, requestID uuid.UUID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.distributions[distributionID]
	if !ok {
		return ErrNotFound
	}
	if d.RemainingAmount.LessThan(amount) {
		return &ConflictError{Entity: "distribution", Reason: "insufficient remaining amount"}
	}
	d.RemainingAmount = d.RemainingAmount.Sub(amount)
	m.draws = append(m.draws, DistributionRedemption{
		ID:             uuid.New(),
		DistributionID: distributionID,
		RequestID:      requestID,
		AmountRedeemed: amount,
	})
	return nil
}

func (m *MemoryRepository) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.audits = append(m.audits, *entry)
	return nil
}

// AuditEntries returns the recorded audit trail for an entity
func (m *MemoryRepository) AuditEntries(entityID uuid.UUID) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.audits {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}
