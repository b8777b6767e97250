package redemption

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	CreateRequest(ctx context.Context, req *RedemptionRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*RedemptionRequest, error)
	SaveRequest(ctx context.Context, req *RedemptionRequest) error
	ListRequests(ctx context.Context, limit int) ([]RedemptionRequest, error)
	ListRequestsByWindow(ctx context.Context, windowID uuid.UUID) ([]RedemptionRequest, error)
	ListRequestsByStatus(ctx context.Context, status RequestStatus, limit int) ([]RedemptionRequest, error)

	GetApprovalConfig(ctx context.Context, id uuid.UUID) (*ApprovalConfig, error)

	CreateAssignments(ctx context.Context, assignments []ApproverAssignment) error
	GetAssignment(ctx context.Context, requestID, approverID uuid.UUID) (*ApproverAssignment, error)
	ListAssignments(ctx context.Context, requestID uuid.UUID) ([]ApproverAssignment, error)
	RecordDecision(ctx context.Context, requestID, approverID uuid.UUID, decision DecisionStatus, comment, signature *string) error

	GetDistribution(ctx context.Context, id uuid.UUID) (*Distribution, error)
	DrawDownDistribution(ctx context.Context, distributionID, requestID uuid.UUID, amount decimal.Decimal) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateRequest(ctx context.Context, req *RedemptionRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *gormRepository) GetRequest(ctx context.Context, id uuid.UUID) (*RedemptionRequest, error) {
	var req RedemptionRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// SaveRequest persists the request with an optimistic version check. A stale
// version returns ConflictError so the caller can re-read and retry.
func (r *gormRepository) SaveRequest(ctx context.Context, req *RedemptionRequest) error {
	currentVersion := req.Version
	req.Version++
	result := r.db.WithContext(ctx).
		Model(&RedemptionRequest{}).
		Where("id = ? AND version = ?", req.ID, currentVersion).
		Select("*").
		Omit("created_at").
		Updates(req)
	if result.Error != nil {
		req.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		req.Version = currentVersion
		return &ConflictError{Entity: "redemption_request", Reason: "version mismatch"}
	}
	return nil
}

func (r *gormRepository) ListRequests(ctx context.Context, limit int) ([]RedemptionRequest, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var reqs []RedemptionRequest
	err := query.Find(&reqs).Error
	return reqs, err
}

func (r *gormRepository) ListRequestsByWindow(ctx context.Context, windowID uuid.UUID) ([]RedemptionRequest, error) {
	var reqs []RedemptionRequest
	err := r.db.WithContext(ctx).
		Where("window_id = ?", windowID).
		Order("id ASC").
		Find(&reqs).Error
	return reqs, err
}

func (r *gormRepository) ListRequestsByStatus(ctx context.Context, status RequestStatus, limit int) ([]RedemptionRequest, error) {
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var reqs []RedemptionRequest
	err := query.Find(&reqs).Error
	return reqs, err
}

func (r *gormRepository) GetApprovalConfig(ctx context.Context, id uuid.UUID) (*ApprovalConfig, error) {
	var cfg ApprovalConfig
	err := r.db.WithContext(ctx).First(&cfg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *gormRepository) CreateAssignments(ctx context.Context, assignments []ApproverAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&assignments).Error
}

func (r *gormRepository) GetAssignment(ctx context.Context, requestID, approverID uuid.UUID) (*ApproverAssignment, error) {
	var assignment ApproverAssignment
	err := r.db.WithContext(ctx).
		First(&assignment, "request_id = ? AND approver_id = ?", requestID, approverID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *gormRepository) ListAssignments(ctx context.Context, requestID uuid.UUID) ([]ApproverAssignment, error) {
	var assignments []ApproverAssignment
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&assignments).Error
	return assignments, err
}

// RecordDecision writes an approver's decision exactly once. The WHERE on
// status = pending makes a second write a no-op, surfaced as DuplicateDecision.
func (r *gormRepository) RecordDecision(ctx context.Context, requestID, approverID uuid.UUID, decision DecisionStatus, comment, signature *string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&ApproverAssignment{}).
		Where("request_id = ? AND approver_id = ? AND status = ?", requestID, approverID, DecisionPending).
		Updates(map[string]interface{}{
			"status":     decision,
			"comment":    comment,
			"signature":  signature,
			"decided_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateDecision
	}
	return nil
}

func (r *gormRepository) GetDistribution(ctx context.Context, id uuid.UUID) (*Distribution, error) {
	var dist Distribution
	err := r.db.WithContext(ctx).First(&dist, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dist, nil
}

// DrawDownDistribution decrements remaining_amount and records the join row
// in one transaction. The guard keeps remaining_amount from going negative.
func (r *gormRepository) DrawDownDistribution(ctx context.Context, distributionID, requestID uuid.UUID, amount decimal.Decimal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Distribution{}).
			Where("id = ? AND remaining_amount >= ?", distributionID, amount).
			Updates(map[string]interface{}{
				"remaining_amount": gorm.Expr("remaining_amount - ?", amount),
				"updated_at":       time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return &ConflictError{Entity: "distribution", Reason: "insufficient remaining amount"}
		}
		return tx.Create(&DistributionRedemption{
			DistributionID: distributionID,
			RequestID:      requestID,
			AmountRedeemed: amount,
		}).Error
	})
}

func (r *gormRepository) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
