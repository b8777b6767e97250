package window

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
)

type Repository interface {
	Create(ctx context.Context, w *RedemptionWindow) error
	Get(ctx context.Context, id uuid.UUID) (*RedemptionWindow, error)
	Save(ctx context.Context, w *RedemptionWindow) error
	List(ctx context.Context, status *Status, limit int) ([]RedemptionWindow, error)

	FindOpenWindow(ctx context.Context, tokenType string, at time.Time) (*RedemptionWindow, error)
	ListDueForOpen(ctx context.Context, at time.Time) ([]RedemptionWindow, error)
	ListDueForClose(ctx context.Context, at time.Time) ([]RedemptionWindow, error)
	ListStuckProcessing(ctx context.Context, startedBefore time.Time) ([]RedemptionWindow, error)

	// AddSubmission atomically bumps the admission counters
	AddSubmission(ctx context.Context, windowID uuid.UUID, amount decimal.Decimal) error
	// AddOutcome atomically accumulates a request's final value into one of
	// the approved/queued/rejected aggregates
	AddOutcome(ctx context.Context, windowID uuid.UUID, column string, amount decimal.Decimal) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, w *RedemptionWindow) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*RedemptionWindow, error) {
	var w RedemptionWindow
	err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, redemption.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Save persists with an optimistic version check; lifecycle transitions race
// with the cron sweep, so a stale write surfaces as ConflictError
func (r *gormRepository) Save(ctx context.Context, w *RedemptionWindow) error {
	currentVersion := w.Version
	w.Version++
	result := r.db.WithContext(ctx).
		Model(&RedemptionWindow{}).
		Where("id = ? AND version = ?", w.ID, currentVersion).
		Select("*").
		Omit("created_at").
		Updates(w)
	if result.Error != nil {
		w.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		w.Version = currentVersion
		return &redemption.ConflictError{Entity: "redemption_window", Reason: "version mismatch"}
	}
	return nil
}

func (r *gormRepository) List(ctx context.Context, status *Status, limit int) ([]RedemptionWindow, error) {
	query := r.db.WithContext(ctx).Order("submission_start DESC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var windows []RedemptionWindow
	err := query.Find(&windows).Error
	return windows, err
}

func (r *gormRepository) FindOpenWindow(ctx context.Context, tokenType string, at time.Time) (*RedemptionWindow, error) {
	var w RedemptionWindow
	err := r.db.WithContext(ctx).
		Where("token_type = ? AND status = ? AND submission_start <= ? AND submission_end >= ?",
			tokenType, StatusOpen, at, at).
		Order("submission_end ASC").
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, redemption.ErrNoOpenWindow
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *gormRepository) ListDueForOpen(ctx context.Context, at time.Time) ([]RedemptionWindow, error) {
	var windows []RedemptionWindow
	err := r.db.WithContext(ctx).
		Where("status = ? AND submission_start <= ?", StatusUpcoming, at).
		Find(&windows).Error
	return windows, err
}

func (r *gormRepository) ListDueForClose(ctx context.Context, at time.Time) ([]RedemptionWindow, error) {
	var windows []RedemptionWindow
	err := r.db.WithContext(ctx).
		Where("status = ? AND submission_end < ?", StatusOpen, at).
		Find(&windows).Error
	return windows, err
}

func (r *gormRepository) ListStuckProcessing(ctx context.Context, startedBefore time.Time) ([]RedemptionWindow, error) {
	var windows []RedemptionWindow
	err := r.db.WithContext(ctx).
		Where("status = ? AND processing_started_at < ?", StatusProcessing, startedBefore).
		Find(&windows).Error
	return windows, err
}

func (r *gormRepository) AddSubmission(ctx context.Context, windowID uuid.UUID, amount decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&RedemptionWindow{}).
		Where("id = ? AND status = ?", windowID, StatusOpen).
		Updates(map[string]interface{}{
			"current_requests":    gorm.Expr("current_requests + 1"),
			"total_request_value": gorm.Expr("total_request_value + ?", amount),
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return redemption.ErrNoOpenWindow
	}
	return nil
}

func (r *gormRepository) AddOutcome(ctx context.Context, windowID uuid.UUID, column string, amount decimal.Decimal) error {
	switch column {
	case "approved_value", "queued_value", "rejected_value":
	default:
		return &redemption.ValidationError{Field: "column", Reason: "unknown outcome aggregate"}
	}
	return r.db.WithContext(ctx).
		Model(&RedemptionWindow{}).
		Where("id = ?", windowID).
		Updates(map[string]interface{}{
			column:       gorm.Expr(column+" + ?", amount),
			"updated_at": time.Now(),
		}).Error
}
