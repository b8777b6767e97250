package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
)

type Repository interface {
	Create(ctx context.Context, s *Settlement) error
	Get(ctx context.Context, id uuid.UUID) (*Settlement, error)
	GetByRequest(ctx context.Context, requestID uuid.UUID) (*Settlement, error)
	Save(ctx context.Context, s *Settlement) error
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Settlement, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Create inserts the settlement; the unique index on request_id turns a
// concurrent double-create into a ConflictError instead of a duplicate row
func (r *gormRepository) Create(ctx context.Context, s *Settlement) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil && isUniqueViolation(err) {
		return &redemption.ConflictError{Entity: "settlement", Reason: "settlement already exists for request"}
	}
	return err
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	var s Settlement
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, redemption.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) GetByRequest(ctx context.Context, requestID uuid.UUID) (*Settlement, error) {
	var s Settlement
	err := r.db.WithContext(ctx).First(&s, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, redemption.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Save persists with an optimistic version check
func (r *gormRepository) Save(ctx context.Context, s *Settlement) error {
	currentVersion := s.Version
	s.Version++
	result := r.db.WithContext(ctx).
		Model(&Settlement{}).
		Where("id = ? AND version = ?", s.ID, currentVersion).
		Select("*").
		Omit("created_at").
		Updates(s)
	if result.Error != nil {
		s.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		s.Version = currentVersion
		return &redemption.ConflictError{Entity: "settlement", Reason: "version mismatch"}
	}
	return nil
}

// ListStalePending finds in-flight settlements whose last leg submission has
// sat pending beyond the reconciliation timeout
func (r *gormRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Settlement, error) {
	var settlements []Settlement
	query := r.db.WithContext(ctx).
		Where("status = ?", StatusProcessing).
		Where(
			r.db.Where("burn_status = ? AND burn_submitted_at < ?", LegPending, olderThan).
				Or("transfer_status = ? AND transfer_submitted_at < ?", LegPending, olderThan),
		).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&settlements).Error
	return settlements, err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key")
}
