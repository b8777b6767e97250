package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleGrant records that a user may approve on behalf of a role
type RoleGrant struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Role      string    `json:"role" gorm:"type:varchar(64);not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *RoleGrant) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// Directory resolves role names to the users holding them. It backs the
// approval engine's approver assignment.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// ResolveApprovers returns the distinct user IDs granted any of the given
// roles, ordered for deterministic assignment
func (d *Directory) ResolveApprovers(ctx context.Context, roles []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.db.WithContext(ctx).
		Model(&RoleGrant{}).
		Where("role IN ?", roles).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Grant assigns a role to a user, ignoring duplicates
func (d *Directory) Grant(ctx context.Context, userID uuid.UUID, role string) error {
	var existing int64
	if err := d.db.WithContext(ctx).
		Model(&RoleGrant{}).
		Where("user_id = ? AND role = ?", userID, role).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	return d.db.WithContext(ctx).Create(&RoleGrant{UserID: userID, Role: role}).Error
}
