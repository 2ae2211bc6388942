package audit

import (
	"context"

	"gorm.io/gorm"
)

// GormRepo appends events with plain INSERTs.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo { return &GormRepo{db: db} }

func (r *GormRepo) Append(ctx context.Context, e Event) error {
	return r.db.WithContext(ctx).Create(&e).Error
}

// List returns the tenant's events, oldest first. Internal use only.
func (r *GormRepo) List(ctx context.Context, tenantID string) ([]Event, error) {
	var out []Event
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at").Find(&out).Error
	return out, err
}
