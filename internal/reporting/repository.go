package reporting

import (
	"context"
	"time"

	"voicedesk/internal/bookings"

	"gorm.io/gorm"
)

// GormRepo counts bookings. Calls are read through the call ledger.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo { return &GormRepo{db: db} }

func (r *GormRepo) CountBookings(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	return bookings.CountCreatedBetween(ctx, r.db, tenantID, from, to)
}
