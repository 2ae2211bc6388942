package bookings

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

func findByID(ctx context.Context, db *gorm.DB, tenantID, id string) (Booking, error) {
	var b Booking
	err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Take(&b).Error
	return b, notFound(err)
}

func findActiveByCall(ctx context.Context, db *gorm.DB, tenantID, callID string) (Booking, error) {
	var b Booking
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND call_id = ? AND status <> ?", tenantID, callID, string(StatusCancelled)).
		Take(&b).Error
	return b, notFound(err)
}

func insertBooking(ctx context.Context, db *gorm.DB, b *Booking) error {
	return db.WithContext(ctx).Create(b).Error
}

func markCancelled(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(StatusCancelled), "cancelled_at": at, "updated_at": at}).Error
}

// CountCreatedBetween counts the tenant's bookings created in [from, to).
func CountCreatedBetween(ctx context.Context, db *gorm.DB, tenantID string, from, to time.Time) (int, error) {
	var n int64
	err := db.WithContext(ctx).Model(&Booking{}).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, from.UTC(), to.UTC()).
		Count(&n).Error
	return int(n), err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
