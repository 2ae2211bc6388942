package calls

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

func findByProviderID(ctx context.Context, db *gorm.DB, tenantID, providerCallID string) (Call, error) {
	var c Call
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND provider_call_id = ?", tenantID, providerCallID).
		Take(&c).Error
	return c, notFound(err)
}

func findByID(ctx context.Context, db *gorm.DB, tenantID, id string) (Call, error) {
	var c Call
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&c).Error
	return c, notFound(err)
}

func insertCall(ctx context.Context, db *gorm.DB, c *Call) error {
	return db.WithContext(ctx).Create(c).Error
}

// updateColumns writes cols for one row. When status is non-empty it is
// applied with the terminal guard evaluated by the database, so a
// concurrent terminal write is never overwritten by a non-terminal one.
func updateColumns(ctx context.Context, db *gorm.DB, id string, cols map[string]any, status CallStatus, now time.Time) error {
	if status != "" {
		if status.IsTerminal() {
			cols["status"] = string(status)
		} else {
			cols["status"] = gorm.Expr("CASE WHEN status IN ? THEN status ELSE ? END", TerminalStatuses(), string(status))
		}
	}
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = now
	return db.WithContext(ctx).Model(&Call{}).Where("id = ?", id).Updates(cols).Error
}

func listBetween(ctx context.Context, db *gorm.DB, tenantID string, from, to time.Time) ([]Call, error) {
	var out []Call
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, from.UTC(), to.UTC()).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
