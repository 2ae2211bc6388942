package tenants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("tenants: not found")

// Repository is the persistence boundary of the directory.
type Repository interface {
	FindActiveByPhone(ctx context.Context, phone string) (Tenant, error)
	Get(ctx context.Context, tenantID string) (Tenant, error)
	ListDigestEnabled(ctx context.Context) ([]Tenant, error)
	GetSchedulingCredential(ctx context.Context, tenantID string) (SchedulingCredential, error)
	SaveSchedulingCredential(ctx context.Context, cred SchedulingCredential) error
	FindOwnerUserID(ctx context.Context, tenantID string) (string, error)
	FindUserRole(ctx context.Context, tenantID, userID string) (string, error)
	SetLastDigestSentAt(ctx context.Context, tenantID string, at time.Time) error
}

// GormRepo implements Repository on gorm.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

func (r *GormRepo) FindActiveByPhone(ctx context.Context, phone string) (Tenant, error) {
	var t Tenant
	err := r.db.WithContext(ctx).
		Joins("JOIN phone_numbers ON phone_numbers.tenant_id = tenants.id").
		Where("phone_numbers.phone = ? AND phone_numbers.active = ? AND tenants.active = ?", phone, true, true).
		Take(&t).Error
	return t, notFound(err)
}

func (r *GormRepo) Get(ctx context.Context, tenantID string) (Tenant, error) {
	var t Tenant
	err := r.db.WithContext(ctx).Where("id = ?", tenantID).Take(&t).Error
	return t, notFound(err)
}

func (r *GormRepo) ListDigestEnabled(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	err := r.db.WithContext(ctx).
		Where("digest_enabled = ? AND active = ?", true, true).
		Order("id").
		Find(&out).Error
	return out, err
}

func (r *GormRepo) GetSchedulingCredential(ctx context.Context, tenantID string) (SchedulingCredential, error) {
	var c SchedulingCredential
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&c).Error
	return c, notFound(err)
}

func (r *GormRepo) SaveSchedulingCredential(ctx context.Context, cred SchedulingCredential) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "default_event_type_id", "timezone", "updated_at"}),
		}).
		Create(&cred).Error
}

func (r *GormRepo) FindOwnerUserID(ctx context.Context, tenantID string) (string, error) {
	var u TenantUser
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND role = ?", tenantID, "owner").
		Order("created_at").
		Take(&u).Error
	if err != nil {
		return "", notFound(err)
	}
	return u.UserID, nil
}

func (r *GormRepo) FindUserRole(ctx context.Context, tenantID, userID string) (string, error) {
	var u TenantUser
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Take(&u).Error
	if err != nil {
		return "", notFound(err)
	}
	return u.Role, nil
}

func (r *GormRepo) SetLastDigestSentAt(ctx context.Context, tenantID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Tenant{}).
		Where("id = ?", tenantID).
		Updates(map[string]any{"last_digest_sent_at": at.UTC(), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTenant inserts a tenant (onboarding and tests). Every column is
// written, so explicit false flags are not replaced by column defaults.
func (r *GormRepo) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Select("*").Create(t).Error
}

// MapPhone points phone at tenantID, replacing any previous owner.
func (r *GormRepo) MapPhone(ctx context.Context, phone, tenantID string) error {
	m := PhoneMapping{ID: uuid.NewString(), Phone: NormalizePhone(phone), TenantID: tenantID, Active: true}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "active"}),
		}).
		Create(&m).Error
}

// AddUser links userID to tenantID with role.
func (r *GormRepo) AddUser(ctx context.Context, tenantID, userID, role string) error {
	return r.db.WithContext(ctx).Create(&TenantUser{TenantID: tenantID, UserID: userID, Role: role}).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
