package tenants

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultTimezone        = "America/New_York"
	DefaultDigestTimeLocal = "08:00"
)

// Tenant is a business using the service.
type Tenant struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name              string     `gorm:"type:varchar(255);not null" json:"name"`
	Email             *string    `gorm:"type:varchar(320)" json:"email,omitempty"`
	Timezone          string     `gorm:"type:varchar(64);not null" json:"timezone"`
	SchedulingEnabled bool       `gorm:"not null" json:"scheduling_enabled"`
	DigestEnabled     bool       `gorm:"not null;default:true" json:"digest_enabled"`
	DigestTimeLocal   string     `gorm:"type:varchar(8);not null" json:"digest_time_local"`
	DigestTimezone    *string    `gorm:"type:varchar(64)" json:"digest_timezone,omitempty"`
	LastDigestSentAt  *time.Time `json:"last_digest_sent_at,omitempty"`
	Active            bool       `gorm:"not null;default:true;index" json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewTenant returns a tenant with the documented defaults
// (digest on at 08:00, active, New York time).
func NewTenant(id, name string) Tenant {
	return Tenant{
		ID:              id,
		Name:            name,
		Timezone:        DefaultTimezone,
		DigestEnabled:   true,
		DigestTimeLocal: DefaultDigestTimeLocal,
		Active:          true,
	}
}

func (t *Tenant) BeforeCreate(_ *gorm.DB) error {
	if strings.TrimSpace(t.Timezone) == "" {
		t.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(t.DigestTimeLocal) == "" {
		t.DigestTimeLocal = DefaultDigestTimeLocal
	}
	return nil
}

// EffectiveDigestTimezone is digest_timezone when set, otherwise timezone.
func (t Tenant) EffectiveDigestTimezone() string {
	if t.DigestTimezone != nil && strings.TrimSpace(*t.DigestTimezone) != "" {
		return strings.TrimSpace(*t.DigestTimezone)
	}
	if strings.TrimSpace(t.Timezone) != "" {
		return strings.TrimSpace(t.Timezone)
	}
	return DefaultTimezone
}

// DigestLocation loads the effective digest zone. Unknown zones fall back
// to UTC and report ok=false.
func (t Tenant) DigestLocation() (*time.Location, bool) {
	return loadLocation(t.EffectiveDigestTimezone())
}

// Location loads the tenant's primary zone with the same fallback.
func (t Tenant) Location() (*time.Location, bool) {
	return loadLocation(t.Timezone)
}

func loadLocation(name string) (*time.Location, bool) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// ContactEmail returns the tenant's own email, if any.
func (t Tenant) ContactEmail() string {
	if t.Email == nil {
		return ""
	}
	return strings.TrimSpace(*t.Email)
}

// PhoneMapping maps a dialed number to its owning tenant.
type PhoneMapping struct {
	ID       string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Phone    string `gorm:"type:varchar(32);not null;uniqueIndex" json:"phone"`
	TenantID string `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Active   bool   `gorm:"not null" json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

func (PhoneMapping) TableName() string { return "phone_numbers" }

// TenantUser links an identity-provider user to a tenant.
type TenantUser struct {
	TenantID  string    `gorm:"type:varchar(36);primaryKey" json:"tenant_id"`
	UserID    string    `gorm:"type:varchar(64);primaryKey" json:"user_id"`
	Role      string    `gorm:"type:varchar(16);not null;index" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// SchedulingCredential is the tenant's OAuth grant at the scheduling provider.
type SchedulingCredential struct {
	TenantID           string     `gorm:"type:varchar(36);primaryKey" json:"tenant_id"`
	AccessToken        string     `gorm:"type:text" json:"-"`
	RefreshToken       string     `gorm:"type:text" json:"-"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	DefaultEventTypeID string     `gorm:"type:varchar(64)" json:"default_event_type_id"`
	Timezone           *string    `gorm:"type:varchar(64)" json:"timezone,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Usable reports whether the credential can be used at all.
func (c SchedulingCredential) Usable() bool {
	return c.AccessToken != "" && c.DefaultEventTypeID != ""
}

// ExpiresWithin reports whether the access token expires before now+d.
// A credential without an expiry never expires.
func (c SchedulingCredential) ExpiresWithin(now time.Time, d time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(d))
}

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Tenant{}, &PhoneMapping{}, &TenantUser{}, &SchedulingCredential{}}
}
