package bookings

import (
	"strings"
	"time"
)

// Booking is an appointment created through the scheduling provider.
// Rows are never deleted; cancellation flips Status.
type Booking struct {
	ID       string `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID string `gorm:"type:varchar(36);not null;index:idx_bookings_tenant_created,priority:1;uniqueIndex:idx_bookings_call_active,priority:1" json:"tenant_id"`
	// (TenantID, CallID) is unique among non-cancelled bookings, so a call books at most once.
	CallID *string `gorm:"type:varchar(36);uniqueIndex:idx_bookings_call_active,priority:2,where:status <> 'cancelled'" json:"call_id,omitempty"`

	ProviderBookingID  string `gorm:"type:varchar(64)" json:"provider_booking_id,omitempty"`
	ProviderBookingUID string `gorm:"type:varchar(128);index" json:"provider_booking_uid,omitempty"`
	EventTypeID        string `gorm:"type:varchar(64)" json:"event_type_id"`

	CustomerName  string `gorm:"type:varchar(255);not null" json:"customer_name"`
	CustomerEmail string `gorm:"type:varchar(320)" json:"customer_email,omitempty"`
	CustomerPhone string `gorm:"type:varchar(32)" json:"customer_phone,omitempty"`

	ScheduledAt     time.Time `gorm:"not null" json:"scheduled_at"`
	DurationMinutes int       `gorm:"not null" json:"duration_minutes"`
	Status          Status    `gorm:"type:varchar(16);not null;index" json:"status"`
	Notes           string    `gorm:"type:text" json:"notes,omitempty"`

	Metadata map[string]string `gorm:"serializer:json;type:text" json:"metadata,omitempty"`

	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `gorm:"index:idx_bookings_tenant_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no-show"
)

// CreateRequest is a booking attempt. StartTime is an RFC 3339 instant; a
// value without an offset is read in the tenant's timezone.
type CreateRequest struct {
	TenantID      string
	CallID        string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	StartTime     string
	Notes         string
	ActorUserID   string
}

// TimePreference narrows availability to part of the local day.
type TimePreference string

const (
	PreferenceAny       TimePreference = ""
	PreferenceMorning   TimePreference = "morning"
	PreferenceAfternoon TimePreference = "afternoon"
	PreferenceEvening   TimePreference = "evening"
)

// ParseTimePreference reads a caller-supplied preference. Blank and "any"
// mean no filter; ok is false for anything unrecognized, which also reads
// as no filter.
func ParseTimePreference(s string) (TimePreference, bool) {
	switch p := TimePreference(strings.ToLower(strings.TrimSpace(s))); p {
	case PreferenceMorning, PreferenceAfternoon, PreferenceEvening:
		return p, true
	case PreferenceAny, "any":
		return PreferenceAny, true
	default:
		return PreferenceAny, false
	}
}

// Matches reports whether local hour h falls in the preference.
func (p TimePreference) Matches(h int) bool {
	switch p {
	case PreferenceMorning:
		return h < 12
	case PreferenceAfternoon:
		return h >= 12 && h < 17
	case PreferenceEvening:
		return h >= 17
	default:
		return true
	}
}
