package audit

import "time"

// Event is an immutable, append-only audit log record of a side effect
// the service caused outside its own database (bookings, digest emails).
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Writes are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID       string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID string    `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Type     EventType `gorm:"type:varchar(32);not null;index" json:"type"`

	// ActorUserID is set for admin API actions; empty for provider-driven ones.
	ActorUserID string `gorm:"type:varchar(64)" json:"actor_user_id,omitempty"`

	CallID    string `gorm:"type:varchar(36)" json:"call_id,omitempty"`
	BookingID string `gorm:"type:varchar(36)" json:"booking_id,omitempty"`

	Message string `gorm:"type:text" json:"message,omitempty"`
	// Metadata is optional JSON for full details.
	Metadata string `gorm:"type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Event) TableName() string { return "audit_events" }

type EventType string

const (
	EventTypeBookingCreated   EventType = "booking_created"
	EventTypeBookingCancelled EventType = "booking_cancelled"
	EventTypeDigestSent       EventType = "digest_sent"
)
