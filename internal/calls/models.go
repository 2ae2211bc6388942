package calls

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Call is a tenant-scoped phone call reconstructed from provider callbacks.
//
// Multi-tenant invariant: TenantID is required on every row.
// ProviderCallID is the voice provider's id and the merge key for callbacks;
// it may be unknown when the call is first seen.
type Call struct {
	ID             string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID       string  `gorm:"type:varchar(36);not null;index:idx_calls_tenant_created,priority:1" json:"tenant_id"`
	ProviderCallID *string `gorm:"type:varchar(128);uniqueIndex" json:"provider_call_id,omitempty"`

	Direction     Direction  `gorm:"type:varchar(16);not null" json:"direction"`
	FromPhone     string     `gorm:"type:varchar(32)" json:"from_phone"`
	ToPhone       string     `gorm:"type:varchar(32)" json:"to_phone"`
	CustomerPhone string     `gorm:"type:varchar(32)" json:"customer_phone"`
	Status        CallStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `gorm:"not null;default:0" json:"duration_seconds"`
	EndedReason     string     `gorm:"type:varchar(128)" json:"ended_reason,omitempty"`

	RecordingURL   string `gorm:"type:text" json:"recording_url,omitempty"`
	FullTranscript string `gorm:"type:text" json:"full_transcript,omitempty"`
	Summary        string `gorm:"type:text" json:"summary,omitempty"`
	Intent         string `gorm:"type:varchar(64)" json:"intent,omitempty"`
	Sentiment      string `gorm:"type:varchar(32)" json:"sentiment,omitempty"`

	Missed             bool `gorm:"not null" json:"missed"`
	AIHandled          bool `gorm:"not null" json:"ai_handled"`
	EscalationRequired bool `gorm:"not null" json:"escalation_required"`

	Metadata Metadata `gorm:"type:json" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_calls_tenant_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no-answer"
)

// IsTerminal reports whether s ends the status machine.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}

// IsMissed reports whether s counts as a missed call.
func (s CallStatus) IsMissed() bool {
	switch s {
	case CallStatusFailed, CallStatusBusy, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusQueued, CallStatusRinging, CallStatusInProgress:
		return true
	default:
		return s.IsTerminal()
	}
}

// TerminalStatuses lists the terminal statuses as plain strings (for SQL).
func TerminalStatuses() []string {
	return []string{string(CallStatusCompleted), string(CallStatusFailed), string(CallStatusBusy), string(CallStatusNoAnswer)}
}

// MissedStatuses lists the statuses counted as missed (for SQL).
func MissedStatuses() []string {
	return []string{string(CallStatusNoAnswer), string(CallStatusBusy), string(CallStatusFailed)}
}

// Metadata is free-form provider data stored as a JSON column.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("calls: cannot scan %T into Metadata", value)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// CallPatch carries the fields a callback knows about. Nil means "not provided".
type CallPatch struct {
	Direction          *Direction
	FromPhone          *string
	ToPhone            *string
	CustomerPhone      *string
	Status             *CallStatus
	StartedAt          *time.Time
	EndedAt            *time.Time
	DurationSeconds    *int
	EndedReason        *string
	RecordingURL       *string
	FullTranscript     *string
	Summary            *string
	Intent             *string
	Sentiment          *string
	Missed             *bool
	AIHandled          *bool
	EscalationRequired *bool
	// Metadata keys are merged into the stored map.
	Metadata Metadata
}

// Report is the end-of-call summary from the provider.
type Report struct {
	EndedReason        string
	StartedAt          *time.Time
	EndedAt            *time.Time
	DurationSeconds    *int
	Summary            string
	Transcript         string
	RecordingURL       string
	Intent             string
	Sentiment          string
	EscalationRequired bool
	CustomerPhone      string
	Metadata           Metadata
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
