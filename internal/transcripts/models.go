package transcripts

import (
	"strings"
	"time"
)

// Turn is one final utterance in a call. Turns are immutable.
type Turn struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CallID         string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_turn_call_seq,priority:1" json:"call_id"`
	SequenceNumber int       `gorm:"not null;uniqueIndex:idx_turn_call_seq,priority:2" json:"sequence_number"`
	Role           Role      `gorm:"type:varchar(16);not null" json:"role"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	SpokenAt       time.Time `json:"spoken_at"`
	Confidence     *float64  `json:"confidence,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Turn) TableName() string { return "transcript_turns" }

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps provider role names onto Role.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "customer":
		return RoleUser, true
	case "assistant", "bot", "ai":
		return RoleAssistant, true
	case "system":
		return RoleSystem, true
	default:
		return "", false
	}
}

// TurnInput is the full form of an append request.
type TurnInput struct {
	CallID     string
	Role       Role
	Text       string
	SpokenAt   time.Time
	Confidence *float64
}
