package transcripts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicedesk/pkg/logger"
	"voicedesk/pkg/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidTurn = errors.New("transcripts: invalid turn")
	// ErrContention is returned when every attempt collided with a concurrent writer.
	ErrContention = errors.New("transcripts: sequence contention")
)

const defaultMaxAttempts = 5

// Serializer queues writers of the same call. Storage uniqueness remains
// the arbiter; a serializer only reduces collisions.
type Serializer interface {
	Lock(ctx context.Context, callID string) (unlock func(), err error)
}

// Sequencer appends transcript turns with gap-free, per-call sequence numbers.
type Sequencer struct {
	db          *gorm.DB
	serializer  Serializer
	clock       func() time.Time
	maxAttempts int
}

// NewSequencer derives numbers from storage. serializer may be nil.
func NewSequencer(db *gorm.DB, serializer Serializer) *Sequencer {
	return &Sequencer{db: db, serializer: serializer, clock: time.Now, maxAttempts: defaultMaxAttempts}
}

// AppendTurn stores text as the next turn of callID.
func (s *Sequencer) AppendTurn(ctx context.Context, callID string, role Role, text string) (Turn, error) {
	return s.Append(ctx, TurnInput{CallID: callID, Role: role, Text: text})
}

// Append stores in as the next turn. The number is max(stored)+1 at insert
// time; a duplicate-key conflict re-reads and tries again.
func (s *Sequencer) Append(ctx context.Context, in TurnInput) (Turn, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.CallID == "" {
		return Turn{}, fmt.Errorf("%w: call_id is required", ErrInvalidTurn)
	}
	if in.Text == "" {
		return Turn{}, fmt.Errorf("%w: text is required", ErrInvalidTurn)
	}
	role, ok := ParseRole(string(in.Role))
	if !ok {
		return Turn{}, fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, in.Role)
	}

	now := s.clock().UTC()
	if in.SpokenAt.IsZero() {
		in.SpokenAt = now
	}

	if s.serializer != nil {
		unlock, err := s.serializer.Lock(ctx, in.CallID)
		if err != nil {
			logger.From(ctx).Warn("transcript lock unavailable, appending unlocked", "call_id", in.CallID, "error", err)
		} else {
			defer unlock()
		}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var t Turn
		err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *gorm.DB) error {
			last, err := maxSequence(ctx, tx, in.CallID)
			if err != nil {
				return err
			}
			t = Turn{
				ID:             uuid.NewString(),
				CallID:         in.CallID,
				SequenceNumber: last + 1,
				Role:           role,
				Text:           in.Text,
				SpokenAt:       in.SpokenAt.UTC(),
				Confidence:     in.Confidence,
				CreatedAt:      now,
			}
			return tx.Create(&t).Error
		})
		if err == nil {
			return t, nil
		}
		if !utils.IsUniqueViolation(err) {
			return Turn{}, err
		}
		logger.From(ctx).Debug("sequence collision", "call_id", in.CallID, "sequence", t.SequenceNumber, "attempt", attempt)
	}
	return Turn{}, ErrContention
}

// List returns the call's turns in sequence order.
func (s *Sequencer) List(ctx context.Context, callID string) ([]Turn, error) {
	var out []Turn
	err := s.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("sequence_number").
		Find(&out).Error
	return out, err
}

// maxSequence returns the highest stored number for callID, or -1.
func maxSequence(ctx context.Context, db *gorm.DB, callID string) (int, error) {
	var last int
	err := db.WithContext(ctx).Model(&Turn{}).
		Where("call_id = ?", callID).
		Select("COALESCE(MAX(sequence_number), -1)").
		Scan(&last).Error
	return last, err
}
