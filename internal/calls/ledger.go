package calls

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
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Ledger is the single writer of call rows.
type Ledger struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, clock: time.Now}
}

// WithClock overrides the time source (tests).
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// UpsertCall merges patch into the call keyed by (tenantID, providerCallID),
// creating it with defaults when absent. An empty providerCallID always
// creates a new row, since there is nothing to merge on.
func (l *Ledger) UpsertCall(ctx context.Context, tenantID, providerCallID string, patch CallPatch) (Call, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Call{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidArgument)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return Call{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, *patch.Status)
	}

	c, err := l.upsertOnce(ctx, tenantID, providerCallID, patch)
	if utils.IsUniqueViolation(err) && providerCallID != "" {
		// lost the create race; the row exists now
		logger.From(ctx).Debug("call create raced, merging", "provider_call_id", providerCallID)
		c, err = l.upsertOnce(ctx, tenantID, providerCallID, patch)
	}
	return c, err
}

func (l *Ledger) upsertOnce(ctx context.Context, tenantID, providerCallID string, patch CallPatch) (Call, error) {
	now := l.clock().UTC()
	var out Call

	err := utils.WithTx(ctx, l.db, nil, func(ctx context.Context, tx *gorm.DB) error {
		var existing Call
		var err error
		if providerCallID == "" {
			err = ErrNotFound
		} else {
			existing, err = findByProviderID(ctx, tx, tenantID, providerCallID)
		}

		if errors.Is(err, ErrNotFound) {
			c := newCall(tenantID, providerCallID, now)
			c = mergeCallFields(c, patch)
			if err := insertCall(ctx, tx, &c); err != nil {
				return err
			}
			out = c
			return nil
		}
		if err != nil {
			return err
		}

		merged := mergeCallFields(existing, patch)
		var status CallStatus
		if patch.Status != nil {
			status = *patch.Status
		}
		if err := updateColumns(ctx, tx, existing.ID, changedColumns(merged, patch), status, now); err != nil {
			return err
		}
		out, err = findByID(ctx, tx, tenantID, existing.ID)
		return err
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func newCall(tenantID, providerCallID string, now time.Time) Call {
	c := Call{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Direction: DirectionInbound,
		Status:    CallStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if providerCallID != "" {
		c.ProviderCallID = &providerCallID
	}
	return c
}

// FinalizeCall records the end-of-call report. The status becomes terminal
// (completed, or the missed status implied by the ended reason). Repeating
// the same report leaves the row unchanged apart from updated_at.
func (l *Ledger) FinalizeCall(ctx context.Context, tenantID, providerCallID string, r Report) (Call, error) {
	if strings.TrimSpace(providerCallID) == "" {
		return Call{}, fmt.Errorf("%w: provider_call_id is required", ErrInvalidArgument)
	}

	status := StatusForEndedReason(r.EndedReason)
	p := CallPatch{
		Status:             &status,
		EndedReason:        nonEmpty(r.EndedReason),
		Summary:            nonEmpty(r.Summary),
		FullTranscript:     nonEmpty(r.Transcript),
		RecordingURL:       nonEmpty(r.RecordingURL),
		Intent:             nonEmpty(strings.ToLower(r.Intent)),
		Sentiment:          nonEmpty(strings.ToLower(r.Sentiment)),
		Missed:             Ptr(status.IsMissed()),
		AIHandled:          Ptr(!status.IsMissed() && strings.TrimSpace(r.Transcript) != ""),
		EscalationRequired: Ptr(r.EscalationRequired),
		StartedAt:          r.StartedAt,
		EndedAt:            r.EndedAt,
		DurationSeconds:    r.DurationSeconds,
		Metadata:           r.Metadata,
	}
	if p.DurationSeconds == nil && r.StartedAt != nil && r.EndedAt != nil && r.EndedAt.After(*r.StartedAt) {
		p.DurationSeconds = Ptr(int(r.EndedAt.Sub(*r.StartedAt).Round(time.Second) / time.Second))
	}
	p.CustomerPhone = nonEmpty(r.CustomerPhone)
	return l.UpsertCall(ctx, tenantID, providerCallID, p)
}

// StatusForEndedReason maps a provider ended reason to a terminal status.
func StatusForEndedReason(reason string) CallStatus {
	r := strings.ToLower(strings.TrimSpace(reason))
	switch {
	case strings.Contains(r, "did-not-answer"), strings.Contains(r, "no-answer"), strings.Contains(r, "voicemail"):
		return CallStatusNoAnswer
	case strings.Contains(r, "busy"):
		return CallStatusBusy
	case strings.Contains(r, "error"), strings.Contains(r, "failed"), strings.Contains(r, "fault"):
		return CallStatusFailed
	default:
		return CallStatusCompleted
	}
}

// nonEmpty keeps blank report fields from clearing stored values.
func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (l *Ledger) Get(ctx context.Context, tenantID, callID string) (Call, error) {
	return findByID(ctx, l.db, tenantID, callID)
}

func (l *Ledger) GetByProviderID(ctx context.Context, tenantID, providerCallID string) (Call, error) {
	return findByProviderID(ctx, l.db, tenantID, providerCallID)
}

// ListBetween returns the tenant's calls created in [from, to).
func (l *Ledger) ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidArgument)
	}
	return listBetween(ctx, l.db, tenantID, from, to)
}
