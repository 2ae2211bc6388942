package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicedesk/internal/audit"
	"voicedesk/internal/calls"
	"voicedesk/internal/scheduling"
	"voicedesk/internal/tenants"
	"voicedesk/pkg/logger"
	"voicedesk/pkg/utils"

	"github.com/google/uuid"
	"github.com/jinzhu/now"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("bookings: not found")
	// ErrNotConfigured means the tenant cannot book: scheduling is off, or
	// there is no usable credential.
	ErrNotConfigured = errors.New("bookings: scheduling not configured")
	// ErrUpstream is a scheduling provider failure.
	ErrUpstream = errors.New("bookings: scheduling provider error")
	// ErrSlotUnavailable means the requested time was taken.
	ErrSlotUnavailable = errors.New("bookings: slot unavailable")
	ErrValidation      = errors.New("bookings: invalid request")
)

const (
	refreshWindow   = 5 * time.Minute
	defaultDuration = 30
	localLayout     = "2006-01-02T15:04:05"
	dateLayout      = "2006-01-02"
)

// Directory is the slice of the tenant directory the bridge needs.
type Directory interface {
	Get(ctx context.Context, tenantID string) (tenants.Tenant, error)
	SchedulingCredential(ctx context.Context, tenantID string) (tenants.SchedulingCredential, error)
	SaveSchedulingCredential(ctx context.Context, cred tenants.SchedulingCredential) error
}

// CallLookup resolves a call within a tenant.
type CallLookup interface {
	Get(ctx context.Context, tenantID, callID string) (calls.Call, error)
}

// Provider is the scheduling provider.
type Provider interface {
	Slots(ctx context.Context, token, eventTypeID string, from, to time.Time, timezone string) ([]time.Time, error)
	CreateBooking(ctx context.Context, token string, req scheduling.CreateBookingRequest) (scheduling.Booking, error)
	CancelBooking(ctx context.Context, token, uid, reason string) error
	RefreshToken(ctx context.Context, refreshToken string) (scheduling.Token, error)
}

type Auditor interface {
	Record(ctx context.Context, t audit.EventType, tenantID, callID, bookingID, message string, metadata map[string]any) error
}

// Bridge brokers availability and booking requests to the provider and
// keeps the local booking record.
type Bridge struct {
	db       *gorm.DB
	dir      Directory
	calls    CallLookup
	provider Provider
	audit    Auditor
	clock    func() time.Time
}

func NewBridge(db *gorm.DB, dir Directory, callLookup CallLookup, provider Provider, auditor Auditor) *Bridge {
	return &Bridge{db: db, dir: dir, calls: callLookup, provider: provider, audit: auditor, clock: time.Now}
}

// WithClock overrides the time source (tests).
func (b *Bridge) WithClock(clock func() time.Time) *Bridge {
	b.clock = clock
	return b
}

// SchedulingAvailable reports whether booking tools should be offered for t.
// It does not contact the provider.
func (b *Bridge) SchedulingAvailable(ctx context.Context, t tenants.Tenant) bool {
	if !t.SchedulingEnabled {
		return false
	}
	cred, err := b.dir.SchedulingCredential(ctx, t.ID)
	if err != nil || !cred.Usable() {
		return false
	}
	return !cred.ExpiresWithin(b.clock(), 0) || cred.RefreshToken != ""
}

// CheckAvailability lists open start times on date (YYYY-MM-DD in the
// tenant's zone; empty means today), filtered by preference.
func (b *Bridge) CheckAvailability(ctx context.Context, tenantID, date string, pref TimePreference) ([]time.Time, error) {
	t, err := b.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	loc, _ := t.Location()
	current := b.clock().In(loc)

	day, err := parseDay(date, current)
	if err != nil {
		return nil, err
	}
	if day.Before(now.With(current).BeginningOfDay()) {
		return nil, fmt.Errorf("%w: date %s is in the past", ErrValidation, day.Format(dateLayout))
	}

	cred, err := b.credential(ctx, t)
	if err != nil {
		return nil, err
	}

	from := day
	to := day.AddDate(0, 0, 1)
	if from.Before(current) {
		from = current
	}

	slots, err := b.provider.Slots(ctx, cred.AccessToken, cred.DefaultEventTypeID, from.UTC(), to.UTC(), schedulingZone(t, cred))
	if err != nil {
		return nil, providerErr(err)
	}

	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		if !s.After(current) {
			continue
		}
		if pref.Matches(s.In(loc).Hour()) {
			out = append(out, s)
		}
	}
	return out, nil
}

// CreateBooking validates req, books with the provider and records the
// result. A call that already holds a live booking gets that booking back.
func (b *Bridge) CreateBooking(ctx context.Context, req CreateRequest) (Booking, error) {
	t, err := b.tenant(ctx, req.TenantID)
	if err != nil {
		return Booking{}, err
	}
	loc, _ := t.Location()

	start, err := parseStart(req.StartTime, loc)
	if err != nil {
		return Booking{}, err
	}
	if !start.After(b.clock()) {
		return Booking{}, fmt.Errorf("%w: start time must be in the future", ErrValidation)
	}
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return Booking{}, fmt.Errorf("%w: customer name is required", ErrValidation)
	}

	if req.CallID != "" {
		if _, err := b.calls.Get(ctx, t.ID, req.CallID); err != nil {
			if errors.Is(err, calls.ErrNotFound) {
				return Booking{}, fmt.Errorf("%w: call %s not found", ErrValidation, req.CallID)
			}
			return Booking{}, err
		}
		existing, err := findActiveByCall(ctx, b.db, t.ID, req.CallID)
		if err == nil {
			logger.From(ctx).Info("booking already exists for call", "tenant_id", t.ID, "call_id", req.CallID, "booking_id", existing.ID)
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Booking{}, err
		}
	}

	cred, err := b.credential(ctx, t)
	if err != nil {
		return Booking{}, err
	}

	pb, err := b.provider.CreateBooking(ctx, cred.AccessToken, scheduling.CreateBookingRequest{
		EventTypeID: cred.DefaultEventTypeID,
		Start:       start,
		Attendee: scheduling.Attendee{
			Name:        name,
			Email:       strings.TrimSpace(req.CustomerEmail),
			TimeZone:    schedulingZone(t, cred),
			PhoneNumber: strings.TrimSpace(req.CustomerPhone),
		},
		Notes:    req.Notes,
		Metadata: map[string]string{"tenant_id": t.ID, "call_id": req.CallID},
	})
	if err != nil {
		return Booking{}, providerErr(err)
	}

	ts := b.clock().UTC()
	bk := Booking{
		ID:                 uuid.NewString(),
		TenantID:           t.ID,
		ProviderBookingID:  pb.ID,
		ProviderBookingUID: pb.UID,
		EventTypeID:        cred.DefaultEventTypeID,
		CustomerName:       name,
		CustomerEmail:      strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:      strings.TrimSpace(req.CustomerPhone),
		ScheduledAt:        pb.Start.UTC(),
		DurationMinutes:    pb.DurationMinutes,
		Status:             StatusConfirmed,
		Notes:              req.Notes,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if bk.ScheduledAt.IsZero() {
		bk.ScheduledAt = start.UTC()
	}
	if bk.DurationMinutes <= 0 {
		bk.DurationMinutes = defaultDuration
	}
	if req.CallID != "" {
		bk.CallID = &req.CallID
	}

	if err := insertBooking(ctx, b.db, &bk); err != nil {
		if utils.IsUniqueViolation(err) && req.CallID != "" {
			// a concurrent request for the same call won; undo our appointment
			log := logger.From(ctx).With("tenant_id", t.ID, "call_id", req.CallID, "provider_booking_uid", pb.UID)
			log.Warn("duplicate booking for call at provider, cancelling")
			if pb.UID != "" {
				if cerr := b.provider.CancelBooking(ctx, cred.AccessToken, pb.UID, "Duplicate booking"); cerr != nil {
					log.Error("cancel duplicate provider booking failed", "error", cerr)
				}
			}
			return findActiveByCall(ctx, b.db, t.ID, req.CallID)
		}
		return Booking{}, err
	}

	b.record(ctx, audit.EventTypeBookingCreated, bk, req.ActorUserID, "booking created")
	return bk, nil
}

// CancelBooking cancels at the provider and marks the row cancelled.
// Cancelling twice is a no-op.
func (b *Bridge) CancelBooking(ctx context.Context, tenantID, bookingID, reason string) (Booking, error) {
	bk, err := findByID(ctx, b.db, tenantID, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if bk.Status == StatusCancelled {
		return bk, nil
	}

	if bk.ProviderBookingUID != "" {
		t, err := b.tenant(ctx, tenantID)
		if err != nil {
			return Booking{}, err
		}
		cred, err := b.credential(ctx, t)
		if err != nil {
			return Booking{}, err
		}
		if strings.TrimSpace(reason) == "" {
			reason = "Cancelled by business"
		}
		if err := b.provider.CancelBooking(ctx, cred.AccessToken, bk.ProviderBookingUID, reason); err != nil {
			return Booking{}, providerErr(err)
		}
	}

	ts := b.clock().UTC()
	if err := markCancelled(ctx, b.db, bk.ID, ts); err != nil {
		return Booking{}, err
	}
	bk.Status = StatusCancelled
	bk.CancelledAt = &ts
	bk.UpdatedAt = ts

	b.record(ctx, audit.EventTypeBookingCancelled, bk, "", reason)
	return bk, nil
}

func (b *Bridge) GetBooking(ctx context.Context, tenantID, bookingID string) (Booking, error) {
	return findByID(ctx, b.db, tenantID, bookingID)
}

func (b *Bridge) tenant(ctx context.Context, tenantID string) (tenants.Tenant, error) {
	t, err := b.dir.Get(ctx, tenantID)
	if errors.Is(err, tenants.ErrNotFound) {
		return tenants.Tenant{}, fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
	}
	return t, err
}

// credential returns a usable access token, refreshing it first when it
// expires within refreshWindow.
func (b *Bridge) credential(ctx context.Context, t tenants.Tenant) (tenants.SchedulingCredential, error) {
	if !t.SchedulingEnabled {
		return tenants.SchedulingCredential{}, fmt.Errorf("%w: scheduling disabled", ErrNotConfigured)
	}
	cred, err := b.dir.SchedulingCredential(ctx, t.ID)
	if errors.Is(err, tenants.ErrNotFound) {
		return cred, fmt.Errorf("%w: no credential", ErrNotConfigured)
	}
	if err != nil {
		return cred, err
	}
	if !cred.Usable() {
		return cred, fmt.Errorf("%w: credential incomplete", ErrNotConfigured)
	}
	if !cred.ExpiresWithin(b.clock(), refreshWindow) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		return cred, fmt.Errorf("%w: token expired", ErrNotConfigured)
	}
	tok, err := b.provider.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return cred, fmt.Errorf("%w: token refresh failed: %v", ErrNotConfigured, err)
	}
	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if !tok.ExpiresAt.IsZero() {
		exp := tok.ExpiresAt.UTC()
		cred.ExpiresAt = &exp
	} else {
		cred.ExpiresAt = nil
	}
	if err := b.dir.SaveSchedulingCredential(ctx, cred); err != nil {
		logger.From(ctx).Error("persist refreshed credential", "tenant_id", t.ID, "error", err)
	}
	return cred, nil
}

func (b *Bridge) record(ctx context.Context, typ audit.EventType, bk Booking, actor, message string) {
	if b.audit == nil {
		return
	}
	callID := ""
	if bk.CallID != nil {
		callID = *bk.CallID
	}
	meta := map[string]any{
		"provider_booking_uid": bk.ProviderBookingUID,
		"scheduled_at":         bk.ScheduledAt.Format(time.RFC3339),
	}
	if actor != "" {
		meta["actor_user_id"] = actor
	}
	if err := b.audit.Record(ctx, typ, bk.TenantID, callID, bk.ID, message, meta); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", typ, "booking_id", bk.ID, "error", err)
	}
}

func providerErr(err error) error {
	switch {
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		return fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
	case errors.Is(err, scheduling.ErrUnauthorized):
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}

func schedulingZone(t tenants.Tenant, cred tenants.SchedulingCredential) string {
	if cred.Timezone != nil && *cred.Timezone != "" {
		return *cred.Timezone
	}
	return t.Timezone
}

// parseDay returns local midnight of date, or of today when date is empty.
func parseDay(date string, current time.Time) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return now.With(current).BeginningOfDay(), nil
	}
	if d, err := time.ParseInLocation(dateLayout, date, current.Location()); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, date); err == nil {
		return now.With(ts.In(current.Location())).BeginningOfDay(), nil
	}
	return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrValidation, date)
}

func parseStart(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: start time is required", ErrValidation)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(localLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: start time %q is not an ISO-8601 timestamp", ErrValidation, s)
}
