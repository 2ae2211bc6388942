package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicedesk/internal/bookings"
	"voicedesk/internal/calls"
	"voicedesk/internal/tenants"
	"voicedesk/internal/transcripts"
	"voicedesk/pkg/logger"

	"github.com/spf13/cast"
)

// Outcomes reported per event.
const (
	OutcomeOK         = "ok"
	OutcomeIgnored    = "ignored"
	OutcomeUnresolved = "unresolved"
	OutcomeError      = "error"
	OutcomeMalformed  = "malformed"
)

const maxOfferedSlots = 5

type TenantResolver interface {
	ResolveByPhone(ctx context.Context, phone string) (tenants.Tenant, error)
}

type CallStore interface {
	UpsertCall(ctx context.Context, tenantID, providerCallID string, patch calls.CallPatch) (calls.Call, error)
	FinalizeCall(ctx context.Context, tenantID, providerCallID string, r calls.Report) (calls.Call, error)
	GetByProviderID(ctx context.Context, tenantID, providerCallID string) (calls.Call, error)
}

type TurnStore interface {
	Append(ctx context.Context, in transcripts.TurnInput) (transcripts.Turn, error)
}

type Booker interface {
	SchedulingAvailable(ctx context.Context, t tenants.Tenant) bool
	CheckAvailability(ctx context.Context, tenantID, date string, pref bookings.TimePreference) ([]time.Time, error)
	CreateBooking(ctx context.Context, req bookings.CreateRequest) (bookings.Booking, error)
}

// EventRecorder counts handled events; failures inside the router are
// visible only through it and the logs.
type EventRecorder interface {
	WebhookEvent(eventType, outcome string)
}

type Ack struct {
	Received bool `json:"received"`
}

type AssistantResponse struct {
	Assistant Assistant `json:"assistant"`
}

// FunctionResponse carries either a spoken result or an error string.
type FunctionResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Router maps provider events onto the call ledger, transcript sequencer
// and booking bridge. It never fails: every event gets a response body.
type Router struct {
	tenants  TenantResolver
	calls    CallStore
	turns    TurnStore
	bookings Booker
	defaults AssistantDefaults
	metrics  EventRecorder
	clock    func() time.Time
}

func NewRouter(t TenantResolver, c CallStore, turns TurnStore, b Booker, defaults AssistantDefaults, metrics EventRecorder) *Router {
	return &Router{tenants: t, calls: c, turns: turns, bookings: b, defaults: defaults, metrics: metrics, clock: time.Now}
}

// WithClock overrides the time source (tests).
func (r *Router) WithClock(clock func() time.Time) *Router {
	r.clock = clock
	return r
}

// Dispatch handles one event and returns the body to send back.
func (r *Router) Dispatch(ctx context.Context, msg Message) (resp any) {
	typ := msg.Type
	outcome := OutcomeOK
	log := logger.From(ctx).With("event_type", typ, "provider_call_id", msg.Call.ID)
	ctx = logger.With(ctx, log)

	defer func() {
		if p := recover(); p != nil {
			log.Error("webhook handler panic", "panic", fmt.Sprint(p))
			outcome = OutcomeError
			resp = fallbackResponse(typ, r.defaults)
		}
		r.record(typ, outcome)
	}()

	switch typ {
	case TypeAssistantRequest:
		resp, outcome = r.assistantRequest(ctx, msg)
	case TypeStatusUpdate:
		outcome = r.statusUpdate(ctx, msg)
		resp = Ack{Received: true}
	case TypeTranscript:
		outcome = r.transcript(ctx, msg)
		resp = Ack{Received: true}
	case TypeFunctionCall:
		resp, outcome = r.functionCall(ctx, msg)
	case TypeEndOfCallReport:
		outcome = r.endOfCallReport(ctx, msg)
		resp = Ack{Received: true}
	default:
		log.Debug("ignoring webhook event")
		outcome = OutcomeIgnored
		resp = Ack{Received: true}
	}
	return resp
}

// RecordMalformed counts a body that could not be decoded.
func (r *Router) RecordMalformed() {
	r.record("unknown", OutcomeMalformed)
}

func (r *Router) record(typ, outcome string) {
	if r.metrics == nil {
		return
	}
	if typ == "" {
		typ = "unknown"
	}
	r.metrics.WebhookEvent(typ, outcome)
}

func fallbackResponse(typ string, d AssistantDefaults) any {
	switch typ {
	case TypeAssistantRequest:
		return AssistantResponse{Assistant: GenericAssistant(d)}
	case TypeFunctionCall:
		return FunctionResponse{Result: msgTemporaryTrouble}
	default:
		return Ack{Received: true}
	}
}

// resolve returns the tenant owning the dialed number. ok is false when
// the number is unmapped or the lookup failed; outcome says which.
func (r *Router) resolve(ctx context.Context, msg Message) (tenants.Tenant, string, bool) {
	phone := msg.DialedNumber()
	t, err := r.tenants.ResolveByPhone(ctx, phone)
	if err == nil {
		return t, OutcomeOK, true
	}
	if errors.Is(err, tenants.ErrNotFound) {
		logger.From(ctx).Info("no tenant for dialed number", "phone", phone)
		return tenants.Tenant{}, OutcomeUnresolved, false
	}
	logger.From(ctx).Error("tenant lookup failed", "phone", phone, "error", err)
	return tenants.Tenant{}, OutcomeError, false
}

func (r *Router) assistantRequest(ctx context.Context, msg Message) (any, string) {
	t, outcome, ok := r.resolve(ctx, msg)
	if !ok {
		return AssistantResponse{Assistant: GenericAssistant(r.defaults)}, outcome
	}
	log := logger.From(ctx).With("tenant_id", t.ID)

	status := calls.CallStatusQueued
	c, err := r.calls.UpsertCall(ctx, t.ID, msg.Call.ID, calls.CallPatch{
		Direction:     calls.Ptr(calls.DirectionInbound),
		Status:        &status,
		ToPhone:       optString(msg.DialedNumber()),
		FromPhone:     optString(msg.CustomerNumber()),
		CustomerPhone: optString(msg.CustomerNumber()),
		StartedAt:     firstTime(msg.Call.StartedAt),
	})
	if err != nil {
		log.Error("create call failed", "error", err)
		outcome = OutcomeError
	}

	loc, _ := t.Location()
	a := BuildAssistant(r.defaults, AssistantOptions{
		TenantID:     t.ID,
		CallID:       c.ID,
		BusinessName: t.Name,
		Timezone:     loc,
		Scheduling:   r.bookings.SchedulingAvailable(ctx, t),
	}, r.clock())
	return AssistantResponse{Assistant: a}, outcome
}

func (r *Router) statusUpdate(ctx context.Context, msg Message) string {
	if msg.Call.ID == "" {
		logger.From(ctx).Warn("status-update without call id")
		return OutcomeIgnored
	}
	t, outcome, ok := r.resolve(ctx, msg)
	if !ok {
		return outcome
	}

	patch := calls.CallPatch{
		StartedAt:     firstTime(msg.Call.StartedAt, msg.StartedAt),
		EndedAt:       firstTime(msg.Call.EndedAt, msg.EndedAt),
		EndedReason:   optString(msg.EndedReason),
		CustomerPhone: optString(msg.CustomerNumber()),
		ToPhone:       optString(msg.DialedNumber()),
	}
	status, known := MapStatus(msg.Status, msg.EndedReason)
	if known {
		patch.Status = &status
	}
	if d, ok := seconds(msg.Call.Duration); ok {
		patch.DurationSeconds = &d
	}
	now := r.clock().UTC()
	if status == calls.CallStatusInProgress && patch.StartedAt == nil {
		patch.StartedAt = firstTime(msg.Timestamp)
	}
	if known && status.IsTerminal() && patch.EndedAt == nil {
		patch.EndedAt = firstTime(msg.Timestamp)
		if patch.EndedAt == nil {
			patch.EndedAt = &now
		}
	}
	if known && status.IsTerminal() {
		patch.Missed = calls.Ptr(status.IsMissed())
	}

	if _, err := r.calls.UpsertCall(ctx, t.ID, msg.Call.ID, patch); err != nil {
		logger.From(ctx).Error("status update failed", "tenant_id", t.ID, "status", msg.Status, "error", err)
		return OutcomeError
	}
	return OutcomeOK
}

// MapStatus converts a provider status to a call status. "ended" resolves
// through the ended reason. ok is false for statuses with no mapping.
func MapStatus(status, endedReason string) (calls.CallStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "scheduled":
		return calls.CallStatusQueued, true
	case "ringing":
		return calls.CallStatusRinging, true
	case "in-progress", "forwarding":
		return calls.CallStatusInProgress, true
	case "ended", "completed":
		return calls.StatusForEndedReason(endedReason), true
	case "failed":
		return calls.CallStatusFailed, true
	case "busy":
		return calls.CallStatusBusy, true
	case "no-answer":
		return calls.CallStatusNoAnswer, true
	default:
		return "", false
	}
}

func (r *Router) transcript(ctx context.Context, msg Message) string {
	if !msg.IsFinalTranscript() {
		return OutcomeIgnored
	}
	if msg.Call.ID == "" || strings.TrimSpace(msg.Transcript) == "" {
		logger.From(ctx).Warn("transcript without call id or text")
		return OutcomeIgnored
	}
	t, outcome, ok := r.resolve(ctx, msg)
	if !ok {
		return outcome
	}
	log := logger.From(ctx).With("tenant_id", t.ID)

	c, err := r.calls.UpsertCall(ctx, t.ID, msg.Call.ID, calls.CallPatch{
		CustomerPhone: optString(msg.CustomerNumber()),
		ToPhone:       optString(msg.DialedNumber()),
	})
	if err != nil {
		log.Error("ensure call failed", "error", err)
		return OutcomeError
	}

	role, ok := transcripts.ParseRole(msg.Role)
	if !ok {
		log.Warn("transcript with unknown role", "role", msg.Role)
		return OutcomeIgnored
	}
	turn, err := r.turns.Append(ctx, transcripts.TurnInput{
		CallID:   c.ID,
		Role:     role,
		Text:     msg.Transcript,
		SpokenAt: msg.Timestamp.Time,
	})
	if err != nil {
		log.Error("append turn failed", "call_id", c.ID, "error", err)
		return OutcomeError
	}
	log.Debug("turn appended", "call_id", c.ID, "sequence", turn.SequenceNumber)
	return OutcomeOK
}

func (r *Router) endOfCallReport(ctx context.Context, msg Message) string {
	if msg.Call.ID == "" {
		logger.From(ctx).Warn("end-of-call-report without call id")
		return OutcomeIgnored
	}
	t, outcome, ok := r.resolve(ctx, msg)
	if !ok {
		return outcome
	}

	rep := calls.Report{
		EndedReason:   msg.EndedReason,
		StartedAt:     firstTime(msg.StartedAt, msg.Call.StartedAt),
		EndedAt:       firstTime(msg.EndedAt, msg.Call.EndedAt),
		Summary:       msg.Summary,
		Transcript:    msg.Transcript,
		RecordingURL:  msg.RecordingURL,
		CustomerPhone: msg.CustomerNumber(),
	}
	if d, ok := seconds(msg.DurationSeconds); ok {
		rep.DurationSeconds = &d
	} else if d, ok := seconds(msg.Call.Duration); ok {
		rep.DurationSeconds = &d
	}
	if a := msg.Artifact; a != nil {
		rep.Transcript = firstNonEmpty(rep.Transcript, a.Transcript)
		rep.RecordingURL = firstNonEmpty(rep.RecordingURL, a.RecordingURL)
	}
	if a := msg.Analysis; a != nil {
		rep.Summary = firstNonEmpty(rep.Summary, a.Summary)
		sd := a.StructuredData
		rep.Intent = cast.ToString(sd["intent"])
		rep.Sentiment = cast.ToString(sd["sentiment"])
		rep.EscalationRequired = cast.ToBool(sd["escalationRequired"])
	}
	if msg.Cost != nil {
		if cost, err := cast.ToFloat64E(msg.Cost); err == nil {
			rep.Metadata = calls.Metadata{"cost": cost}
		}
	}

	c, err := r.calls.FinalizeCall(ctx, t.ID, msg.Call.ID, rep)
	if err != nil {
		logger.From(ctx).Error("finalize call failed", "tenant_id", t.ID, "error", err)
		return OutcomeError
	}
	logger.From(ctx).Info("call finalized", "tenant_id", t.ID, "call_id", c.ID, "status", c.Status, "duration_seconds", c.DurationSeconds)
	return OutcomeOK
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
