// Package digest emails each tenant a daily call summary at the tenant's
// local send time.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicedesk/internal/audit"
	"voicedesk/internal/email"
	"voicedesk/internal/reporting"
	"voicedesk/internal/tenants"
	"voicedesk/pkg/logger"
)

var ErrNoRecipient = errors.New("digest: no recipient email")

const tenantTimeout = 30 * time.Second

type TenantSource interface {
	ListDigestTenants(ctx context.Context) ([]tenants.Tenant, error)
	OwnerUserID(ctx context.Context, tenantID string) (string, error)
	MarkDigestSent(ctx context.Context, tenantID string, at time.Time) error
}

type Reporter interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

type Mailer interface {
	Send(ctx context.Context, m email.Message) (string, error)
}

type UserDirectory interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

type Auditor interface {
	Record(ctx context.Context, t audit.EventType, tenantID, callID, bookingID, message string, metadata map[string]any) error
}

type RunRecorder interface {
	DigestRun(window string, sent, skipped, failed int, took time.Duration)
}

type TenantError struct {
	TenantID string `json:"tenantId"`
	Error    string `json:"error"`
}

// Result summarizes one run.
type Result struct {
	Window    Window        `json:"window"`
	Processed int           `json:"processed"`
	Sent      int           `json:"sent"`
	Skipped   int           `json:"skipped"`
	Errors    []TenantError `json:"errors"`
}

type Scheduler struct {
	tenants TenantSource
	reports Reporter
	mailer  Mailer
	users   UserDirectory

	// optional
	locker  Locker
	audit   Auditor
	metrics RunRecorder
}

func NewScheduler(t TenantSource, r Reporter, m Mailer, users UserDirectory) *Scheduler {
	return &Scheduler{tenants: t, reports: r, mailer: m, users: users}
}

func (s *Scheduler) WithLocker(l Locker) *Scheduler {
	s.locker = l
	return s
}

func (s *Scheduler) WithAudit(a Auditor) *Scheduler {
	s.audit = a
	return s
}

func (s *Scheduler) WithMetrics(m RunRecorder) *Scheduler {
	s.metrics = m
	return s
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
)

// Run visits every digest-enabled tenant once for the tick at. A tenant's
// failure is recorded in the result and never stops the others; only a
// failure to list tenants is returned as an error.
func (s *Scheduler) Run(ctx context.Context, at time.Time, w Window) (Result, error) {
	start := time.Now()
	res := Result{Window: w, Errors: []TenantError{}}
	log := logger.From(ctx).With("window", string(w))

	list, err := s.tenants.ListDigestTenants(ctx)
	if err != nil {
		return res, fmt.Errorf("digest: list tenants: %w", err)
	}

	for _, t := range list {
		res.Processed++
		tctx, cancel := context.WithTimeout(ctx, tenantTimeout)
		tctx = logger.With(tctx, log.With("tenant_id", t.ID))
		o, err := s.runTenant(tctx, t, at, w)
		cancel()

		switch {
		case err != nil:
			logger.From(tctx).Error("digest failed", "error", err)
			res.Errors = append(res.Errors, TenantError{TenantID: t.ID, Error: err.Error()})
		case o == outcomeSent:
			res.Sent++
		default:
			res.Skipped++
		}
	}

	if s.metrics != nil {
		s.metrics.DigestRun(string(w), res.Sent, res.Skipped, len(res.Errors), time.Since(start))
	}
	if res.Sent > 0 || len(res.Errors) > 0 {
		log.Info("digest run finished", "processed", res.Processed, "sent", res.Sent, "skipped", res.Skipped, "errors", len(res.Errors))
	}
	return res, nil
}

func (s *Scheduler) runTenant(ctx context.Context, t tenants.Tenant, at time.Time, w Window) (outcome, error) {
	log := logger.From(ctx)
	loc, ok := t.DigestLocation()
	if !ok {
		log.Warn("unknown digest timezone, using UTC", "timezone", t.EffectiveDigestTimezone())
	}
	local := at.In(loc)
	localDate := local.Format("2006-01-02")

	if w.Scheduled() {
		h, m, ok := parseClock(t.DigestTimeLocal)
		if !ok {
			return outcomeSkipped, fmt.Errorf("digest: invalid digest_time_local %q", t.DigestTimeLocal)
		}
		if local.Hour() != h || local.Minute() != m {
			return outcomeSkipped, nil
		}
		if t.LastDigestSentAt != nil && sameLocalDay(*t.LastDigestSentAt, at, loc) {
			log.Debug("digest already sent today", "last_sent_at", t.LastDigestSentAt.UTC())
			return outcomeSkipped, nil
		}
	}

	unlock := func() {}
	if s.locker != nil {
		release, acquired, err := s.locker.Lock(ctx, lockKey(t.ID, localDate))
		switch {
		case err != nil:
			log.Warn("digest lock unavailable, continuing unlocked", "error", err)
		case !acquired:
			log.Info("digest in progress elsewhere")
			return outcomeSkipped, nil
		default:
			unlock = release
		}
	}

	sent, err := s.send(ctx, t, at, w, loc)
	if err != nil {
		unlock()
		return outcomeSkipped, err
	}

	if w.Scheduled() {
		if err := s.tenants.MarkDigestSent(ctx, t.ID, at.UTC()); err != nil {
			// the email went out; the lock stays held so this minute does not resend
			return outcomeSent, fmt.Errorf("digest: sent but not recorded: %w", err)
		}
	}
	s.record(ctx, t, w, sent)
	return outcomeSent, nil
}

type sentDigest struct {
	recipient string
	messageID string
	from, to  time.Time
	summary   reporting.CallsSummary
}

func (s *Scheduler) send(ctx context.Context, t tenants.Tenant, at time.Time, w Window, loc *time.Location) (sentDigest, error) {
	from, to := w.Bounds(at, loc)
	summary, err := s.reports.CallsSummary(ctx, reporting.CallsSummaryRequest{
		TenantID: t.ID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		return sentDigest{}, fmt.Errorf("digest: summary: %w", err)
	}

	rcpt, err := s.recipient(ctx, t)
	if err != nil {
		return sentDigest{}, err
	}

	msg, err := render(t.Name, periodLabel(w, from, to, loc), summary)
	if err != nil {
		return sentDigest{}, err
	}
	id, err := s.mailer.Send(ctx, email.Message{
		To:             []string{rcpt},
		Subject:        msg.Subject,
		HTML:           msg.HTML,
		Text:           msg.Text,
		IdempotencyKey: idempotencyKey(t.ID, w, from, loc),
		Tags:           map[string]string{"kind": "daily_digest"},
	})
	if err != nil {
		return sentDigest{}, fmt.Errorf("digest: send: %w", err)
	}
	logger.From(ctx).Info("digest sent", "message_id", id, "from", from, "to", to, "calls", summary.TotalCalls)
	return sentDigest{recipient: rcpt, messageID: id, from: from, to: to, summary: summary}, nil
}

// recipient is the tenant's own email, else its owner's account email.
func (s *Scheduler) recipient(ctx context.Context, t tenants.Tenant) (string, error) {
	if e := t.ContactEmail(); e != "" {
		return e, nil
	}
	owner, err := s.tenants.OwnerUserID(ctx, t.ID)
	if errors.Is(err, tenants.ErrNotFound) {
		return "", ErrNoRecipient
	}
	if err != nil {
		return "", fmt.Errorf("digest: owner lookup: %w", err)
	}
	if s.users == nil {
		return "", ErrNoRecipient
	}
	addr, err := s.users.UserEmail(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("%w: owner %s: %v", ErrNoRecipient, owner, err)
	}
	return addr, nil
}

func (s *Scheduler) record(ctx context.Context, t tenants.Tenant, w Window, d sentDigest) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"window":      string(w),
		"from":        d.from.Format(time.RFC3339),
		"to":          d.to.Format(time.RFC3339),
		"recipient":   d.recipient,
		"message_id":  d.messageID,
		"total_calls": d.summary.TotalCalls,
	}
	if err := s.audit.Record(ctx, audit.EventTypeDigestSent, t.ID, "", "", "daily digest sent", meta); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", audit.EventTypeDigestSent, "error", err)
	}
}

func periodLabel(w Window, from, to time.Time, loc *time.Location) string {
	switch w {
	case WindowToday:
		return "today so far (" + from.In(loc).Format("Mon, Jan 2") + ")"
	case WindowLast24h:
		return "the last 24 hours"
	default:
		return from.In(loc).Format("Monday, January 2, 2006")
	}
}

// idempotencyKey is stable for scheduled sends so a provider retry or a
// duplicate tick cannot deliver twice.
func idempotencyKey(tenantID string, w Window, from time.Time, loc *time.Location) string {
	if !w.Scheduled() {
		return ""
	}
	return "digest/" + tenantID + "/" + from.In(loc).Format("2006-01-02")
}
