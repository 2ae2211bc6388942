package reporting

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"voicedesk/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallSource is the call ledger's read side. It filters by tenant and
// returns calls created in [from, to).
type CallSource interface {
	ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error)
}

// BookingCounter counts the tenant's bookings created in [from, to).
type BookingCounter interface {
	CountBookings(ctx context.Context, tenantID string, from, to time.Time) (int, error)
}

type Service struct {
	calls    CallSource
	bookings BookingCounter
}

func NewService(callSource CallSource, bookingCounter BookingCounter) *Service {
	return &Service{calls: callSource, bookings: bookingCounter}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil || s.bookings == nil {
		return CallsSummary{}, errors.New("reporting: sources not configured")
	}

	rows, err := s.calls.ListBetween(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}
	booked, err := s.bookings.CountBookings(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := Summarize(rows)
	out.TenantID = req.TenantID
	out.Range = req.Range
	out.BookingsCreated = booked
	return out, nil
}

// Summarize aggregates calls. A call is missed when its status is in the
// missed set.
func Summarize(rows []calls.Call) CallsSummary {
	var out CallsSummary
	intents := map[string]int{}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.Status.IsMissed() {
			out.MissedCalls++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusInProgress, calls.CallStatusRinging, calls.CallStatusQueued:
			out.InProgressCalls++
		}
		if c.AIHandled {
			out.AIHandledCalls++
		}
		if c.EscalationRequired {
			out.EscalatedCalls++
		}
		if in := strings.ToLower(strings.TrimSpace(c.Intent)); in != "" {
			intents[in]++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}

	out.Intents = make([]IntentCount, 0, len(intents))
	for k, v := range intents {
		out.Intents = append(out.Intents, IntentCount{Intent: k, Count: v})
	}
	sort.Slice(out.Intents, func(i, j int) bool {
		if out.Intents[i].Count != out.Intents[j].Count {
			return out.Intents[i].Count > out.Intents[j].Count
		}
		return out.Intents[i].Intent < out.Intents[j].Intent
	})
	return out
}
