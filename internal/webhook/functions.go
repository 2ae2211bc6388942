package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicedesk/internal/bookings"
	"voicedesk/internal/tenants"
	"voicedesk/pkg/logger"

	"github.com/spf13/cast"
)

// Caller-facing messages. Technical failures never reach the caller.
const (
	msgCannotBook       = "I'm not able to book appointments on this call, but I'll make sure someone from the office calls you back to set that up."
	msgTemporaryTrouble = "I'm having trouble reaching the calendar right now. Can I take your details so someone can call you back to confirm a time?"
	msgSlotTaken        = "I'm sorry, that time was just taken. Would you like me to check other openings?"
)

func (r *Router) functionCall(ctx context.Context, msg Message) (FunctionResponse, string) {
	if msg.FunctionCall == nil || strings.TrimSpace(msg.FunctionCall.Name) == "" {
		return FunctionResponse{Error: "No function was specified."}, OutcomeIgnored
	}
	name := msg.FunctionCall.Name
	args := msg.FunctionCall.Args()
	log := logger.From(ctx).With("function", name)

	if name != FuncCheckAvailability && name != FuncCreateBooking {
		log.Warn("unknown function call")
		return FunctionResponse{Error: fmt.Sprintf("Unknown function %q.", name)}, OutcomeIgnored
	}

	t, outcome, ok := r.resolve(ctx, msg)
	if !ok {
		return FunctionResponse{Result: msgCannotBook}, outcome
	}
	ctx = logger.With(ctx, log.With("tenant_id", t.ID))

	if name == FuncCheckAvailability {
		return r.checkAvailability(ctx, t, args)
	}
	return r.createBooking(ctx, t, msg, args)
}

func (r *Router) checkAvailability(ctx context.Context, t tenants.Tenant, args map[string]any) (FunctionResponse, string) {
	date := cast.ToString(args["date"])
	raw := cast.ToString(args["timePreference"])
	pref, ok := bookings.ParseTimePreference(raw)
	if !ok {
		logger.From(ctx).Info("unknown time preference, not filtering", "time_preference", raw)
	}

	slots, err := r.bookings.CheckAvailability(ctx, t.ID, date, pref)
	if err != nil {
		return bookingFailure(ctx, err)
	}

	loc, _ := t.Location()
	if len(slots) == 0 {
		if pref != bookings.PreferenceAny {
			return FunctionResponse{Result: fmt.Sprintf("I don't see any %s openings that day. Would a different time of day or another day work?", pref)}, OutcomeOK
		}
		return FunctionResponse{Result: "I don't see any openings that day. Would another day work for you?"}, OutcomeOK
	}
	return FunctionResponse{Result: describeSlots(slots, loc)}, OutcomeOK
}

func (r *Router) createBooking(ctx context.Context, t tenants.Tenant, msg Message, args map[string]any) (FunctionResponse, string) {
	req := bookings.CreateRequest{
		TenantID:      t.ID,
		CustomerName:  cast.ToString(args["customerName"]),
		CustomerEmail: cast.ToString(args["customerEmail"]),
		CustomerPhone: firstNonEmpty(cast.ToString(args["customerPhone"]), msg.CustomerNumber()),
		StartTime:     cast.ToString(args["startTime"]),
		Notes:         cast.ToString(args["notes"]),
	}
	if msg.Call.ID != "" {
		if c, err := r.calls.GetByProviderID(ctx, t.ID, msg.Call.ID); err == nil {
			req.CallID = c.ID
		} else {
			logger.From(ctx).Warn("booking call not found, booking without call link", "error", err)
		}
	}

	bk, err := r.bookings.CreateBooking(ctx, req)
	if err != nil {
		return bookingFailure(ctx, err)
	}

	loc, _ := t.Location()
	when := bk.ScheduledAt.In(loc)
	return FunctionResponse{Result: fmt.Sprintf("You're all set for %s at %s. We look forward to seeing you, %s.",
		when.Format("Monday, January 2"), when.Format("3:04 PM"), bk.CustomerName)}, OutcomeOK
}

// bookingFailure turns a bridge error into something the assistant can say.
// Bad input goes back as an error so the assistant asks again.
func bookingFailure(ctx context.Context, err error) (FunctionResponse, string) {
	log := logger.From(ctx)
	switch {
	case errors.Is(err, bookings.ErrValidation):
		log.Info("booking request rejected", "error", err)
		return FunctionResponse{Error: validationMessage(err)}, OutcomeOK
	case errors.Is(err, bookings.ErrSlotUnavailable):
		log.Info("slot unavailable", "error", err)
		return FunctionResponse{Result: msgSlotTaken}, OutcomeOK
	case errors.Is(err, bookings.ErrNotConfigured):
		log.Warn("scheduling not configured", "error", err)
		return FunctionResponse{Result: msgCannotBook}, OutcomeError
	default:
		log.Error("booking bridge failed", "error", err)
		return FunctionResponse{Result: msgTemporaryTrouble}, OutcomeError
	}
}

func validationMessage(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "future"), strings.Contains(s, "past"):
		return "That time has already passed. Please choose a time later than now."
	case strings.Contains(s, "name"):
		return "I need the caller's name to make the booking."
	default:
		return "I couldn't understand that date or time. Could you say it again?"
	}
}

func describeSlots(slots []time.Time, loc *time.Location) string {
	n := len(slots)
	if n > maxOfferedSlots {
		slots = slots[:maxOfferedSlots]
	}
	times := make([]string, len(slots))
	for i, s := range slots {
		times[i] = s.In(loc).Format("3:04 PM")
	}
	day := slots[0].In(loc).Format("Monday, January 2")

	var list string
	switch len(times) {
	case 1:
		list = times[0]
	case 2:
		list = times[0] + " or " + times[1]
	default:
		list = strings.Join(times[:len(times)-1], ", ") + ", or " + times[len(times)-1]
	}
	if n > maxOfferedSlots {
		return fmt.Sprintf("On %s I have openings at %s, among others. Which works best?", day, list)
	}
	return fmt.Sprintf("On %s I have openings at %s. Which works best?", day, list)
}
