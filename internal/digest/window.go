package digest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

// Window selects the reporting period.
type Window string

const (
	// WindowPreviousDay is the previous local calendar day. It is the only
	// window with the once-per-local-day guarantee.
	WindowPreviousDay Window = "previous_day"
	// WindowToday runs from local midnight to now (manual trigger).
	WindowToday Window = "today"
	// WindowLast24h is the 24 hours before now (manual trigger).
	WindowLast24h Window = "last_24h"
)

func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return WindowPreviousDay, nil
	case WindowPreviousDay, WindowToday, WindowLast24h:
		return w, nil
	default:
		return "", fmt.Errorf("digest: unknown window %q", s)
	}
}

// Scheduled reports whether the window honors send times and the daily guard.
func (w Window) Scheduled() bool { return w == WindowPreviousDay }

// Bounds returns the window as a UTC [from, to) pair. Local midnights are
// resolved with loc's offset on that date.
func (w Window) Bounds(at time.Time, loc *time.Location) (time.Time, time.Time) {
	local := at.In(loc)
	switch w {
	case WindowToday:
		return now.With(local).BeginningOfDay().UTC(), at.UTC()
	case WindowLast24h:
		return at.Add(-24 * time.Hour).UTC(), at.UTC()
	default:
		today := now.With(local).BeginningOfDay()
		y, m, d := today.Date()
		yesterday := time.Date(y, m, d-1, 0, 0, 0, 0, loc)
		return now.With(yesterday).BeginningOfDay().UTC(), today.UTC()
	}
}

// parseClock reads "HH:MM" (or "HH:MM:SS") into hour and minute.
func parseClock(s string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
