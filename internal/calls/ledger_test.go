package calls

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voicedesk/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newLedger(t *testing.T, now time.Time) *Ledger {
	t.Helper()
	db := testutil.NewDB(t, &Call{})
	return NewLedger(db).WithClock(func() time.Time { return now })
}

func TestUpsertCall_CreatesWithDefaults(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))

	c, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{CustomerPhone: Ptr("+15550001111")})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, CallStatusQueued, c.Status)
	assert.Equal(t, DirectionInbound, c.Direction)
	assert.Equal(t, "+15550001111", c.CustomerPhone)

	again, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{Summary: Ptr("hi")})
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "+15550001111", again.CustomerPhone, "unprovided field must survive")
	assert.Equal(t, "hi", again.Summary)
}

func TestUpsertCall_TerminalNeverRegresses(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Now().UTC())

	_, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{Status: Ptr(CallStatusInProgress)})
	require.NoError(t, err)
	_, err = l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{Status: Ptr(CallStatusCompleted)})
	require.NoError(t, err)

	// a late status-update arrives after the report
	c, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{Status: Ptr(CallStatusRinging), RecordingURL: Ptr("https://r/1")})
	require.NoError(t, err)
	assert.Equal(t, CallStatusCompleted, c.Status)
	assert.Equal(t, "https://r/1", c.RecordingURL, "other fields still merge")
}

func TestUpsertCall_RejectsUnknownStatus(t *testing.T) {
	l := newLedger(t, time.Now().UTC())
	_, err := l.UpsertCall(context.Background(), "t-1", "vapi-1", CallPatch{Status: Ptr(CallStatus("ended"))})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = l.UpsertCall(context.Background(), "", "vapi-1", CallPatch{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpsertCall_WithoutProviderIDAlwaysCreates(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Now().UTC())
	a, err := l.UpsertCall(ctx, "t-1", "", CallPatch{})
	require.NoError(t, err)
	b, err := l.UpsertCall(ctx, "t-1", "", CallPatch{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Nil(t, a.ProviderCallID)
}

func TestUpsertCall_ConcurrentCallbacksShareOneRow(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Now().UTC())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.UpsertCall(ctx, "t-1", "vapi-race", CallPatch{Status: Ptr(CallStatusInProgress)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int64
	require.NoError(t, l.db.Model(&Call{}).Where("provider_call_id = ?", "vapi-race").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestUpsertCall_CreateRaceFallsBackToMerge(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Now().UTC())

	first, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{CustomerPhone: Ptr("+15550001111")})
	require.NoError(t, err)

	// the next lookup misses the row, as it does for a writer that read
	// before another writer committed the create
	var missed atomic.Int32
	require.NoError(t, l.db.Callback().Query().Before("gorm:query").Register("test:miss_once", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*Call); ok && missed.CompareAndSwap(0, 1) {
			tx.AddError(gorm.ErrRecordNotFound)
		}
	}))

	got, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{Status: Ptr(CallStatusRinging)})
	require.NoError(t, err)
	assert.Equal(t, int32(1), missed.Load())
	assert.Equal(t, first.ID, got.ID, "the duplicate insert merges into the existing row")
	assert.Equal(t, CallStatusRinging, got.Status)
	assert.Equal(t, "+15550001111", got.CustomerPhone)

	var n int64
	require.NoError(t, l.db.Model(&Call{}).Where("provider_call_id = ?", "vapi-1").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestFinalizeCall_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Now().UTC())

	start := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	_, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{StartedAt: &start})
	require.NoError(t, err)

	report := Report{
		EndedReason: "customer-ended-call",
		EndedAt:     &end,
		Summary:     "Booked a drain cleaning",
		Transcript:  "AI: Hello\nUser: Hi",
		Intent:      "Booking",
		Sentiment:   "Positive",
	}
	first, err := l.FinalizeCall(ctx, "t-1", "vapi-1", report)
	require.NoError(t, err)
	second, err := l.FinalizeCall(ctx, "t-1", "vapi-1", report)
	require.NoError(t, err)

	assert.Equal(t, CallStatusCompleted, first.Status)
	assert.Equal(t, "booking", first.Intent)
	assert.True(t, first.AIHandled)
	assert.False(t, first.Missed)

	first.UpdatedAt, second.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.DurationSeconds, second.DurationSeconds)
	assert.True(t, first.EndedAt.Equal(*second.EndedAt))
}

func TestFinalizeCall_MissedAndClamped(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Now().UTC())

	start := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	early := start.Add(-time.Minute)
	_, err := l.UpsertCall(ctx, "t-1", "vapi-2", CallPatch{StartedAt: &start})
	require.NoError(t, err)

	c, err := l.FinalizeCall(ctx, "t-1", "vapi-2", Report{EndedReason: "customer-did-not-answer", EndedAt: &early})
	require.NoError(t, err)
	assert.Equal(t, CallStatusNoAnswer, c.Status)
	assert.True(t, c.Missed)
	assert.False(t, c.AIHandled)
	require.NotNil(t, c.EndedAt)
	assert.False(t, c.EndedAt.Before(*c.StartedAt))
}

func TestListBetween_HalfOpenWindow(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t, &Call{})
	base := time.Date(2024, 1, 14, 5, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{base.Add(-time.Second), base, base.Add(23 * time.Hour), base.Add(24 * time.Hour)} {
		at := at
		l := NewLedger(db).WithClock(func() time.Time { return at })
		_, err := l.UpsertCall(ctx, "t-1", "p-"+string(rune('a'+i)), CallPatch{})
		require.NoError(t, err)
	}
	l := NewLedger(db)
	list, err := l.ListBetween(ctx, "t-1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	other, err := l.ListBetween(ctx, "t-2", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = l.ListBetween(ctx, "t-1", base, base)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGet_IsTenantScoped(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, time.Now().UTC())
	c, err := l.UpsertCall(ctx, "t-1", "vapi-1", CallPatch{})
	require.NoError(t, err)

	_, err = l.Get(ctx, "t-2", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := l.GetByProviderID(ctx, "t-1", "vapi-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}
