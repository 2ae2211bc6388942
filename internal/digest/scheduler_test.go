package digest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voicedesk/internal/audit"
	"voicedesk/internal/calls"
	"voicedesk/internal/email"
	"voicedesk/internal/reporting"
	"voicedesk/internal/tenants"
	"voicedesk/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg email.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "msg-" + msg.To[0], nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeUsers map[string]string

func (u fakeUsers) UserEmail(_ context.Context, id string) (string, error) {
	if e, ok := u[id]; ok {
		return e, nil
	}
	return "", errors.New("user not found")
}

// recordingReporter keeps the ranges asked for.
type recordingReporter struct {
	inner  *reporting.Service
	mu     sync.Mutex
	ranges map[string]reporting.TimeRange
}

func (r *recordingReporter) CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error) {
	r.mu.Lock()
	r.ranges[req.TenantID] = req.Range
	r.mu.Unlock()
	return r.inner.CallsSummary(ctx, req)
}

type fixture struct {
	sched    *Scheduler
	repo     *tenants.GormRepo
	dir      *tenants.Directory
	mailer   *fakeMailer
	reports  *reporting.MemoryRepo
	reporter *recordingReporter
	audit    *audit.MemoryRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t, tenants.Models()...)
	repo := tenants.NewGormRepo(db)
	dir := tenants.NewDirectory(repo, 0)
	mem := reporting.NewMemoryRepo()
	rr := &recordingReporter{inner: reporting.NewService(mem, mem), ranges: map[string]reporting.TimeRange{}}
	m := &fakeMailer{}
	au := audit.NewMemoryRepo()
	s := NewScheduler(dir, rr, m, fakeUsers{"u-owner": "owner@example.com"}).WithAudit(audit.NewService(au))
	return fixture{sched: s, repo: repo, dir: dir, mailer: m, reports: mem, reporter: rr, audit: au}
}

func (f fixture) addTenant(t *testing.T, id string, mutate func(*tenants.Tenant)) {
	t.Helper()
	tn := tenants.NewTenant(id, "Tenant "+id)
	addr := id + "@example.com"
	tn.Email = &addr
	if mutate != nil {
		mutate(&tn)
	}
	require.NoError(t, f.repo.CreateTenant(context.Background(), &tn))
}

func (f fixture) lastSent(t *testing.T, id string) *time.Time {
	t.Helper()
	tn, err := f.dir.Get(context.Background(), id)
	require.NoError(t, err)
	return tn.LastDigestSentAt
}

func TestRun_NewYorkScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addTenant(t, "ny", nil)

	from := time.Date(2024, 1, 14, 5, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 15, 5, 0, 0, 0, time.UTC)
	f.reports.Calls = []calls.Call{
		{ID: "a", TenantID: "ny", Status: calls.CallStatusCompleted, Intent: "quote", CreatedAt: from},
		{ID: "b", TenantID: "ny", Status: calls.CallStatusNoAnswer, CreatedAt: to.Add(-time.Minute)},
		{ID: "c", TenantID: "ny", Status: calls.CallStatusCompleted, CreatedAt: to},
	}

	tick := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	res, err := f.sched.Run(ctx, tick, WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Sent)
	assert.Empty(t, res.Errors)

	got := f.reporter.ranges["ny"]
	assert.True(t, got.From.Equal(from), "from = %s", got.From)
	assert.True(t, got.To.Equal(to), "to = %s", got.To)

	require.Equal(t, 1, f.mailer.count())
	msg := f.mailer.sent[0]
	assert.Equal(t, []string{"ny@example.com"}, msg.To)
	assert.Equal(t, "digest/ny/2024-01-14", msg.IdempotencyKey)
	assert.Contains(t, msg.Text, "Total calls: 2")
	assert.Contains(t, msg.Text, "Missed calls: 1")
	assert.Contains(t, msg.Text, "- quote: 1")
	assert.Contains(t, msg.HTML, "Sunday, January 14, 2024")

	last := f.lastSent(t, "ny")
	require.NotNil(t, last)
	assert.True(t, last.Equal(tick))

	// next minute does not match and must not resend
	res, err = f.sched.Run(ctx, tick.Add(time.Minute), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Skipped)

	// a duplicate tick in the same minute is stopped by the daily guard
	res, err = f.sched.Run(ctx, tick.Add(30*time.Second), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, f.mailer.count())

	evs := f.audit.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeDigestSent, evs[0].Type)
}

func TestRun_OnlyMatchingMinuteSends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addTenant(t, "ny", nil)

	sent := 0
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 24*60; m++ {
		res, err := f.sched.Run(ctx, start.Add(time.Duration(m)*time.Minute), WindowPreviousDay)
		require.NoError(t, err)
		sent += res.Sent
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, f.mailer.count())
}

func TestRun_DSTStartFiresAtSameLocalMinute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addTenant(t, "ny", nil)

	// 2024-03-10 is the spring-forward day: 08:00 EDT is 12:00Z
	res, err := f.sched.Run(ctx, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent, "13:00Z is 09:00 local after the change")

	res, err = f.sched.Run(ctx, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	got := f.reporter.ranges["ny"]
	assert.True(t, got.From.Equal(time.Date(2024, 3, 9, 5, 0, 0, 0, time.UTC)))
	assert.True(t, got.To.Equal(time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)))

	// the next morning covers the 23-hour day
	res, err = f.sched.Run(ctx, time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	got = f.reporter.ranges["ny"]
	assert.True(t, got.From.Equal(time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)))
	assert.True(t, got.To.Equal(time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC)))
	assert.Equal(t, 23*time.Hour, got.To.Sub(got.From))
}

func TestRun_DigestTimezoneOverridesTenantZone(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "uk", func(tn *tenants.Tenant) {
		tz := "Europe/London"
		tn.DigestTimezone = &tz
		tn.DigestTimeLocal = "07:30"
	})

	res, err := f.sched.Run(context.Background(), time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestRun_RecipientFallbackAndErrorIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addTenant(t, "a-owner", func(tn *tenants.Tenant) { tn.Email = nil })
	f.addTenant(t, "b-nobody", func(tn *tenants.Tenant) { tn.Email = nil })
	f.addTenant(t, "c-direct", nil)
	f.addTenant(t, "d-disabled", func(tn *tenants.Tenant) { tn.DigestEnabled = false })
	require.NoError(t, f.repo.AddUser(ctx, "a-owner", "u-owner", "owner"))
	require.NoError(t, f.repo.AddUser(ctx, "b-nobody", "u-member", "member"))

	tick := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	res, err := f.sched.Run(ctx, tick, WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Sent)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b-nobody", res.Errors[0].TenantID)
	assert.Contains(t, res.Errors[0].Error, "no recipient")

	assert.NotNil(t, f.lastSent(t, "a-owner"))
	assert.Nil(t, f.lastSent(t, "b-nobody"), "unsent digest must not be marked")
	assert.NotNil(t, f.lastSent(t, "c-direct"))

	var to []string
	for _, m := range f.mailer.sent {
		to = append(to, m.To[0])
	}
	assert.ElementsMatch(t, []string{"owner@example.com", "c-direct@example.com"}, to)
}

func TestRun_SendFailureIsNotMarkedAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addTenant(t, "ny", nil)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.sched.WithLocker(NewRedisLocker(rdb, time.Minute))

	tick := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	f.mailer.err = errors.New("smtp down")
	res, err := f.sched.Run(ctx, tick, WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	require.Len(t, res.Errors, 1)
	assert.Nil(t, f.lastSent(t, "ny"))
	assert.False(t, mr.Exists("digest:ny:2024-01-15"), "lock is released on failure")

	f.mailer.err = nil
	res, err = f.sched.Run(ctx, tick.Add(20*time.Second), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.True(t, mr.Exists("digest:ny:2024-01-15"), "lock is kept after a send")
}

func TestRun_LockHeldElsewhereSkips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addTenant(t, "ny", nil)

	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("digest:ny:2024-01-15", "other-run"))
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.sched.WithLocker(NewRedisLocker(rdb, time.Minute))

	res, err := f.sched.Run(ctx, time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC), WindowPreviousDay)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, f.mailer.count())
}

func TestRun_ManualWindowsIgnoreScheduleAndGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addTenant(t, "ny", nil)

	at := time.Date(2024, 1, 15, 18, 42, 0, 0, time.UTC)
	res, err := f.sched.Run(ctx, at, WindowToday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	got := f.reporter.ranges["ny"]
	assert.True(t, got.From.Equal(time.Date(2024, 1, 15, 5, 0, 0, 0, time.UTC)))
	assert.True(t, got.To.Equal(at))
	assert.Empty(t, f.mailer.sent[0].IdempotencyKey)

	res, err = f.sched.Run(ctx, at, WindowLast24h)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Nil(t, f.lastSent(t, "ny"), "manual windows do not touch last_digest_sent_at")
}

func TestRun_SummaryErrorIsCollected(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "ny", nil)
	f.reports.Err = errors.New("db down")

	res, err := f.sched.Run(context.Background(), time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC), WindowPreviousDay)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error, "db down")
}

func TestParseWindowAndClock(t *testing.T) {
	w, err := ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, WindowPreviousDay, w)
	w, err = ParseWindow("LAST_24H")
	require.NoError(t, err)
	assert.Equal(t, WindowLast24h, w)
	_, err = ParseWindow("week")
	assert.Error(t, err)

	h, m, ok := parseClock("08:05")
	assert.True(t, ok)
	assert.Equal(t, []int{8, 5}, []int{h, m})
	_, _, ok = parseClock("8:05:00")
	assert.True(t, ok)
	_, _, ok = parseClock("25:00")
	assert.False(t, ok)
	_, _, ok = parseClock("noon")
	assert.False(t, ok)
}
