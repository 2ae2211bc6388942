package tenants

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicedesk/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *GormRepo {
	t.Helper()
	return NewGormRepo(testutil.NewDB(t, Models()...))
}

func TestResolveByPhone(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	acme := NewTenant("t-acme", "Acme Plumbing")
	require.NoError(t, repo.CreateTenant(ctx, &acme))
	require.NoError(t, repo.MapPhone(ctx, "+1 (555) 010-0001", acme.ID))

	inactive := NewTenant("t-old", "Closed Shop")
	require.NoError(t, repo.CreateTenant(ctx, &inactive))
	require.NoError(t, repo.db.Model(&Tenant{}).Where("id = ?", inactive.ID).Update("active", false).Error)
	require.NoError(t, repo.MapPhone(ctx, "+15550100002", inactive.ID))

	dir := NewDirectory(repo, time.Minute)

	got, err := dir.ResolveByPhone(ctx, "+15550100001")
	require.NoError(t, err)
	assert.Equal(t, "t-acme", got.ID)

	_, err = dir.ResolveByPhone(ctx, "+15550100002")
	assert.ErrorIs(t, err, ErrNotFound, "inactive tenants must not resolve")

	_, err = dir.ResolveByPhone(ctx, "+15559999999")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = dir.ResolveByPhone(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

type flakyRepo struct {
	Repository
	calls int
	fail  int
}

func (f *flakyRepo) FindActiveByPhone(ctx context.Context, phone string) (Tenant, error) {
	f.calls++
	if f.calls <= f.fail {
		return Tenant{}, errors.New("connection reset")
	}
	return Tenant{ID: "t-1"}, nil
}

func TestResolveByPhone_RetriesOnceAndCaches(t *testing.T) {
	repo := &flakyRepo{fail: 1}
	dir := NewDirectory(repo, time.Minute)

	got, err := dir.ResolveByPhone(context.Background(), "+15550000000")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ID)
	assert.Equal(t, 2, repo.calls)

	_, err = dir.ResolveByPhone(context.Background(), "+1 555 000 0000")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls, "second lookup should hit the cache")
}

func TestResolveByPhone_GivesUpAfterRetry(t *testing.T) {
	repo := &flakyRepo{fail: 5}
	dir := NewDirectory(repo, 0)
	_, err := dir.ResolveByPhone(context.Background(), "+15550000000")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, repo.calls)
}

func TestListDigestTenantsAndOwner(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	on := NewTenant("t-on", "On")
	off := NewTenant("t-off", "Off")
	off.DigestEnabled = false
	require.NoError(t, repo.CreateTenant(ctx, &on))
	require.NoError(t, repo.CreateTenant(ctx, &off))
	require.NoError(t, repo.AddUser(ctx, on.ID, "user-owner", "owner"))
	require.NoError(t, repo.AddUser(ctx, on.ID, "user-member", "member"))

	dir := NewDirectory(repo, 0)
	list, err := dir.ListDigestTenants(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t-on", list[0].ID)

	owner, err := dir.OwnerUserID(ctx, on.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-owner", owner)

	_, err = dir.OwnerUserID(ctx, off.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantFlagsDefaultTrue(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	// a row written outside NewTenant leaves the flags to the column defaults
	require.NoError(t, repo.db.WithContext(ctx).Create(&Tenant{ID: "t-raw", Name: "Raw"}).Error)
	got, err := repo.Get(ctx, "t-raw")
	require.NoError(t, err)
	assert.True(t, got.DigestEnabled)
	assert.True(t, got.Active)
	assert.Equal(t, DefaultTimezone, got.Timezone)
	assert.Equal(t, DefaultDigestTimeLocal, got.DigestTimeLocal)

	// explicit false still sticks through CreateTenant
	off := NewTenant("t-off", "Off")
	off.DigestEnabled = false
	off.Active = false
	require.NoError(t, repo.CreateTenant(ctx, &off))
	got, err = repo.Get(ctx, "t-off")
	require.NoError(t, err)
	assert.False(t, got.DigestEnabled)
	assert.False(t, got.Active)
}

func TestMemberRole(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	on := NewTenant("t-1", "One")
	closed := NewTenant("t-closed", "Closed")
	closed.Active = false
	require.NoError(t, repo.CreateTenant(ctx, &on))
	require.NoError(t, repo.CreateTenant(ctx, &closed))
	require.NoError(t, repo.AddUser(ctx, "t-1", "u-1", "admin"))
	require.NoError(t, repo.AddUser(ctx, "t-closed", "u-1", "owner"))

	dir := NewDirectory(repo, 0)
	role, err := dir.MemberRole(ctx, "t-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, "admin", role)

	_, err = dir.MemberRole(ctx, "t-1", "u-2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = dir.MemberRole(ctx, "t-closed", "u-1")
	assert.ErrorIs(t, err, ErrNotFound, "inactive tenants do not grant access")
	_, err = dir.MemberRole(ctx, "missing", "u-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDigestSent(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	tn := NewTenant("t-1", "One")
	require.NoError(t, repo.CreateTenant(ctx, &tn))

	dir := NewDirectory(repo, 0)
	at := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	require.NoError(t, dir.MarkDigestSent(ctx, tn.ID, at))

	got, err := dir.Get(ctx, tn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastDigestSentAt)
	assert.True(t, got.LastDigestSentAt.Equal(at))

	assert.ErrorIs(t, dir.MarkDigestSent(ctx, "missing", at), ErrNotFound)
}

func TestSchedulingCredentialUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	dir := NewDirectory(repo, 0)

	_, err := dir.SchedulingCredential(ctx, "t-1")
	assert.ErrorIs(t, err, ErrNotFound)

	exp := time.Now().Add(time.Hour).UTC()
	require.NoError(t, dir.SaveSchedulingCredential(ctx, SchedulingCredential{TenantID: "t-1", AccessToken: "a1", RefreshToken: "r1", ExpiresAt: &exp, DefaultEventTypeID: "42"}))
	require.NoError(t, dir.SaveSchedulingCredential(ctx, SchedulingCredential{TenantID: "t-1", AccessToken: "a2", RefreshToken: "r2", ExpiresAt: &exp, DefaultEventTypeID: "42"}))

	got, err := dir.SchedulingCredential(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.True(t, got.Usable())
}

func TestTenantZones(t *testing.T) {
	tn := NewTenant("t", "T")
	assert.Equal(t, DefaultTimezone, tn.EffectiveDigestTimezone())

	la := "America/Los_Angeles"
	tn.DigestTimezone = &la
	loc, ok := tn.DigestLocation()
	assert.True(t, ok)
	assert.Equal(t, la, loc.String())

	bad := "Mars/Olympus"
	tn.DigestTimezone = &bad
	loc, ok = tn.DigestLocation()
	assert.False(t, ok)
	assert.Equal(t, time.UTC, loc)
}

func TestCredentialExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(3 * time.Minute)
	later := now.Add(time.Hour)

	assert.True(t, SchedulingCredential{ExpiresAt: &soon}.ExpiresWithin(now, 5*time.Minute))
	assert.False(t, SchedulingCredential{ExpiresAt: &later}.ExpiresWithin(now, 5*time.Minute))
	assert.False(t, SchedulingCredential{}.ExpiresWithin(now, 5*time.Minute))
	assert.False(t, SchedulingCredential{AccessToken: "x"}.Usable())
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15550100001", NormalizePhone(" +1 (555) 010-0001 "))
	assert.Equal(t, "5550100001", NormalizePhone("555.010.0001"))
	assert.Equal(t, "", NormalizePhone("   "))
}
