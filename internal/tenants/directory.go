package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicedesk/pkg/logger"

	"github.com/patrickmn/go-cache"
)

// Directory resolves tenants and exposes their per-tenant settings.
type Directory struct {
	repo  Repository
	cache *cache.Cache
}

// NewDirectory caches successful phone lookups for ttl. ttl <= 0 disables caching.
func NewDirectory(repo Repository, ttl time.Duration) *Directory {
	d := &Directory{repo: repo}
	if ttl > 0 {
		d.cache = cache.New(ttl, 2*ttl)
	}
	return d
}

// ResolveByPhone maps a dialed number to its active tenant.
// Returns ErrNotFound when no active mapping exists.
func (d *Directory) ResolveByPhone(ctx context.Context, phone string) (Tenant, error) {
	key := NormalizePhone(phone)
	if key == "" {
		return Tenant{}, ErrNotFound
	}
	if d.cache != nil {
		if v, ok := d.cache.Get(key); ok {
			return v.(Tenant), nil
		}
	}

	t, err := d.repo.FindActiveByPhone(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		// idempotent read: one retry on transient store errors
		logger.From(ctx).Warn("tenant lookup failed, retrying", "error", err)
		t, err = d.repo.FindActiveByPhone(ctx, key)
	}
	if err != nil {
		return Tenant{}, err
	}

	if d.cache != nil {
		d.cache.SetDefault(key, t)
	}
	return t, nil
}

func (d *Directory) Get(ctx context.Context, tenantID string) (Tenant, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Tenant{}, ErrNotFound
	}
	return d.repo.Get(ctx, tenantID)
}

// ListDigestTenants returns active tenants with digests enabled.
func (d *Directory) ListDigestTenants(ctx context.Context) ([]Tenant, error) {
	return d.repo.ListDigestEnabled(ctx)
}

func (d *Directory) SchedulingCredential(ctx context.Context, tenantID string) (SchedulingCredential, error) {
	return d.repo.GetSchedulingCredential(ctx, tenantID)
}

func (d *Directory) SaveSchedulingCredential(ctx context.Context, cred SchedulingCredential) error {
	if cred.TenantID == "" {
		return fmt.Errorf("tenants: credential tenant_id is required")
	}
	cred.UpdatedAt = time.Now().UTC()
	return d.repo.SaveSchedulingCredential(ctx, cred)
}

func (d *Directory) OwnerUserID(ctx context.Context, tenantID string) (string, error) {
	return d.repo.FindOwnerUserID(ctx, tenantID)
}

// MemberRole returns userID's role in an active tenant. ErrNotFound covers
// both an unknown membership and an inactive tenant.
func (d *Directory) MemberRole(ctx context.Context, tenantID, userID string) (string, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return "", ErrNotFound
	}
	t, err := d.repo.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !t.Active {
		return "", ErrNotFound
	}
	return d.repo.FindUserRole(ctx, tenantID, userID)
}

func (d *Directory) MarkDigestSent(ctx context.Context, tenantID string, at time.Time) error {
	return d.repo.SetLastDigestSentAt(ctx, tenantID, at)
}

// NormalizePhone strips formatting from a phone number, keeping a leading '+'.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
