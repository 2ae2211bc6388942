package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"voicedesk/internal/calls"
)

// MemoryRepo is an in-memory reporting repository for tests.
// It enforces tenant isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Calls []calls.Call
	// Bookings holds booking creation times per tenant.
	Bookings map[string][]time.Time
	// Err, when set, is returned by every read.
	Err error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Bookings: map[string][]time.Time{}} }

func (r *MemoryRepo) ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error) {
	if tenantID == "" {
		return nil, errors.New("tenant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if c.TenantID != tenantID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) CountBookings(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	if tenantID == "" {
		return 0, errors.New("tenant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	n := 0
	for _, at := range r.Bookings[tenantID] {
		if !at.Before(from) && at.Before(to) {
			n++
		}
	}
	return n, nil
}
