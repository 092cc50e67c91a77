package ai

import (
	"context"
	"fmt"
	"time"

	"ai_feed/internal/model"
)

const rateWindow = time.Minute

// WindowStore is the subset of storage the RateLimiter reads and resets.
type WindowStore interface {
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	ResetProviderWindow(ctx context.Context, id string, at time.Time) error
}

// RateLimiter enforces the per-minute request ceiling of each provider. The
// counters live in the store and are re-read on every check.
type RateLimiter struct {
	store WindowStore
	now   func() time.Time
}

// NewRateLimiter creates a RateLimiter. A nil now defaults to time.Now.
func NewRateLimiter(store WindowStore, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{store: store, now: now}
}

// Allow reports whether the provider may be called now. A window older than
// one minute is reset before the check.
func (r *RateLimiter) Allow(ctx context.Context, providerID string) (bool, error) {
	p, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		return false, fmt.Errorf("load provider: %w", err)
	}

	now := r.now()
	if p.WindowResetAt == nil || now.Sub(*p.WindowResetAt) >= rateWindow {
		if err := r.store.ResetProviderWindow(ctx, p.ID, now); err != nil {
			return false, fmt.Errorf("reset window: %w", err)
		}
		p.CurrentRequests = 0
	}
	return p.CurrentRequests < p.MaxRequestsPerMinute, nil
}
