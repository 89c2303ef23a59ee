package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/ratelimit"
)

// Identity is what a request resolved to: always a tenant, plus the API key
// or user that carried the credential.
type Identity struct {
	TenantID uuid.UUID
	APIKeyID *uuid.UUID
	UserID   *uuid.UUID
}

// Key scopes windows per credential within the tenant, so two keys of the
// same tenant burn independent budgets.
func (i Identity) Key() string {
	switch {
	case i.APIKeyID != nil:
		return i.TenantID.String() + ":" + i.APIKeyID.String()
	case i.UserID != nil:
		return i.TenantID.String() + ":" + i.UserID.String()
	default:
		return i.TenantID.String() + ":anonymous"
	}
}

// Decision carries everything the middleware needs: the effective limits for
// response headers on every request, and the denial metadata on a reject.
type Decision struct {
	Allowed    bool
	Limits     ratelimit.Limits
	LimitType  string
	Limit      int
	Current    int64
	RetryAfter int
}

// RateLimiter is the allow/deny engine: tier resolution feeding the window
// store. It owns no state of its own, so one instance serves all requests.
type RateLimiter struct {
	tiers *TierResolver
	store ratelimit.Store
}

func NewRateLimiter(tiers *TierResolver, store ratelimit.Store) *RateLimiter {
	return &RateLimiter{
		tiers: tiers,
		store: store,
	}
}

func (r *RateLimiter) Check(ctx context.Context, identity Identity) (Decision, error) {
	limits, err := r.tiers.Resolve(ctx, identity.TenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve limits: %w", err)
	}

	result, err := r.store.Take(ctx, identity.Key(), limits)
	if err != nil {
		return Decision{}, fmt.Errorf("window check failed: %w", err)
	}

	decision := Decision{
		Allowed: result.Allowed,
		Limits:  limits,
	}

	if !result.Allowed {
		decision.LimitType = result.Exceeded.String()
		decision.Limit = result.Limit
		decision.Current = result.Current
		decision.RetryAfter = retryAfter(result.ResetAt)
	}

	return decision, nil
}

// Seconds until the exhausted window rolls over, rounded up so a client that
// honors Retry-After never lands inside the same window again.
func retryAfter(resetAt time.Time) int {
	seconds := int(math.Ceil(time.Until(resetAt).Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
