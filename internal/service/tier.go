package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/config"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/ratelimit"
	"github.com/hireloop/ratelimitd/internal/repository"
)

// TierResolver turns a tenant into its effective limits: plan-tier defaults
// with per-tenant custom limits layered on field by field.
type TierResolver struct {
	subscriptions *repository.SubscriptionRepository
	tiers         map[string]config.TierLimits
}

func NewTierResolver(subscriptions *repository.SubscriptionRepository, tiers map[string]config.TierLimits) *TierResolver {
	return &TierResolver{
		subscriptions: subscriptions,
		tiers:         tiers,
	}
}

// Resolve never fails a tenant closed: a missing subscription means the free
// tier, and an unknown tier name also falls back to free.
func (t *TierResolver) Resolve(ctx context.Context, tenantID uuid.UUID) (ratelimit.Limits, error) {
	sub, err := t.subscriptions.FindByTenant(ctx, tenantID)
	if err != nil {
		return ratelimit.Limits{}, fmt.Errorf("subscription lookup failed: %w", err)
	}

	tier := models.TierFree
	if sub != nil {
		tier = sub.Tier
	}

	defaults, ok := t.tiers[tier]
	if !ok {
		defaults = t.tiers[models.TierFree]
	}

	limits := ratelimit.Limits{
		PerMinute: defaults.RequestsPerMinute,
		PerHour:   defaults.RequestsPerHour,
		PerDay:    defaults.RequestsPerDay,
	}

	// Overrides are independent per granularity, not all-or-nothing.
	if sub != nil {
		if sub.CustomRateLimitPerMinute != nil {
			limits.PerMinute = *sub.CustomRateLimitPerMinute
		}
		if sub.CustomRateLimitPerHour != nil {
			limits.PerHour = *sub.CustomRateLimitPerHour
		}
		if sub.CustomRateLimitPerDay != nil {
			limits.PerDay = *sub.CustomRateLimitPerDay
		}
	}

	return limits, nil
}
