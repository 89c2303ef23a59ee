package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription tiers, most restrictive first.
const (
	TierFree       = "free"
	TierStarter    = "starter"
	TierGrowth     = "growth"
	TierEnterprise = "enterprise"
)

// Represents a tenant's active plan. Written by billing flows, read-only here.
// Custom limits, when non-nil, override the tier default for that granularity only.
type TenantSubscription struct {
	ID                       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	TenantID                 uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"tenant_id"`
	Tier                     string    `gorm:"default:'free'" json:"tier"`
	CustomRateLimitPerMinute *int      `json:"custom_rate_limit_per_minute,omitempty"`
	CustomRateLimitPerHour   *int      `json:"custom_rate_limit_per_hour,omitempty"`
	CustomRateLimitPerDay    *int      `json:"custom_rate_limit_per_day,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (s *TenantSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (TenantSubscription) TableName() string {
	return "tenant_subscriptions"
}
