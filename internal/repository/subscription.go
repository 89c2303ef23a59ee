package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository struct {
	db *storage.Postgres
}

func NewSubscriptionRepository(db *storage.Postgres) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Retrieves the subscription for a tenant; (nil, nil) when the tenant has none.
func (r *SubscriptionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*models.TenantSubscription, error) {
	var sub models.TenantSubscription
	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&sub).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &sub, err
}

// Creates or replaces the tenant's subscription row. Billing flows call this
// on plan changes; the rate limiter itself only ever reads.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.TenantSubscription) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tier",
				"custom_rate_limit_per_minute",
				"custom_rate_limit_per_hour",
				"custom_rate_limit_per_day",
				"updated_at",
			}),
		}).
		Create(sub).Error
}
