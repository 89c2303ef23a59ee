package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/storage"
)

type EventRepository struct {
	db *storage.Postgres
}

func NewEventRepository(db *storage.Postgres) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *models.RateLimitEvent) error {
	return r.db.DB.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.RateLimitEvent, error) {
	var events []models.RateLimitEvent
	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error

	return events, err
}
