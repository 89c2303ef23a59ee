package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepository struct {
	db *storage.Postgres
}

func NewUsageRepository(db *storage.Postgres) *UsageRepository {
	return &UsageRepository{db: db}
}

// Inserts the bucket row or folds the deltas into the existing one. The
// conflict resolution runs inside the database, so concurrent requests
// hitting the same bucket cannot lose updates to read-then-write races.
// The row passed in carries the deltas (0 or 1 per counter, plus the
// response time) and doubles as the initial row on first insert.
func (r *UsageRepository) Upsert(ctx context.Context, row *models.APIUsageHourly) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "api_key_id"},
				{Name: "hour"},
				{Name: "endpoint"},
				{Name: "method"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"request_count":          gorm.Expr("api_usage_hourly.request_count + excluded.request_count"),
				"success_count":          gorm.Expr("api_usage_hourly.success_count + excluded.success_count"),
				"error_count":            gorm.Expr("api_usage_hourly.error_count + excluded.error_count"),
				"rate_limited_count":     gorm.Expr("api_usage_hourly.rate_limited_count + excluded.rate_limited_count"),
				"total_response_time_ms": gorm.Expr("api_usage_hourly.total_response_time_ms + excluded.total_response_time_ms"),
			}),
		}).
		Create(row).Error
}

// Retrieves a tenant's hourly rows from the cutoff onward, oldest first.
func (r *UsageRepository) FindByTenantSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]models.APIUsageHourly, error) {
	var rows []models.APIUsageHourly
	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ? AND hour >= ?", tenantID, since).
		Order("hour ASC").
		Find(&rows).Error

	return rows, err
}

// Retrieves the rows for one bucket key, used by tests and debugging.
func (r *UsageRepository) FindBucket(ctx context.Context, tenantID, apiKeyID uuid.UUID, hour time.Time, endpoint, method string) (*models.APIUsageHourly, error) {
	var row models.APIUsageHourly
	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ? AND api_key_id = ? AND hour = ? AND endpoint = ? AND method = ?",
			tenantID, apiKeyID, hour, endpoint, method).
		First(&row).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &row, err
}
