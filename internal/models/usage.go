package models

import (
	"time"

	"github.com/google/uuid"
)

// One row per (tenant, key, hour, endpoint, method). Rows are created and
// incremented through an atomic upsert; counters never decrease within an hour.
// APIKeyID is uuid.Nil for session traffic so the unique index stays usable
// (a NULL column would make every conflict target distinct).
type APIUsageHourly struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	TenantID            uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_usage_bucket;not null" json:"tenant_id"`
	APIKeyID            uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_usage_bucket" json:"api_key_id"`
	Hour                time.Time `gorm:"uniqueIndex:idx_usage_bucket;index" json:"hour"`
	Endpoint            string    `gorm:"uniqueIndex:idx_usage_bucket;not null" json:"endpoint"`
	Method              string    `gorm:"uniqueIndex:idx_usage_bucket;not null" json:"method"`
	RequestCount        int64     `json:"request_count"`
	SuccessCount        int64     `json:"success_count"`
	ErrorCount          int64     `json:"error_count"`
	RateLimitedCount    int64     `json:"rate_limited_count"`
	TotalResponseTimeMs int64     `json:"total_response_time_ms"`
}

func (APIUsageHourly) TableName() string {
	return "api_usage_hourly"
}
