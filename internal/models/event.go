package models

import (
	"time"

	"github.com/google/uuid"
)

// Append-only record of a denied request. Never updated after insert.
type RateLimitEvent struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Timestamp time.Time  `gorm:"index" json:"timestamp"`
	TenantID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"tenant_id"`
	APIKeyID  *uuid.UUID `gorm:"type:uuid;index" json:"api_key_id,omitempty"`
	UserID    *uuid.UUID `gorm:"type:uuid" json:"user_id,omitempty"`
	Endpoint  string     `json:"endpoint"`
	Method    string     `json:"method"`
	LimitType string     `json:"limit_type"`
	Limit     int        `json:"limit"`
	Count     int64      `json:"count"`
	IPAddress string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`
}

func (RateLimitEvent) TableName() string {
	return "rate_limit_events"
}
