package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/repository"
)

// UsageService rolls completed requests into hourly buckets, off the
// request path. Recording is best-effort telemetry, not an audit ledger.
type UsageService struct {
	repository *repository.UsageRepository
}

func NewUsageService(repo *repository.UsageRepository) *UsageService {
	return &UsageService{repository: repo}
}

// One completed request as seen after the response was written.
type RequestRecord struct {
	TenantID       uuid.UUID
	APIKeyID       uuid.UUID // uuid.Nil for session traffic
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMs int64
}

// Record folds the request into its (tenant, key, hour, endpoint, method)
// bucket via an atomic upsert. The endpoint is normalized first so per-entity
// URLs don't fragment the table.
func (s *UsageService) Record(ctx context.Context, rec RequestRecord) error {
	row := models.APIUsageHourly{
		TenantID:            rec.TenantID,
		APIKeyID:            rec.APIKeyID,
		Hour:                time.Now().UTC().Truncate(time.Hour),
		Endpoint:            NormalizeEndpoint(rec.Endpoint),
		Method:              rec.Method,
		RequestCount:        1,
		TotalResponseTimeMs: rec.ResponseTimeMs,
	}

	switch {
	case rec.StatusCode == 429:
		row.RateLimitedCount = 1
	case rec.StatusCode >= 200 && rec.StatusCode < 400:
		row.SuccessCount = 1
	case rec.StatusCode >= 400 && rec.StatusCode < 500:
		row.ErrorCount = 1
	}

	return s.repository.Upsert(ctx, &row)
}

// NormalizeEndpoint replaces UUID-shaped path segments with :id so that
// /jobs/<uuid>/apply aggregates into one row instead of one per entity.
func NormalizeEndpoint(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if isUUID(segment) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Aggregate view over a trailing window, for billing/analytics dashboards.
type UsageStats struct {
	TotalRequests     int64        `json:"total_requests"`
	TotalSuccess      int64        `json:"total_success"`
	TotalErrors       int64        `json:"total_errors"`
	TotalRateLimited  int64        `json:"total_rate_limited"`
	AvgResponseTimeMs float64      `json:"avg_response_time_ms"`
	Daily             []DailyUsage `json:"daily"`
}

type DailyUsage struct {
	Date             string `json:"date"`
	RequestCount     int64  `json:"request_count"`
	SuccessCount     int64  `json:"success_count"`
	ErrorCount       int64  `json:"error_count"`
	RateLimitedCount int64  `json:"rate_limited_count"`
}

// GetUsageStats totals the tenant's hourly rows over the trailing number of
// days and buckets them per day. Day bucketing happens here rather than in
// SQL so the query stays portable across the dialects we run against.
func (s *UsageService) GetUsageStats(ctx context.Context, tenantID uuid.UUID, days int) (*UsageStats, error) {
	if days <= 0 {
		days = 7
	}

	since := time.Now().UTC().Truncate(time.Hour).AddDate(0, 0, -days)

	rows, err := s.repository.FindByTenantSince(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{Daily: []DailyUsage{}}

	byDay := make(map[string]*DailyUsage)
	var order []string
	var totalResponseTime int64

	for _, row := range rows {
		stats.TotalRequests += row.RequestCount
		stats.TotalSuccess += row.SuccessCount
		stats.TotalErrors += row.ErrorCount
		stats.TotalRateLimited += row.RateLimitedCount
		totalResponseTime += row.TotalResponseTimeMs

		date := row.Hour.UTC().Format("2006-01-02")
		day, ok := byDay[date]
		if !ok {
			day = &DailyUsage{Date: date}
			byDay[date] = day
			order = append(order, date)
		}

		day.RequestCount += row.RequestCount
		day.SuccessCount += row.SuccessCount
		day.ErrorCount += row.ErrorCount
		day.RateLimitedCount += row.RateLimitedCount
	}

	if stats.TotalRequests > 0 {
		stats.AvgResponseTimeMs = float64(totalResponseTime) / float64(stats.TotalRequests)
	}

	for _, date := range order {
		stats.Daily = append(stats.Daily, *byDay[date])
	}

	return stats, nil
}
