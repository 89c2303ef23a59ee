package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/config"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/ratelimit"
	"github.com/hireloop/ratelimitd/internal/repository"
	"github.com/hireloop/ratelimitd/internal/service"
	"github.com/hireloop/ratelimitd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	router *gin.Engine
	keys   *service.APIKeyService
	subs   *repository.SubscriptionRepository
	usage  *repository.UsageRepository
	events *repository.EventRepository
	auth   *service.AuthService
}

func newTestEnv(t *testing.T, tiers map[string]config.TierLimits, opts ...RateLimitOption) *testEnv {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.TenantSubscription{},
		&models.APIKey{},
		&models.APIUsageHourly{},
		&models.RateLimitEvent{},
		&models.User{},
	))

	pg := &storage.Postgres{DB: db}

	subs := repository.NewSubscriptionRepository(pg)
	usageRepo := repository.NewUsageRepository(pg)
	eventRepo := repository.NewEventRepository(pg)

	keys := service.NewAPIKeyService(repository.NewAPIKeyRepository(pg), nil)
	auth := service.NewAuthService(repository.NewUserRepository(pg), "test-secret", 1)
	resolver := service.NewTierResolver(subs, tiers)

	store := ratelimit.NewMemoryStore(ratelimit.WithSweepInterval(0))
	t.Cleanup(store.Close)

	recorder := service.NewUsageRecorder(service.NewUsageService(usageRepo), 64)
	t.Cleanup(recorder.Close)

	deps := RateLimitDeps{
		Keys:    keys,
		Auth:    auth,
		Limiter: service.NewRateLimiter(resolver, store),
		Usage:   recorder,
		Events:  eventRepo,
	}

	router := gin.New()
	router.Use(RateLimit(deps, opts...))
	router.GET("/jobs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"jobs": []string{}})
	})
	router.GET("/jobs/:id/apply", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"applied": true})
	})

	return &testEnv{
		router: router,
		keys:   keys,
		subs:   subs,
		usage:  usageRepo,
		events: eventRepo,
		auth:   auth,
	}
}

func freeTier10() map[string]config.TierLimits {
	return map[string]config.TierLimits{
		"free": {RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 500},
	}
}

func (e *testEnv) get(path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Unauthenticated(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, freeTier10())

	w := env.get("/jobs", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
}

func TestRateLimit_AllowAnonymous(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, freeTier10(), AllowAnonymous())

	w := env.get("/jobs", "")

	assert.Equal(t, http.StatusOK, w.Code)

	// Anonymous traffic is neither limited nor tracked.
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit-Minute"))

	rows, err := env.usage.FindByTenantSince(context.Background(), uuid.Nil, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRateLimit_InvalidAPIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, freeTier10())

	w := env.get("/jobs", "Bearer sk_live_not-a-real-key")

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid_api_key", body["error"])
}

func TestRateLimit_RevokedKeyDoesNotFallThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, freeTier10(), AllowAnonymous())

	generated, err := env.keys.Generate(ctx, uuid.New(), "key", "live", nil)
	require.NoError(t, err)
	require.NoError(t, env.keys.Revoke(ctx, generated.Record.ID))

	// Even on a route that allows anonymous access, presenting a bad sk_
	// credential is a hard 401.
	w := env.get("/jobs", "Bearer "+generated.Key)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit_HeadersOnAllowedRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, freeTier10())

	generated, err := env.keys.Generate(ctx, uuid.New(), "key", "live", nil)
	require.NoError(t, err)

	w := env.get("/jobs", "Bearer "+generated.Key)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit-Minute"))
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit-Hour"))
	assert.Equal(t, "500", w.Header().Get("X-RateLimit-Limit-Day"))
}

func TestRateLimit_FreeTierScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, freeTier10())

	tenantID := uuid.New()
	generated, err := env.keys.Generate(ctx, tenantID, "key", "live", nil)
	require.NoError(t, err)

	// All ten requests inside the minute window succeed with limit headers.
	for i := 0; i < 10; i++ {
		w := env.get("/jobs", "Bearer "+generated.Key)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		require.Equal(t, "10", w.Header().Get("X-RateLimit-Limit-Minute"))
	}

	// The eleventh is denied with machine-readable retry guidance.
	w := env.get("/jobs", "Bearer "+generated.Key)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		LimitType  string `json:"limitType"`
		Limit      int    `json:"limit"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.NotEmpty(t, body.Message)
	assert.Equal(t, "per_minute", body.LimitType)
	assert.Equal(t, 10, body.Limit)
	assert.GreaterOrEqual(t, body.RetryAfter, 1)
	assert.LessOrEqual(t, body.RetryAfter, 60)

	retryHeader, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, body.RetryAfter, retryHeader)

	// Headers advertise the limits on denials too.
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit-Minute"))

	// A denial is recorded as a tenant-visible event.
	require.Eventually(t, func() bool {
		events, err := env.events.ListByTenant(ctx, tenantID, 10)
		return err == nil && len(events) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	events, err := env.events.ListByTenant(ctx, tenantID, 10)
	require.NoError(t, err)
	assert.Equal(t, "per_minute", events[0].LimitType)
	assert.Equal(t, 10, events[0].Limit)
	assert.Equal(t, "/jobs", events[0].Endpoint)
}

func TestRateLimit_UsageRecorded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, freeTier10())

	tenantID := uuid.New()
	generated, err := env.keys.Generate(ctx, tenantID, "key", "live", nil)
	require.NoError(t, err)

	jobID := uuid.NewString()
	w := env.get("/jobs/"+jobID+"/apply", "Bearer "+generated.Key)
	require.Equal(t, http.StatusOK, w.Code)

	// The usage write is fire-and-forget relative to the response.
	hour := time.Now().UTC().Truncate(time.Hour)
	require.Eventually(t, func() bool {
		row, err := env.usage.FindBucket(ctx, tenantID, generated.Record.ID, hour, "/jobs/:id/apply", "GET")
		return err == nil && row != nil && row.RequestCount == 1 && row.SuccessCount == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRateLimit_SessionIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, freeTier10())

	tenantID := uuid.New()
	require.NoError(t, env.auth.Register(ctx, tenantID, "user@example.com", "password123", "User"))
	token, err := env.auth.Login(ctx, "user@example.com", "password123")
	require.NoError(t, err)

	w := env.get("/jobs", "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit-Minute"))
}

func TestRateLimit_DeniedRequestsConsumeNoQuota(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, freeTier10())

	generated, err := env.keys.Generate(ctx, uuid.New(), "key", "live", nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		w := env.get("/jobs", "Bearer "+generated.Key)
		require.Equal(t, http.StatusOK, w.Code)
	}

	var firstDenial struct {
		Limit int `json:"limit"`
	}
	w := env.get("/jobs", "Bearer "+generated.Key)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &firstDenial))

	// Repeated denials report the same limit and never inflate the counter
	// into the hour or day windows.
	for i := 0; i < 5; i++ {
		w := env.get("/jobs", "Bearer "+generated.Key)
		require.Equal(t, http.StatusTooManyRequests, w.Code)

		var body struct {
			LimitType string `json:"limitType"`
			Limit     int    `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "per_minute", body.LimitType)
		assert.Equal(t, firstDenial.Limit, body.Limit)
	}
}
