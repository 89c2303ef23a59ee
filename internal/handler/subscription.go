package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/repository"
)

// The write side of the tenant-subscription seam. Billing flows push plan
// changes here; the rate limiter only ever reads the table.
type SubscriptionHandler struct {
	repository *repository.SubscriptionRepository
}

func NewSubscriptionHandler(repo *repository.SubscriptionRepository) *SubscriptionHandler {
	return &SubscriptionHandler{repository: repo}
}

// Handles PUT /admin/subscriptions
func (h *SubscriptionHandler) Upsert(c *gin.Context) {
	var req struct {
		TenantID                 string `json:"tenant_id" binding:"required"`
		Tier                     string `json:"tier" binding:"required"`
		CustomRateLimitPerMinute *int   `json:"custom_rate_limit_per_minute"`
		CustomRateLimitPerHour   *int   `json:"custom_rate_limit_per_hour"`
		CustomRateLimitPerDay    *int   `json:"custom_rate_limit_per_day"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant ID"})
		return
	}

	sub := &models.TenantSubscription{
		TenantID:                 tenantID,
		Tier:                     req.Tier,
		CustomRateLimitPerMinute: req.CustomRateLimitPerMinute,
		CustomRateLimitPerHour:   req.CustomRateLimitPerHour,
		CustomRateLimitPerDay:    req.CustomRateLimitPerDay,
	}

	ctx := c.Request.Context()
	if err := h.repository.Upsert(ctx, sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Handles GET /admin/subscriptions/:tenantId
func (h *SubscriptionHandler) Get(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant ID"})
		return
	}

	ctx := c.Request.Context()
	sub, err := h.repository.FindByTenant(ctx, tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}

	c.JSON(http.StatusOK, sub)
}
