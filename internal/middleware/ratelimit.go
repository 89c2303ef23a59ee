package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/ratelimit"
	"github.com/hireloop/ratelimitd/internal/repository"
	"github.com/hireloop/ratelimitd/internal/service"
)

// RateLimitDeps wires the middleware to its collaborators. Events and Usage
// are best-effort sinks; a nil value disables that sink.
type RateLimitDeps struct {
	Keys    *service.APIKeyService
	Auth    *service.AuthService
	Limiter *service.RateLimiter
	Usage   *service.UsageRecorder
	Events  *repository.EventRepository
}

type rateLimitOptions struct {
	allowAnonymous bool
}

type RateLimitOption func(*rateLimitOptions)

// AllowAnonymous lets unauthenticated requests through without rate limiting
// or usage tracking. Routes that don't opt in reject them with 401.
func AllowAnonymous() RateLimitOption {
	return func(o *rateLimitOptions) {
		o.allowAnonymous = true
	}
}

// RateLimit resolves the request's identity, enforces the tenant's quota and
// schedules usage tracking once the response completes.
//
// Identity resolution order: a Bearer sk_ credential is validated as an API
// key, and an invalid one terminates with 401 without falling through to
// session auth. Any other Bearer credential is tried as a session JWT.
//
// Every failure of the infrastructure itself fails open: a broken rate
// limiter must never take the product down.
func RateLimit(deps RateLimitDeps, opts ...RateLimitOption) gin.HandlerFunc {
	var o rateLimitOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		var identity *service.Identity

		proceed := func() (proceed bool) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[%s] rate limit pipeline panic, allowing request: %v", c.GetString("request_id"), r)
					proceed = !c.Writer.Written()
				}
			}()

			identity = resolveIdentity(c, deps)
			if c.IsAborted() {
				return false
			}

			if identity == nil {
				if o.allowAnonymous {
					// Anonymous access was explicitly permitted: no
					// limiting, no tracking.
					return true
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Authentication required",
				})
				return false
			}

			decision, err := deps.Limiter.Check(c.Request.Context(), *identity)
			if err != nil {
				log.Printf("[%s] rate limit check failed, allowing request: %v", c.GetString("request_id"), err)
				return true
			}

			// Advertised on allow and deny alike so clients can self-throttle.
			c.Header("X-RateLimit-Limit-Minute", strconv.Itoa(decision.Limits.PerMinute))
			c.Header("X-RateLimit-Limit-Hour", strconv.Itoa(decision.Limits.PerHour))
			c.Header("X-RateLimit-Limit-Day", strconv.Itoa(decision.Limits.PerDay))

			if !decision.Allowed {
				recordEvent(deps.Events, c, *identity, decision)

				c.Header("Retry-After", strconv.Itoa(decision.RetryAfter))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":      "rate_limit_exceeded",
					"message":    fmt.Sprintf("Rate limit of %d requests %s exceeded", decision.Limit, limitTypeLabel(decision.LimitType)),
					"limitType":  decision.LimitType,
					"limit":      decision.Limit,
					"retryAfter": decision.RetryAfter,
				})
				return false
			}

			return true
		}()

		if !proceed {
			return
		}

		if identity == nil || deps.Usage == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		rec := service.RequestRecord{
			TenantID:       identity.TenantID,
			Endpoint:       c.Request.URL.Path,
			Method:         c.Request.Method,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
		if identity.APIKeyID != nil {
			rec.APIKeyID = *identity.APIKeyID
		}

		// Fire-and-forget relative to the client; the response is already
		// on the wire and the recorder's worker bounds the backlog.
		deps.Usage.Enqueue(rec)
	}
}

// resolveIdentity maps the request's credentials to a tenant. Returns nil for
// anonymous requests; aborts with 401 when an sk_ key is presented but invalid.
func resolveIdentity(c *gin.Context, deps RateLimitDeps) *service.Identity {
	authHeader := c.GetHeader("Authorization")
	token, hasBearer := strings.CutPrefix(authHeader, "Bearer ")
	if !hasBearer {
		return nil
	}
	token = strings.TrimSpace(token)

	if strings.HasPrefix(token, "sk_") {
		apiKey, err := deps.Keys.Validate(c.Request.Context(), token)
		if err != nil || apiKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "The provided API key is invalid, revoked, or expired",
			})
			return nil
		}

		keyID := apiKey.ID
		c.Set("api_key", apiKey)
		c.Set("tenant_id", apiKey.TenantID)

		return &service.Identity{TenantID: apiKey.TenantID, APIKeyID: &keyID}
	}

	if token == "" || deps.Auth == nil {
		return nil
	}

	session, err := deps.Auth.ValidateToken(token)
	if err != nil {
		// Not an sk_ credential, so a bad session token just means no
		// identity; the anonymous policy decides what happens next.
		return nil
	}

	c.Set("session", session)
	c.Set("tenant_id", session.TenantID)

	return &service.Identity{TenantID: session.TenantID, UserID: &session.UserID}
}

// Denials are recorded for tenant-visible audit. Logging failure must never
// mask the 429, hence the detached goroutine.
func recordEvent(events *repository.EventRepository, c *gin.Context, identity service.Identity, decision service.Decision) {
	if events == nil {
		return
	}

	event := &models.RateLimitEvent{
		Timestamp: time.Now(),
		TenantID:  identity.TenantID,
		APIKeyID:  identity.APIKeyID,
		UserID:    identity.UserID,
		Endpoint:  c.Request.URL.Path,
		Method:    c.Request.Method,
		LimitType: decision.LimitType,
		Limit:     decision.Limit,
		Count:     decision.Current,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := events.Create(ctx, event); err != nil {
			log.Printf("Failed to record rate limit event for tenant %s: %v", event.TenantID, err)
		}
	}()
}

func limitTypeLabel(limitType string) string {
	switch limitType {
	case ratelimit.Minute.String():
		return "per minute"
	case ratelimit.Hour.String():
		return "per hour"
	case ratelimit.Day.String():
		return "per day"
	default:
		return limitType
	}
}
