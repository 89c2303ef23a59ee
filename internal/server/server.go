package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hireloop/ratelimitd/internal/config"
	"github.com/hireloop/ratelimitd/internal/handler"
	"github.com/hireloop/ratelimitd/internal/middleware"
	"github.com/hireloop/ratelimitd/internal/ratelimit"
	"github.com/hireloop/ratelimitd/internal/repository"
	"github.com/hireloop/ratelimitd/internal/service"
	"github.com/hireloop/ratelimitd/internal/storage"
)

type Server struct {
	router   *gin.Engine
	config   *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres

	store ratelimit.Store

	authService   *service.AuthService
	apiKeyService *service.APIKeyService
	limiter       *service.RateLimiter
	usageService  *service.UsageService
	usageRecorder *service.UsageRecorder
	events        *repository.EventRepository

	authHandler         *handler.AuthHandler
	apiKeyHandler       *handler.APIKeyHandler
	subscriptionHandler *handler.SubscriptionHandler
	usageHandler        *handler.UsageHandler
	eventHandler        *handler.EventHandler

	httpServer *http.Server
}

func New(cfg *config.Config, postgres *storage.Postgres, redis *storage.RedisClient) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	subscriptionRepo := repository.NewSubscriptionRepository(postgres)
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	usageRepo := repository.NewUsageRepository(postgres)
	eventRepo := repository.NewEventRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)

	var store ratelimit.Store
	if cfg.RateLimit.Backend == "redis" && redis != nil {
		store = ratelimit.NewRedisStore(redis)
		log.Println("Rate limit backend: redis (shared across instances)")
	} else {
		store = ratelimit.NewMemoryStore()
		log.Println("Rate limit backend: memory (per-instance limits)")
	}

	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis)
	tierResolver := service.NewTierResolver(subscriptionRepo, cfg.RateLimit.Tiers)
	limiter := service.NewRateLimiter(tierResolver, store)
	usageService := service.NewUsageService(usageRepo)
	usageRecorder := service.NewUsageRecorder(usageService, 0)

	s := &Server{
		router:              router,
		config:              cfg,
		redis:               redis,
		postgres:            postgres,
		store:               store,
		authService:         authService,
		apiKeyService:       apiKeyService,
		limiter:             limiter,
		usageService:        usageService,
		usageRecorder:       usageRecorder,
		events:              eventRepo,
		authHandler:         handler.NewAuthHandler(authService),
		apiKeyHandler:       handler.NewAPIKeyHandler(apiKeyService),
		subscriptionHandler: handler.NewSubscriptionHandler(subscriptionRepo),
		usageHandler:        handler.NewUsageHandler(usageService),
		eventHandler:        handler.NewEventHandler(eventRepo),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestLog())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.authHandler.Register)
		auth.POST("/login", s.authHandler.Login)
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.DELETE("/keys/:id", s.apiKeyHandler.Revoke)
		admin.PUT("/subscriptions", s.subscriptionHandler.Upsert)
		admin.GET("/subscriptions/:tenantId", s.subscriptionHandler.Get)
		admin.GET("/usage/:tenantId", s.usageHandler.GetStats)
		admin.GET("/events/:tenantId", s.eventHandler.List)
	}

	// Tenant-facing surface, guarded by the tenant's own quota.
	deps := middleware.RateLimitDeps{
		Keys:    s.apiKeyService,
		Auth:    s.authService,
		Limiter: s.limiter,
		Usage:   s.usageRecorder,
		Events:  s.events,
	}

	v1 := s.router.Group("/v1")
	v1.Use(middleware.RateLimit(deps))
	{
		v1.GET("/usage", s.usageHandler.GetOwnStats)
		v1.GET("/limits", s.effectiveLimits)
	}
}

// Returns the caller's effective limits so clients can configure their
// backoff without reverse-engineering the response headers.
func (s *Server) effectiveLimits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"limit_minute": c.Writer.Header().Get("X-RateLimit-Limit-Minute"),
		"limit_hour":   c.Writer.Header().Get("X-RateLimit-Limit-Hour"),
		"limit_day":    c.Writer.Header().Get("X-RateLimit-Limit-Day"),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	redisHealthy := true
	if s.redis != nil {
		if err := s.redis.Ping(c.Request.Context()); err != nil {
			redisHealthy = false
			log.Printf("Redis health check failed: %v", err)
		}
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !dbHealthy || !redisHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "ratelimitd",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"database": dbHealthy,
			"redis":    redisHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting ratelimitd on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// In-flight requests are done; drain the usage queue so their rows
	// aren't lost on exit.
	s.usageRecorder.Close()

	if ms, ok := s.store.(*ratelimit.MemoryStore); ok {
		ms.Close()
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
