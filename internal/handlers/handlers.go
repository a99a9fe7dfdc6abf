package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pengadaan/api/internal/cache"
	"pengadaan/api/internal/config"
	"pengadaan/api/internal/middleware"
	"pengadaan/api/internal/models"
	"pengadaan/api/internal/repository"
	"pengadaan/api/internal/service"
)

const idempotencyTTL = 10 * time.Minute

// Probe checks one dependency for the health endpoint.
type Probe func(ctx context.Context) error

// Stores carries the persistence backends the handlers are built on.
type Stores struct {
	Users       service.UserStore
	Sessions    service.SessionStore
	Permissions service.PermissionStore
	Owners      service.OwnerLookup
	Nonces      middleware.NonceStore
	Probes      map[string]Probe
}

type HandlerSet struct {
	log           zerolog.Logger
	cfg           *config.AppConfig
	authService   *service.AuthService
	authenticator *service.Authenticator
	permissions   *service.PermissionService
	guard         *service.AccessGuard
	limiter       *middleware.RateLimiter
	nonces        middleware.NonceStore
	probes        map[string]Probe
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, rdb *redis.Client, cfg *config.AppConfig) HandlerSet {
	return NewHandlerSetWithStores(log, cfg, Stores{
		Users:       repository.NewUserRepository(db),
		Sessions:    repository.NewSessionRepository(db),
		Permissions: repository.NewPermissionRepository(db),
		Owners:      repository.NewPengadaanRepository(db),
		Nonces:      cache.NewNonceStore(rdb),
		Probes: map[string]Probe{
			"database": db.Ping,
			"cache":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
}

func NewHandlerSetWithStores(log zerolog.Logger, cfg *config.AppConfig, stores Stores) HandlerSet {
	permissions := service.NewPermissionService(stores.Permissions, stores.Owners, cfg.Workflow, log)

	return HandlerSet{
		log:           log,
		cfg:           cfg,
		authService:   service.NewAuthService(stores.Users, stores.Sessions, cfg.Security, log),
		authenticator: service.NewAuthenticator(stores.Users, stores.Sessions, cfg.Security.JWTAccessSecret),
		permissions:   permissions,
		guard:         service.NewAccessGuard(stores.Owners, permissions),
		limiter:       middleware.NewRateLimiter(cfg.Workflow.RequestRate, cfg.Workflow.RequestBurst),
		nonces:        stores.Nonces,
		probes:        stores.Probes,
	}
}

// Permissions exposes the workflow service so callers can seed or inspect it.
func (h HandlerSet) Permissions() *service.PermissionService {
	return h.permissions
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	requireAuth := middleware.Auth(h.authenticator)
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)

		protected := v1.Group("/auth", requireAuth)
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
		protected.GET("/sessions", h.ListSessions)
	}

	permissions := v1.Group("/permissions", requireAuth)
	permissions.POST("",
		h.limiter.Middleware(),
		middleware.Idempotency(h.nonces, idempotencyTTL),
		h.RequestPermission,
	)
	permissions.GET("", h.ListPermissions)
	permissions.GET("/:id", h.GetPermission)
	permissions.DELETE("/:id", h.RevokePermission)

	v1.GET("/access/check", requireAuth, h.CheckAccess)

	admin := v1.Group("/admin", requireAuth, middleware.RequireRoles(models.UserRoleAdmin))
	admin.GET("/permissions", h.AdminListPermissions)
	admin.GET("/permissions/stats", h.PermissionStats)
	admin.POST("/permissions/bulk-respond", middleware.Idempotency(h.nonces, idempotencyTTL), h.BulkRespond)
	admin.POST("/permissions/:id/respond", h.RespondPermission)
	admin.PATCH("/users/:id/status", h.SetUserStatus)
}
