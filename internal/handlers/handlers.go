package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"placement/internal/cache"
	"placement/internal/config"
	"placement/internal/middleware"
	"placement/internal/models"
	"placement/internal/queue"
	"placement/internal/repository"
	"placement/internal/service"
	"placement/internal/storage"
)

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	auth     *service.AuthService
	records  *service.RecordService
	accounts middleware.AccountLookup
	limiter  middleware.Limiter
	nonces   middleware.NonceStore
	checks   []healthCheck
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, redisClient *redis.Client, store *storage.ObjectStore, cfg *config.AppConfig) HandlerSet {
	credentialRepo := repository.NewCredentialRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	var archive service.Archiver
	if store != nil {
		archive = store
	}

	auth := service.NewAuthService(credentialRepo, sessionRepo, accountRepo, cfg, log)
	records := service.NewRecordService(
		accountRepo,
		profileRepo,
		credentialRepo,
		archive,
		queue.NewProducer(redisClient, cfg.Redis.Stream),
		log,
	)

	checks := []healthCheck{
		{name: "database", check: db.Ping},
		{name: "cache", check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}
	if store != nil {
		checks = append(checks, healthCheck{name: "storage", check: store.Ping})
	}

	return HandlerSet{
		log:      log,
		cfg:      cfg,
		auth:     auth,
		records:  records,
		accounts: accountRepo,
		limiter:  cache.NewRateLimiter(redisClient, "placement:ratelimit:"),
		nonces:   cache.NewNonceStore(redisClient, "placement:nonce:"),
		checks:   checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	limit := h.cfg.RateLimit
	open := v1.Group("/credentials")
	open.POST("", middleware.RateLimit(h.limiter, "create-credential", limit.LoginAttempts, limit.LoginWindow, h.log), h.CreateCredential)
	open.POST("/sign-in", middleware.RateLimit(h.limiter, "sign-in", limit.LoginAttempts, limit.LoginWindow, h.log), h.SignIn)

	authed := v1.Group("")
	authed.Use(
		middleware.Auth(h.auth),
		middleware.Signature(h.auth, h.nonces, h.cfg.Security.SignatureSkew, h.log),
	)
	authed.POST("/credentials/sign-out", h.SignOut)
	authed.GET("/credentials/me", h.Me)
	authed.DELETE("/credentials/:id", h.DeleteCredential)
	authed.POST("/credentials/:id/reconcile", h.ReconcileCredential)

	records := authed.Group("/records")
	records.GET("/accounts/:id", h.GetAccount)
	records.PUT("/accounts/:id", h.PutAccount)
	records.DELETE("/accounts/:id", h.DeleteAccount)
	records.GET("/profiles/:id", h.GetProfile)
	records.PUT("/profiles/:id", h.PutProfile)

	staff := records.Group("")
	staff.Use(middleware.RequireRoles(h.accounts, models.RoleAdmin, models.RoleCoordinator))
	staff.GET("/accounts", h.ListAccounts)
	staff.PATCH("/accounts/:id", h.PatchAccount)
}
