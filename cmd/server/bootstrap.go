package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/api"
	"github.com/charlesng35/tenantauth/internal/app"
	"github.com/charlesng35/tenantauth/internal/app/maintenance"
	iauth "github.com/charlesng35/tenantauth/internal/auth"
	"github.com/charlesng35/tenantauth/internal/auth/token"
	"github.com/charlesng35/tenantauth/internal/cache"
	"github.com/charlesng35/tenantauth/internal/database"
	"github.com/charlesng35/tenantauth/internal/middleware"
	"github.com/charlesng35/tenantauth/internal/monitoring"
	"github.com/charlesng35/tenantauth/internal/monitoring/checks"
	"github.com/charlesng35/tenantauth/internal/notify"
	"github.com/charlesng35/tenantauth/internal/realtime"
	"github.com/charlesng35/tenantauth/internal/services"
	"github.com/charlesng35/tenantauth/pkg/logger"
	"github.com/charlesng35/tenantauth/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisClient
	Cache     cache.Store
	Hub       *realtime.Hub
	Sender    *notify.Sender
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Health    *monitoring.HealthManager
	Router    *gin.Engine

	stopHub context.CancelFunc
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache = dbStore
	cacheBackend := "database"

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Cache = stack.Redis
			cacheBackend = "redis"
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewSessionCache(stack.Cache)

	sessionSvc, err := iauth.NewSessionService(stack.DB, jwtSvc, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	userSvc, err := services.NewUserService(stack.DB, auditSvc, cfg.Auth.UserServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	orgSvc, err := services.NewOrganizationService(stack.DB, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise organization service: %w", err)
	}

	hubOpts := []realtime.HubOption{realtime.WithAllowedOrigins(cfg.Server.AllowedOrigins...)}
	if stack.Redis != nil {
		hubOpts = append(hubOpts, realtime.WithRelay(stack.Redis, ""))
	}
	stack.Hub = realtime.NewHub(hubOpts...)
	hubCtx, stopHub := context.WithCancel(ctx)
	stack.stopHub = stopHub
	if err := stack.Hub.Run(hubCtx); err != nil {
		return nil, fmt.Errorf("start realtime relay: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	verificationTTL, recoveryTTL := cfg.Auth.TokenLifetimes()
	stack.Sender, err = notify.NewSender(mailer, cfg.Email.NotifyConfig(verificationTTL, recoveryTTL))
	if err != nil {
		return nil, fmt.Errorf("initialise account email sender: %w", err)
	}

	codec, err := token.NewCodec(cfg.Auth.TokenCodecConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token codec: %w", err)
	}

	accountSvc, err := services.NewAccountService(userSvc, auditSvc, stack.Sender, services.AccountServiceConfig{
		Codec:                codec,
		VerificationLifetime: verificationTTL,
		RecoveryLifetime:     recoveryTTL,
	}, services.WithSessionRevoker(sessionSvc), services.WithEventPublisher(stack.Hub))
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	// Redis expires its own keys; only the database store needs purging.
	var purger maintenance.CachePurger
	if stack.Redis == nil {
		purger = dbStore
	}
	stack.Cleaner = maintenance.NewCleaner(sessionSvc, auditSvc, purger,
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.RateStore = middleware.NewCacheRateStore(stack.Cache)

	stack.Health = monitoring.NewHealthManager(0)
	stack.Health.RegisterReadiness(checks.Database(stack.DB))
	stack.Health.RegisterReadiness(checks.Cache(stack.Cache, cacheBackend))
	stack.Health.RegisterReadiness(checks.Maintenance(stack.Cleaner))

	stack.Router, err = api.NewRouter(api.Dependencies{
		BasePath:      cfg.Server.BasePath,
		APIKeyHeader:  cfg.Auth.APIKeyHeader(),
		RateLimit:     cfg.Auth.RateLimitOptions(),
		RateStore:     stack.RateStore,
		JWT:           jwtSvc,
		Sessions:      sessionSvc,
		Users:         userSvc,
		Accounts:      accountSvc,
		Organizations: orgSvc,
		Audit:         auditSvc,
		Hub:           stack.Hub,
		Health:        stack.Health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	// Callers stop the HTTP server first so no handler can still be sending.
	if s.Sender != nil {
		s.Sender.Wait()
	}

	if s.stopHub != nil {
		s.stopHub()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),

		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		applyDBAuth(&dbCfg, cfg.Database.Postgres)
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		applyDBAuth(&dbCfg, cfg.Database.MySQL)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func applyDBAuth(dst *database.Config, src app.DBAuthConfig) {
	dst.Host = strings.TrimSpace(src.Host)
	dst.Port = src.Port
	dst.Name = strings.TrimSpace(src.Database)
	dst.User = strings.TrimSpace(src.Username)
	dst.Password = src.Password
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
