package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	iauth "github.com/charlesng35/tenantauth/internal/auth"
	"github.com/charlesng35/tenantauth/internal/handlers"
	"github.com/charlesng35/tenantauth/internal/middleware"
	"github.com/charlesng35/tenantauth/internal/monitoring"
	"github.com/charlesng35/tenantauth/internal/permissions"
	"github.com/charlesng35/tenantauth/internal/realtime"
	"github.com/charlesng35/tenantauth/internal/services"
)

const defaultBasePath = "/api/v1"

// Dependencies bundles everything the HTTP surface is built from.
type Dependencies struct {
	BasePath      string
	APIKeyHeader  string
	RateLimit     middleware.RateLimitOptions
	RateStore     middleware.RateStore
	JWT           *iauth.JWTService
	Sessions      *iauth.SessionService
	Users         *services.UserService
	Accounts      *services.AccountService
	Organizations *services.OrganizationService
	Audit         *services.AuditService
	Hub           *realtime.Hub
	Health        *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	switch {
	case d.JWT == nil:
		return errors.New("router: jwt service must be provided")
	case d.Sessions == nil:
		return errors.New("router: session service must be provided")
	case d.Users == nil:
		return errors.New("router: user service must be provided")
	case d.Accounts == nil:
		return errors.New("router: account service must be provided")
	case d.Organizations == nil:
		return errors.New("router: organization service must be provided")
	case d.Hub == nil:
		return errors.New("router: realtime hub must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	basePath := "/" + strings.Trim(deps.BasePath, "/")
	if basePath == "/" {
		basePath = defaultBasePath
	}

	authHandler, err := handlers.NewAuthHandler(deps.Users, deps.Sessions, deps.JWT, deps.Audit)
	if err != nil {
		return nil, err
	}
	accountHandler, err := handlers.NewAccountHandler(deps.Accounts, basePath)
	if err != nil {
		return nil, err
	}
	userHandler, err := handlers.NewUserHandler(deps.Users, basePath)
	if err != nil {
		return nil, err
	}
	realtimeHandler, err := handlers.NewRealtimeHandler(deps.Hub, deps.JWT, deps.Users)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	// Public operational endpoints
	r.GET("/health", handlers.Health(deps.Health))
	r.GET("/health/ready", handlers.Ready(deps.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	identify := []gin.HandlerFunc{
		middleware.Authenticate(deps.JWT, deps.Users),
		middleware.AuditContext(),
		middleware.RateLimit(deps.RateStore, deps.RateLimit),
	}

	api := r.Group(basePath)
	api.Use(middleware.APIKey(deps.Organizations, deps.APIKeyHeader))
	api.Use(identify...)

	registerAuthRoutes(api, authHandler, accountHandler)
	registerUserRoutes(api, userHandler)

	ws := r.Group("/ws")
	ws.Use(identify...)
	ws.GET("/account", realtimeHandler.Account)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerAuthRoutes(api *gin.RouterGroup, auth *handlers.AuthHandler, accounts *handlers.AccountHandler) {
	group := api.Group("/auth")
	group.Use(middleware.RequirePolicy(permissions.OrganizationAPIKeyPolicy))
	{
		group.POST("/login", auth.Login)
		group.POST("/refresh", auth.Refresh)
		group.POST("/verify", auth.Verify)
		group.POST("/blacklist", auth.Blacklist)

		group.POST("/signup", accounts.Signup)
		group.POST("/send_activation", accounts.SendActivation)
		group.POST("/send_recovery", accounts.SendRecovery)

		group.GET("/activation/:token", accounts.CheckActivation)
		group.POST("/activation/:token", accounts.Activate)
		group.GET("/activation", accounts.CheckActivation)
		group.POST("/activation", accounts.Activate)

		group.GET("/recovery/:token", accounts.CheckRecovery)
		group.POST("/recovery/:token", accounts.Recover)
		group.GET("/recovery", accounts.CheckRecovery)
		group.POST("/recovery", accounts.Recover)
	}
}

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler) {
	users := api.Group("/user")
	users.Use(middleware.RequirePolicy(permissions.UserPolicy))
	{
		users.GET("/", handler.List)
		users.GET("/:id", handler.Get)
	}
}
