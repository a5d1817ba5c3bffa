package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/api"
	iauth "github.com/charlesng35/tenantauth/internal/auth"
	"github.com/charlesng35/tenantauth/internal/auth/token"
	sharedtestutil "github.com/charlesng35/tenantauth/internal/database/testutil"
	"github.com/charlesng35/tenantauth/internal/middleware"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/internal/monitoring"
	"github.com/charlesng35/tenantauth/internal/realtime"
	"github.com/charlesng35/tenantauth/internal/services"
	"github.com/charlesng35/tenantauth/pkg/response"
)

const (
	// BasePath is where the API is mounted in tests.
	BasePath = "/api/v1"
	// DefaultPassword is used by CreateUser.
	DefaultPassword = "correct-horse-battery"

	testSecret = "test-suite-super-secret-key-32-bytes!!"
)

// Outbox records every token handed to the notifier, keyed by purpose and email.
type Outbox struct {
	mu     sync.Mutex
	tokens map[string]string
	sent   int
}

// Send implements services.AccountNotifier.
func (o *Outbox) Send(_ context.Context, user *models.User, purpose token.Purpose, raw string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tokens == nil {
		o.tokens = make(map[string]string)
	}
	o.tokens[string(purpose)+"|"+user.Email] = raw
	o.sent++
}

// Token returns the last token sent to email for purpose.
func (o *Outbox) Token(purpose token.Purpose, email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	raw, ok := o.tokens[string(purpose)+"|"+email]
	return raw, ok
}

// Sent reports how many tokens were delivered.
func (o *Outbox) Sent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}

// EnvOption customises NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	rateLimit middleware.RateLimitOptions
	rateStore middleware.RateStore
	health    *monitoring.HealthManager
}

// WithRateLimit enables throttling backed by an in-memory store.
func WithRateLimit(opts middleware.RateLimitOptions) EnvOption {
	return func(cfg *envConfig) {
		cfg.rateLimit = opts
		cfg.rateStore = middleware.NewMemoryRateStore()
	}
}

// WithHealth mounts the given health manager.
func WithHealth(manager *monitoring.HealthManager) EnvOption {
	return func(cfg *envConfig) {
		cfg.health = manager
	}
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T             *testing.T
	DB            *gorm.DB
	Router        *gin.Engine
	JWT           *iauth.JWTService
	Sessions      *iauth.SessionService
	Users         *services.UserService
	Accounts      *services.AccountService
	Organizations *services.OrganizationService
	Audit         *services.AuditService
	Hub           *realtime.Hub
	Outbox        *Outbox
	Organization  *models.Organization
	APIKey        string
}

// NewEnv provisions a fresh handler test environment with migrations applied
// and an organization API key issued.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	cfg := envConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if store, ok := cfg.rateStore.(*middleware.MemoryRateStore); ok {
		t.Cleanup(store.Close)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         testSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{
		RefreshTokenTTL: 24 * time.Hour,
		RefreshLength:   48,
	})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	userSvc, err := services.NewUserService(db, auditSvc, services.UserServiceConfig{
		PasswordMinLength: 8,
		PasswordMaxLength: 128,
	})
	require.NoError(t, err)

	orgSvc, err := services.NewOrganizationService(db, auditSvc)
	require.NoError(t, err)

	codec, err := token.NewCodec(token.CodecConfig{Secret: testSecret})
	require.NoError(t, err)

	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	outbox := &Outbox{}
	accountSvc, err := services.NewAccountService(userSvc, auditSvc, outbox, services.AccountServiceConfig{
		Codec:                codec,
		VerificationLifetime: token.DefaultAccountVerificationTTL,
		RecoveryLifetime:     token.DefaultPasswordRecoveryTTL,
	}, services.WithSessionRevoker(sessionSvc), services.WithEventPublisher(hub))
	require.NoError(t, err)

	org, err := orgSvc.Create(context.Background(), services.CreateOrganizationInput{Name: "acme-" + uuid.NewString()[:8]})
	require.NoError(t, err)
	issued, err := orgSvc.CreateAPIKey(context.Background(), org.ID, services.CreateAPIKeyInput{Name: "tests"})
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		BasePath:      BasePath,
		RateLimit:     cfg.rateLimit,
		RateStore:     cfg.rateStore,
		JWT:           jwtSvc,
		Sessions:      sessionSvc,
		Users:         userSvc,
		Accounts:      accountSvc,
		Organizations: orgSvc,
		Audit:         auditSvc,
		Hub:           hub,
		Health:        cfg.health,
	})
	require.NoError(t, err)

	return &Env{
		T:             t,
		DB:            db,
		Router:        router,
		JWT:           jwtSvc,
		Sessions:      sessionSvc,
		Users:         userSvc,
		Accounts:      accountSvc,
		Organizations: orgSvc,
		Audit:         auditSvc,
		Hub:           hub,
		Outbox:        outbox,
		Organization:  org,
		APIKey:        issued.Key,
	}
}

// CreateUser inserts an active user with DefaultPassword and a random
// username, optionally marking the email verified.
func (e *Env) CreateUser(verified bool) *models.User {
	e.T.Helper()

	username := "user-" + uuid.NewString()[:8]
	user, err := e.Users.Create(context.Background(), services.CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: DefaultPassword,
	})
	require.NoError(e.T, err)

	if verified {
		_, err := e.Users.MarkVerified(context.Background(), user.ID)
		require.NoError(e.T, err)
		user.IsVerified = true
	}
	return user
}

// TokenPair mirrors the login response payload.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login authenticates with email and password and returns the issued token pair.
func (e *Env) Login(email, password string) TokenPair {
	e.T.Helper()

	w := e.Request(http.MethodPost, BasePath+"/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var pair TokenPair
	DecodeInto(e.T, resp.Data, &pair)
	require.NotEmpty(e.T, pair.Access)
	require.NotEmpty(e.T, pair.Refresh)
	return pair
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router with the
// environment's API key and, when set, a bearer token.
func (e *Env) Request(method, path string, body any, bearer string) *httptest.ResponseRecorder {
	e.T.Helper()
	headers := map[string]string{middleware.DefaultAPIKeyHeader: e.APIKey}
	if bearer != "" {
		headers["Authorization"] = "Bearer " + bearer
	}
	return e.RequestWithHeaders(method, path, body, headers)
}

// RequestWithHeaders executes an HTTP request with exactly the given headers.
func (e *Env) RequestWithHeaders(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
