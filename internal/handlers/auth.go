package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/tenantauth/internal/auth"
	"github.com/charlesng35/tenantauth/internal/services"
	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
	"github.com/charlesng35/tenantauth/pkg/metrics"
	"github.com/charlesng35/tenantauth/pkg/response"
)

// ErrTokenNotValid is returned for access or refresh tokens that fail validation.
var ErrTokenNotValid = apperrors.New("TOKEN_NOT_VALID", "Token is invalid or expired", http.StatusUnauthorized)

// AuthHandler exposes the session endpoints (login/refresh/verify/blacklist).
type AuthHandler struct {
	users    *services.UserService
	sessions *iauth.SessionService
	jwt      *iauth.JWTService
	audit    *services.AuditService
}

// NewAuthHandler wires the session endpoints.
func NewAuthHandler(users *services.UserService, sessions *iauth.SessionService, jwt *iauth.JWTService, audit *services.AuditService) (*AuthHandler, error) {
	if users == nil || sessions == nil || jwt == nil {
		return nil, errors.New("auth handler: user service, session service and jwt service are required")
	}
	return &AuthHandler{users: users, sessions: sessions, jwt: jwt, audit: audit}, nil
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.users.Authenticate(ctx, strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	pair, _, err := h.sessions.CreateSession(ctx, user.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, pair)
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), strings.TrimSpace(req.Refresh))
	if err != nil {
		response.Error(c, sessionError(err))
		return
	}

	response.Success(c, http.StatusOK, pair)
}

type verifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/v1/auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.jwt.ValidateAccessToken(strings.TrimSpace(req.Token)); err != nil {
		response.Error(c, ErrTokenNotValid.WithField("token"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// POST /api/v1/auth/blacklist
func (h *AuthHandler) Blacklist(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	if err := h.sessions.RevokeByRefreshToken(ctx, strings.TrimSpace(req.Refresh)); err != nil {
		response.Error(c, sessionError(err))
		return
	}

	if h.audit != nil {
		_ = h.audit.Log(ctx, services.AuditEntry{
			Action: services.AuditSessionBlacklisted,
			Result: "success",
		})
	}

	response.Success(c, http.StatusOK, gin.H{})
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, iauth.ErrSessionNotFound),
		errors.Is(err, iauth.ErrSessionRevoked),
		errors.Is(err, iauth.ErrSessionExpired),
		errors.Is(err, iauth.ErrSessionInvalidToken):
		return ErrTokenNotValid.WithField("refresh")
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}
