package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tenantauth/internal/services"
	"github.com/charlesng35/tenantauth/pkg/response"
)

// AccountHandler exposes signup, email verification and password recovery.
type AccountHandler struct {
	accounts *services.AccountService
	basePath string
}

// NewAccountHandler wires the account workflow endpoints. basePath is the
// API prefix used to build user resource URLs.
func NewAccountHandler(accounts *services.AccountService, basePath string) (*AccountHandler, error) {
	if accounts == nil {
		return nil, errors.New("account handler: account service is required")
	}
	return &AccountHandler{accounts: accounts, basePath: basePath}, nil
}

type signupRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required"`
}

type tokenRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// POST /api/v1/auth/signup
func (h *AccountHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.accounts.Signup(requestContext(c), services.SignupInput{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, newUserDTO(c, h.basePath, user))
}

// GET /api/v1/auth/activation/:token
func (h *AccountHandler) CheckActivation(c *gin.Context) {
	var req tokenRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	if _, err := h.accounts.CheckActivation(requestContext(c), pathOrBodyToken(c, req)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

// POST /api/v1/auth/activation/:token
func (h *AccountHandler) Activate(c *gin.Context) {
	var req tokenRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	user, err := h.accounts.Activate(requestContext(c), pathOrBodyToken(c, req))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newUserDTO(c, h.basePath, user))
}

// POST /api/v1/auth/send_activation
func (h *AccountHandler) SendActivation(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.SendActivation(requestContext(c), strings.TrimSpace(req.Email)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

// GET /api/v1/auth/recovery/:token
func (h *AccountHandler) CheckRecovery(c *gin.Context) {
	var req tokenRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	if _, err := h.accounts.CheckRecovery(requestContext(c), pathOrBodyToken(c, req)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

// POST /api/v1/auth/recovery/:token
func (h *AccountHandler) Recover(c *gin.Context) {
	var req tokenRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	if _, err := h.accounts.Recover(requestContext(c), pathOrBodyToken(c, req), req.Password); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"recovered": true})
}

// POST /api/v1/auth/send_recovery
func (h *AccountHandler) SendRecovery(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.SendRecovery(requestContext(c), strings.TrimSpace(req.Email)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

// pathOrBodyToken prefers the token path segment and falls back to the body.
func pathOrBodyToken(c *gin.Context, req tokenRequest) string {
	if raw := strings.TrimSpace(c.Param("token")); raw != "" {
		return raw
	}
	return strings.TrimSpace(req.Token)
}
