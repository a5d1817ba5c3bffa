package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/tenantauth/internal/auth"
	"github.com/charlesng35/tenantauth/internal/middleware"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/internal/realtime"
	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
	"github.com/charlesng35/tenantauth/pkg/response"
)

// RealtimeHandler upgrades authenticated requests onto the realtime hub.
type RealtimeHandler struct {
	hub   *realtime.Hub
	jwt   *iauth.JWTService
	users middleware.UserLoader
}

// NewRealtimeHandler constructs the websocket entry point.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService, users middleware.UserLoader) (*RealtimeHandler, error) {
	if hub == nil || jwt == nil || users == nil {
		return nil, errors.New("realtime handler: hub, jwt service and user loader are required")
	}
	return &RealtimeHandler{hub: hub, jwt: jwt, users: users}, nil
}

// Account streams account lifecycle events to the authenticated user.
// Browsers cannot set headers on websocket requests, so the access token
// travels in Sec-WebSocket-Protocol and is echoed back on upgrade. A bearer
// token already resolved by the auth middleware is accepted as well.
//
// GET /ws/account
func (h *RealtimeHandler) Account(c *gin.Context) {
	user, subprotocol := h.resolveUser(c)
	if user == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	h.hub.Serve(user.ID, []string{realtime.StreamAccount}, subprotocol, c.Writer, c.Request)
}

func (h *RealtimeHandler) resolveUser(c *gin.Context) (*models.User, string) {
	for _, candidate := range strings.Split(c.GetHeader("Sec-WebSocket-Protocol"), ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		claims, err := h.jwt.ValidateAccessToken(candidate)
		if err != nil {
			continue
		}
		user, err := h.users.GetByID(requestContext(c), claims.UserID)
		if err != nil || !user.IsActive {
			return nil, ""
		}
		return user, candidate
	}

	if user, ok := middleware.CurrentUser(c); ok {
		return user, ""
	}
	return nil, ""
}
