package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/tenantauth/internal/auth"
	"github.com/charlesng35/tenantauth/internal/models"
	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
	"github.com/charlesng35/tenantauth/pkg/response"
)

const (
	CtxClaimsKey         = "authClaims"
	CtxUserKey           = "authUser"
	CtxUserIDKey         = "userID"
	CtxSessionIDKey      = "sessionID"
	CtxOrganizationIDKey = "organizationID"
	CtxAPIKeyIDKey       = "apiKeyID"

	// DefaultAPIKeyHeader carries the organization API key.
	DefaultAPIKeyHeader = "Api-Key"
)

// APIKeyAuthenticator resolves a presented organization API key.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, key string) (*models.OrganizationAPIKey, error)
}

// UserLoader loads the user named by an access token.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// APIKey resolves the organization API key sent in header (or as
// "Authorization: Api-Key <key>") and records the owning organization on the
// context. It never rejects a request itself; access policies decide.
func APIKey(keys APIKeyAuthenticator, header string) gin.HandlerFunc {
	if strings.TrimSpace(header) == "" {
		header = DefaultAPIKeyHeader
	}

	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader(header))
		if presented == "" {
			authz := c.GetHeader("Authorization")
			if scheme, value, ok := strings.Cut(authz, " "); ok && strings.EqualFold(scheme, "Api-Key") {
				presented = strings.TrimSpace(value)
			}
		}

		if presented != "" && keys != nil {
			key, err := keys.AuthenticateAPIKey(c.Request.Context(), presented)
			if err == nil && key != nil {
				c.Set(CtxOrganizationIDKey, key.OrganizationID)
				c.Set(CtxAPIKeyIDKey, key.ID)
			} else if err != nil && !isClientError(err) {
				response.Error(c, err)
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

// Authenticate validates an optional bearer access token. Requests without
// one continue anonymously; an invalid token is rejected with 401.
func Authenticate(jwt *iauth.JWTService, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			c.Next()
			return
		}

		claims, err := jwt.ValidateAccessToken(strings.TrimSpace(token))
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		user, err := users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil || !user.IsActive {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserKey, user)
		c.Set(CtxUserIDKey, claims.UserID)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		c.Next()
	}
}

// CurrentUser returns the authenticated user, if any.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

func isClientError(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.StatusCode < 500
}
