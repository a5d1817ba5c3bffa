package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tenantauth/internal/auditctx"
)

// AuditContext copies the request's client and identity details onto the
// request context so services can attribute audit records.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditctx.Actor{
			UserID:         c.GetString(CtxUserIDKey),
			OrganizationID: c.GetString(CtxOrganizationIDKey),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
		}
		if user, ok := CurrentUser(c); ok {
			actor.Username = user.Username
		}

		c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}
