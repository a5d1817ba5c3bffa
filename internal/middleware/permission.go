package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tenantauth/internal/permissions"
	"github.com/charlesng35/tenantauth/pkg/metrics"
	"github.com/charlesng35/tenantauth/pkg/response"
)

// RequirePolicy aborts the request unless the resolved principal satisfies policy.
func RequirePolicy(policy *permissions.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := permissions.Principal{
			OrganizationID: c.GetString(CtxOrganizationIDKey),
			APIKeyID:       c.GetString(CtxAPIKeyIDKey),
		}
		if user, ok := CurrentUser(c); ok {
			principal.User = user
		}

		if denial := policy.Evaluate(principal); denial != nil {
			metrics.PolicyChecks.WithLabelValues(policy.Name(), "deny").Inc()
			response.Error(c, denial)
			c.Abort()
			return
		}

		metrics.PolicyChecks.WithLabelValues(policy.Name(), "allow").Inc()
		c.Next()
	}
}
