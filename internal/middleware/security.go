package middleware

import "github.com/gin-gonic/gin"

// DefaultContentSecurityPolicy forbids every resource; responses are JSON only.
const DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", DefaultContentSecurityPolicy},
	{"Referrer-Policy", "no-referrer"},
}

// SecurityHeaders hardens every response. Auth responses carry tokens, so
// nothing under the API may be cached.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
		c.Next()
	}
}
