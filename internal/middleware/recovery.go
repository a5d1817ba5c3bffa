package middleware

import (
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
	"github.com/charlesng35/tenantauth/pkg/logger"
	"github.com/charlesng35/tenantauth/pkg/response"
)

// Recovery converts panics into the standard 500 envelope. Gin still detects
// broken client connections; its own stderr dump is discarded in favour of zap.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.WithModule("http").Error("panic recovered",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Any("error", recovered),
			zap.Stack("stack"),
		)
		response.Error(c, apperrors.ErrInternalServer)
		c.Abort()
	})
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, apperrors.ErrNotFound.WithMessage(
		fmt.Sprintf("%s %s not found", c.Request.Method, c.Request.URL.Path)))
}
