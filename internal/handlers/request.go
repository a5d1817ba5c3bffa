package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/tenantauth/pkg/errors"
	"github.com/charlesng35/tenantauth/pkg/response"
	appValidator "github.com/charlesng35/tenantauth/pkg/validator"
)

var errInvalidJSON = appErrors.NewBadRequest("invalid JSON payload")

// bindAndValidate binds the JSON payload into dest and runs struct validation
// rules. On failure the error envelope is written and false is returned; the
// envelope names the first offending field.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, errInvalidJSON)
		return false
	}

	err := appValidator.ValidateStruct(dest)
	if err == nil {
		return true
	}

	var failures appValidator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		response.Error(c, appErrors.NewBadRequest("invalid request payload"))
		return false
	}
	response.Error(c, appErrors.NewBadRequest(failures.Error()).WithField(failures[0].Field))
	return false
}

// bindOptionalJSON binds a JSON body when one is present so path-only
// requests keep working.
func bindOptionalJSON[T any](c *gin.Context, dest *T) bool {
	if c.Request == nil || c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, errInvalidJSON)
		return false
	}
	return true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(c *gin.Context, key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// requestContext falls back to a background context for bare test contexts.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
