package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/internal/services"
	"github.com/charlesng35/tenantauth/pkg/response"
)

const (
	defaultUserPageSize = 10
	maxUserPageSize     = 200
)

// UserDTO is the public representation of a user.
type UserDTO struct {
	URL      string    `json:"url"`
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Verified bool      `json:"verified"`
	Active   bool      `json:"activated"`
	Staff    bool      `json:"staff"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

func newUserDTO(c *gin.Context, basePath string, user *models.User) UserDTO {
	return UserDTO{
		URL:      userURL(c, basePath, user.ID),
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Verified: user.IsVerified,
		Active:   user.IsActive,
		Staff:    user.IsStaff,
		Created:  user.CreatedAt,
		Updated:  user.UpdatedAt,
	}
}

func userURL(c *gin.Context, basePath, id string) string {
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + strings.TrimRight(basePath, "/") + "/user/" + id
}

// UserHandler serves the read-only user directory.
type UserHandler struct {
	service  *services.UserService
	basePath string
}

// NewUserHandler wires the user directory endpoints.
func NewUserHandler(service *services.UserService, basePath string) (*UserHandler, error) {
	if service == nil {
		return nil, errors.New("user handler: user service is required")
	}
	return &UserHandler{service: service, basePath: basePath}, nil
}

// GET /api/v1/user/
func (h *UserHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", defaultUserPageSize)
	if limit == 0 {
		limit = defaultUserPageSize
	}
	if limit > maxUserPageSize {
		limit = maxUserPageSize
	}
	offset := queryInt(c, "offset", 0)

	users, total, err := h.service.List(requestContext(c), services.ListUsersOptions{
		Filters: services.UserFilters{
			Username:           c.Query("username"),
			UsernameStartsWith: c.Query("username__startswith"),
			UsernameContains:   c.Query("username__contains"),
			Email:              c.Query("email"),
			EmailStartsWith:    c.Query("email__startswith"),
			EmailContains:      c.Query("email__contains"),
		},
		Ordering: c.Query("ordering"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]UserDTO, 0, len(users))
	for i := range users {
		items = append(items, newUserDTO(c, h.basePath, &users[i]))
	}

	response.Page(c, items, total, limit, offset)
}

// GET /api/v1/user/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.GetByID(requestContext(c), strings.Trim(c.Param("id"), "/"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newUserDTO(c, h.basePath, user))
}
