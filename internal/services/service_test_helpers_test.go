package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/database/testutil"
	"github.com/charlesng35/tenantauth/internal/models"
)

func newTestUserService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	auditSvc, err := NewAuditService(db)
	require.NoError(t, err)

	users, err := NewUserService(db, auditSvc, UserServiceConfig{})
	require.NoError(t, err)
	return users, db
}

func mustCreateUser(t *testing.T, users *UserService, username, email, password string) *models.User {
	t.Helper()

	user, err := users.Create(context.Background(), CreateUserInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return user
}
