package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/models"
)

func TestOpenSQLiteMemoryAndMigrate(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: "file:db_test_migrate?mode=memory&cache=shared&_foreign_keys=1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Ping(context.Background(), db))
	require.NoError(t, AutoMigrate(db))

	for _, model := range []any{
		&models.User{},
		&models.Organization{},
		&models.OrganizationAPIKey{},
		&models.Session{},
		&models.AuditLog{},
		&models.CacheEntry{},
	} {
		require.True(t, db.Migrator().HasTable(model))
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	path := t.TempDir() + "/nested/auth.db"
	db, err := Open(Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, AutoMigrate(db))
	require.NoError(t, db.Create(&models.Organization{Name: "acme", Active: true}).Error)

	var count int64
	require.NoError(t, db.Model(&models.Organization{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestOpenAppliesPoolLimits(t *testing.T) {
	db, err := Open(Config{DSN: "file:db_test_pool?mode=memory&cache=shared", MaxOpenConns: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)
}
