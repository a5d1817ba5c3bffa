package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/auditctx"
	"github.com/charlesng35/tenantauth/internal/database/testutil"
	"github.com/charlesng35/tenantauth/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{
		OrganizationID: "org-1",
		IPAddress:      "10.1.1.1",
		UserAgent:      "curl",
	})

	user := &models.User{ID: "user-1", Username: "alice"}
	require.NoError(t, svc.Log(ctx, userAuditEntry(user, AuditUserSignup, "success", nil)))
	require.NoError(t, svc.Log(ctx, userAuditEntry(user, AuditUserActivated, "success", map[string]any{"via": "token"})))
	require.Error(t, svc.Log(ctx, AuditEntry{Result: "success"}))
	require.Error(t, svc.Log(ctx, AuditEntry{Action: "x"}))

	logs, err := svc.List(context.Background(), AuditFilters{UserID: "user-1"}, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	logs, err = svc.List(context.Background(), AuditFilters{Action: AuditUserActivated}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "10.1.1.1", logs[0].IPAddress)
	require.Equal(t, "curl", logs[0].UserAgent)
	require.Equal(t, "token", logs[0].Metadata["via"])
	require.NotNil(t, logs[0].OrganizationID)
	require.Equal(t, "org-1", *logs[0].OrganizationID)

	logs, err = svc.List(context.Background(), AuditFilters{OrganizationID: "org-1"}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	current := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	require.NoError(t, svc.Log(context.Background(), AuditEntry{Action: AuditUserSignup, Result: "success"}))

	current = current.AddDate(0, 0, 100)
	require.NoError(t, svc.Log(context.Background(), AuditEntry{Action: AuditUserSignup, Result: "success"}))

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)

	removed, err := svc.CleanupOlderThan(context.Background(), 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
