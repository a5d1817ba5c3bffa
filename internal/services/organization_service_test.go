package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/database/testutil"
	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
)

func newTestOrganizationService(t *testing.T) *OrganizationService {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	auditSvc, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewOrganizationService(db, auditSvc)
	require.NoError(t, err)
	return svc
}

func TestOrganizationServiceCreate(t *testing.T) {
	svc := newTestOrganizationService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, CreateOrganizationInput{Name: "Acme", Settings: map[string]any{"tier": "gold"}})
	require.NoError(t, err)
	require.True(t, org.Active)
	require.JSONEq(t, `{"tier":"gold"}`, string(org.Settings))

	_, err = svc.Create(ctx, CreateOrganizationInput{Name: "Acme"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Create(ctx, CreateOrganizationInput{Name: "  "})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	loaded, err := svc.GetByName(ctx, "Acme")
	require.NoError(t, err)
	require.Equal(t, org.ID, loaded.ID)

	_, err = svc.GetByName(ctx, "Globex")
	require.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestOrganizationServiceAPIKeyLifecycle(t *testing.T) {
	svc := newTestOrganizationService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, CreateOrganizationInput{Name: "Acme"})
	require.NoError(t, err)

	issued, err := svc.CreateAPIKey(ctx, org.ID, CreateAPIKeyInput{Name: "web"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Key)
	require.NotContains(t, issued.Record.HashedKey, issued.Key)

	key, err := svc.AuthenticateAPIKey(ctx, issued.Key)
	require.NoError(t, err)
	require.Equal(t, issued.Record.ID, key.ID)
	require.Equal(t, org.ID, key.Organization.ID)

	_, err = svc.AuthenticateAPIKey(ctx, issued.Record.Prefix+".wrong-secret")
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = svc.AuthenticateAPIKey(ctx, "no-separator")
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	_, err = svc.AuthenticateAPIKey(ctx, "unknown.secret")
	require.ErrorIs(t, err, ErrInvalidAPIKey)

	require.NoError(t, svc.SetActive(ctx, org.ID, false))
	_, err = svc.AuthenticateAPIKey(ctx, issued.Key)
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	require.NoError(t, svc.SetActive(ctx, org.ID, true))

	require.NoError(t, svc.RevokeAPIKey(ctx, issued.Record.ID))
	_, err = svc.AuthenticateAPIKey(ctx, issued.Key)
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	require.ErrorIs(t, svc.RevokeAPIKey(ctx, "missing"), ErrAPIKeyNotFound)

	keys, err := svc.ListAPIKeys(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.True(t, keys[0].Revoked)

	_, err = svc.CreateAPIKey(ctx, "missing", CreateAPIKeyInput{})
	require.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestOrganizationServiceExpiredAPIKey(t *testing.T) {
	svc := newTestOrganizationService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, CreateOrganizationInput{Name: "Acme"})
	require.NoError(t, err)

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	issued, err := svc.CreateAPIKey(ctx, org.ID, CreateAPIKeyInput{Name: "temp", ExpiresAt: &expires})
	require.NoError(t, err)

	svc.now = func() time.Time { return expires.Add(-time.Minute) }
	_, err = svc.AuthenticateAPIKey(ctx, issued.Key)
	require.NoError(t, err)

	svc.now = func() time.Time { return expires }
	_, err = svc.AuthenticateAPIKey(ctx, issued.Key)
	require.ErrorIs(t, err, ErrInvalidAPIKey)
}
