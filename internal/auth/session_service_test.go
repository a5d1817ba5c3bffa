package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/cache"
	"github.com/charlesng35/tenantauth/internal/database/testutil"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/pkg/crypto"
)

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	user := createTestUser(t, db, "user-create")

	tokens, session, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "unit-test", session.UserAgent)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, crypto.HashToken(tokens.RefreshToken), reloaded.RefreshHash)
	require.NotContains(t, reloaded.RefreshHash, tokens.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		db, svc, clock := setupSessionService(t, withCache)
		user := createTestUser(t, db, "user-refresh")
		ctx := context.Background()

		tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)

		rotated, updated, err := svc.RefreshSession(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)
		require.NotEqual(t, tokens.AccessToken, rotated.AccessToken)
		require.Equal(t, session.ID, updated.ID)
		require.True(t, updated.LastUsedAt.Equal(clock.Now()))

		_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
		require.ErrorIs(t, err, ErrSessionNotFound)

		_, _, err = svc.RefreshSession(ctx, rotated.RefreshToken)
		require.NoError(t, err)
	}
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	user := createTestUser(t, db, "user-expired")

	tokens, _, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeByRefreshTokenPreventsRefresh(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		db, svc, _ := setupSessionService(t, withCache)
		user := createTestUser(t, db, "user-revoke")
		ctx := context.Background()

		tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
		require.NoError(t, err)

		require.NoError(t, svc.RevokeByRefreshToken(ctx, tokens.RefreshToken))
		require.ErrorIs(t, svc.RevokeByRefreshToken(ctx, tokens.RefreshToken), ErrSessionRevoked)
		require.ErrorIs(t, svc.RevokeByRefreshToken(ctx, "unknown"), ErrSessionNotFound)
		require.ErrorIs(t, svc.RevokeByRefreshToken(ctx, " "), ErrSessionInvalidToken)

		_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
		require.ErrorIs(t, err, ErrSessionRevoked)

		var stored models.Session
		require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
		require.NotNil(t, stored.RevokedAt)
	}
}

func TestRevokeUserSessionsAndCleanup(t *testing.T) {
	db, svc, clock := setupSessionService(t, true)
	user := createTestUser(t, db, "user-many")
	other := createTestUser(t, db, "user-other")
	ctx := context.Background()

	first, _, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	_, _, err = svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	_, _, err = svc.CreateSession(ctx, other.ID, SessionMetadata{})
	require.NoError(t, err)

	revoked, err := svc.RevokeUserSessions(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, revoked)

	_, _, err = svc.RefreshSession(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	clock.Advance(3 * time.Hour)
	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.Session{}).Count(&remaining).Error)
	require.Zero(t, remaining)
}

func setupSessionService(t *testing.T, withCache bool) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	cfg := SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	}
	if withCache {
		cfg.Cache = NewSessionCache(cache.NewDatabaseStore(db))
	}

	sessionService, err := NewSessionService(db, jwtService, cfg)
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password-123")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
