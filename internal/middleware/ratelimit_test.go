package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/cache"
	"github.com/charlesng35/tenantauth/internal/database/testutil"
)

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func newRateLimitedRouter(store RateStore, opts RateLimitOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID := c.GetHeader("X-Test-User"); userID != "" {
			c.Set(CtxUserIDKey, userID)
		}
		c.Next()
	}, RateLimit(store, opts))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func ping(r http.Handler, user string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	store := NewMemoryRateStore()
	t.Cleanup(store.Close)

	r := newRateLimitedRouter(store, RateLimitOptions{AnonymousLimit: 2, UserLimit: 3, Window: 100 * time.Millisecond})

	// First two anonymous requests should pass
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, ping(r, "").Code)
	}

	w := ping(r, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// Authenticated users have their own, larger budget
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, ping(r, "user-1").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, ping(r, "user-1").Code)
	require.Equal(t, http.StatusOK, ping(r, "user-2").Code)

	time.Sleep(120 * time.Millisecond)

	// After window resets, should pass again
	require.Equal(t, http.StatusOK, ping(r, "").Code)
}

func TestRateLimitWithDatabaseStore(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	r := newRateLimitedRouter(NewCacheRateStore(cache.NewDatabaseStore(db)), RateLimitOptions{AnonymousLimit: 1, UserLimit: 1})

	require.Equal(t, http.StatusOK, ping(r, "").Code)
	require.Equal(t, http.StatusTooManyRequests, ping(r, "").Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := newRateLimitedRouter(failingRateStore{}, RateLimitOptions{AnonymousLimit: 1})
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, ping(r, "").Code)
	}

	r = newRateLimitedRouter(nil, RateLimitOptions{AnonymousLimit: 1})
	require.Equal(t, http.StatusOK, ping(r, "").Code)
	require.Equal(t, http.StatusOK, ping(r, "").Code)
}

func TestMemoryRateStoreSweep(t *testing.T) {
	store := NewMemoryRateStore()
	t.Cleanup(store.Close)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	count, ttl, err := store.Increment(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	now = now.Add(time.Minute)
	store.sweep()

	store.mu.Lock()
	require.Empty(t, store.data)
	store.mu.Unlock()
}
