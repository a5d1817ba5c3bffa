package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/tenantauth/internal/cache"
	"github.com/charlesng35/tenantauth/internal/models"
)

const sessionCacheKeyPrefix = "auth:sessions:refresh:"

// NewSessionCache wraps a shared cache Store (Redis or database) in a SessionCache.
func NewSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

func (c *sessionStoreCache) Get(ctx context.Context, digest string) (*models.Session, error) {
	key := cacheKey(digest)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var entry cachedSession
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	return entry.toModel(digest), nil
}

func (c *sessionStoreCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key := cacheKey(session.RefreshHash)
	if key == "" {
		return errors.New("session cache: refresh digest missing")
	}

	payload, err := json.Marshal(fromModel(session))
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.store.Set(ctx, key, payload, ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, digests ...string) error {
	keys := make([]string, 0, len(digests))
	for _, digest := range digests {
		if key := cacheKey(digest); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

// cachedSession mirrors models.Session; the model hides the refresh digest
// from JSON, so the cache keeps its own encoding.
type cachedSession struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func fromModel(s *models.Session) cachedSession {
	return cachedSession{
		ID:         s.ID,
		UserID:     s.UserID,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		ExpiresAt:  s.ExpiresAt,
		LastUsedAt: s.LastUsedAt,
		CreatedAt:  s.CreatedAt,
		RevokedAt:  s.RevokedAt,
	}
}

func (c cachedSession) toModel(digest string) *models.Session {
	return &models.Session{
		ID:          c.ID,
		UserID:      c.UserID,
		RefreshHash: digest,
		IPAddress:   c.IPAddress,
		UserAgent:   c.UserAgent,
		ExpiresAt:   c.ExpiresAt,
		LastUsedAt:  c.LastUsedAt,
		CreatedAt:   c.CreatedAt,
		RevokedAt:   c.RevokedAt,
	}
}

func cacheKey(digest string) string {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return ""
	}
	return sessionCacheKeyPrefix + digest
}
