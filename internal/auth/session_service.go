package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/pkg/crypto"
	"github.com/charlesng35/tenantauth/pkg/logger"
	"github.com/charlesng35/tenantauth/pkg/metrics"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

const defaultRefreshLength = 48

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	Clock           func() time.Time
	Cache           SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the login/refresh response body.
type TokenPair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

var (
	ErrSessionNotFound     = errors.New("session: not found")
	ErrSessionRevoked      = errors.New("session: revoked")
	ErrSessionExpired      = errors.New("session: expired")
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache caches sessions by refresh token digest.
type SessionCache interface {
	Get(ctx context.Context, digest string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, digests ...string) error
}

// SessionService manages creation, rotation, and revocation of login sessions.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
	cache      SessionCache
	log        *zap.Logger
}

func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	svc := &SessionService{
		db:         db,
		jwt:        jwtService,
		refreshTTL: cfg.RefreshTokenTTL,
		tokenLen:   cfg.RefreshLength,
		now:        cfg.Clock,
		cache:      cfg.Cache,
		log:        logger.WithModule("sessions"),
	}
	if svc.refreshTTL <= 0 {
		svc.refreshTTL = DefaultRefreshTokenTTL
	}
	if svc.tokenLen <= 0 {
		svc.tokenLen = defaultRefreshLength
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

// CreateSession opens a session for userID and issues its first token pair.
func (s *SessionService) CreateSession(ctx context.Context, userID string, meta SessionMetadata) (TokenPair, *models.Session, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	refresh, digest, err := s.newRefreshToken()
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := s.now()
	session := &models.Session{
		UserID:      userID,
		RefreshHash: digest,
		IPAddress:   strings.TrimSpace(meta.IPAddress),
		UserAgent:   strings.TrimSpace(meta.UserAgent),
		ExpiresAt:   now.Add(s.refreshTTL),
		LastUsedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}
	metrics.ActiveSessions.Inc()

	return s.issue(ctx, session, refresh)
}

// RefreshSession rotates the refresh token and issues a new access token.
// The presented token stops working even if rotation loses a race.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, *models.Session, error) {
	ctx = ensureContext(ctx)

	session, err := s.lookup(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	now := s.now()
	if err := s.usable(session, now); err != nil {
		return TokenPair{}, nil, err
	}

	refresh, digest, err := s.newRefreshToken()
	if err != nil {
		return TokenPair{}, nil, err
	}

	previous := session.RefreshHash
	expiresAt := now.Add(s.refreshTTL)
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND refresh_hash = ? AND revoked_at IS NULL", session.ID, previous).
		Updates(map[string]any{
			"refresh_hash": digest,
			"expires_at":   expiresAt,
			"last_used_at": now,
		})
	s.cacheDelete(ctx, previous)
	if result.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return TokenPair{}, nil, ErrSessionNotFound
	}

	session.RefreshHash = digest
	session.ExpiresAt = expiresAt
	session.LastUsedAt = now
	return s.issue(ctx, session, refresh)
}

// RevokeByRefreshToken blacklists the session owning refreshToken.
func (s *SessionService) RevokeByRefreshToken(ctx context.Context, refreshToken string) error {
	ctx = ensureContext(ctx)

	session, err := s.lookup(ctx, refreshToken)
	if err != nil {
		return err
	}
	if session.RevokedAt != nil {
		return ErrSessionRevoked
	}
	return s.RevokeSession(ctx, session.ID)
}

// RevokeSession marks a session as revoked, preventing further refresh operations.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	revoked, err := s.revokeWhere(ctx, s.db.Where("id = ?", sessionID))
	if err != nil {
		return err
	}
	if revoked == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(userID) == "" {
		return 0, ErrSessionInvalidToken
	}
	return s.revokeWhere(ctx, s.db.Where("user_id = ?", userID))
}

// revokeWhere revokes the active sessions matched by scope and evicts them
// from the cache.
func (s *SessionService) revokeWhere(ctx context.Context, scope *gorm.DB) (int64, error) {
	active := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Session{}).Where(scope).Where("revoked_at IS NULL")
	}

	var digests []string
	if err := active().Pluck("refresh_hash", &digests).Error; err != nil {
		return 0, fmt.Errorf("session service: list sessions: %w", err)
	}

	result := active().Update("revoked_at", s.now())
	if result.Error != nil {
		return 0, fmt.Errorf("session service: revoke sessions: %w", result.Error)
	}

	s.cacheDelete(ctx, digests...)
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// CleanupExpired removes expired and revoked sessions.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var stillActive int64
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&stillActive).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	var digests []string
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("expires_at < ? OR revoked_at IS NOT NULL", now).
		Pluck("refresh_hash", &digests).Error; err != nil {
		return 0, fmt.Errorf("session service: list expired sessions: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", now).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	s.cacheDelete(ctx, digests...)
	if stillActive > 0 {
		metrics.ActiveSessions.Sub(float64(stillActive))
	}
	return result.RowsAffected, nil
}

func (s *SessionService) newRefreshToken() (token, digest string, err error) {
	token, err = crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", "", fmt.Errorf("session service: generate refresh token: %w", err)
	}
	return token, crypto.HashToken(token), nil
}

func (s *SessionService) issue(ctx context.Context, session *models.Session, refresh string) (TokenPair, *models.Session, error) {
	access, err := s.jwt.GenerateAccessToken(AccessTokenInput{UserID: session.UserID, SessionID: session.ID})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}
	s.cacheSet(ctx, session)
	return TokenPair{AccessToken: access, RefreshToken: refresh}, session, nil
}

func (s *SessionService) usable(session *models.Session, now time.Time) error {
	switch {
	case session.RevokedAt != nil:
		return ErrSessionRevoked
	case !now.Before(session.ExpiresAt):
		return ErrSessionExpired
	}
	return nil
}

func (s *SessionService) lookup(ctx context.Context, refreshToken string) (*models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrSessionInvalidToken
	}
	digest := crypto.HashToken(refreshToken)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, digest)
		switch {
		case err == nil && cached != nil:
			return cached, nil
		case err != nil && !errors.Is(err, errSessionCacheMiss):
			s.log.Warn("session cache lookup failed", zap.Error(err))
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("refresh_hash = ?", digest).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if session.RevokedAt == nil {
		s.cacheSet(ctx, &session)
	}
	return &session, nil
}

func (s *SessionService) cacheSet(ctx context.Context, session *models.Session) {
	if s.cache == nil {
		return
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, session, ttl); err != nil {
		s.log.Warn("session cache write failed", zap.Error(err))
	}
}

func (s *SessionService) cacheDelete(ctx context.Context, digests ...string) {
	if s.cache == nil || len(digests) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, digests...); err != nil {
		s.log.Warn("session cache delete failed", zap.Error(err))
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
