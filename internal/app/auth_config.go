package app

import (
	"strings"
	"time"

	"github.com/charlesng35/tenantauth/internal/auth"
	"github.com/charlesng35/tenantauth/internal/auth/token"
	"github.com/charlesng35/tenantauth/internal/middleware"
	"github.com/charlesng35/tenantauth/internal/services"
)

const defaultRefreshLength = 48

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = defaultRefreshLength
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// UserServiceConfig converts the password policy.
func (c AuthConfig) UserServiceConfig() services.UserServiceConfig {
	return services.UserServiceConfig{
		PasswordMinLength: c.Password.MinLength,
		PasswordMaxLength: c.Password.MaxLength,
	}
}

// TokenCodecConfig converts the account token settings. The session JWT
// secret signs account tokens unless a dedicated secret is configured.
func (c AuthConfig) TokenCodecConfig() token.CodecConfig {
	secret := c.Tokens.Secret
	if strings.TrimSpace(secret) == "" {
		secret = c.JWT.Secret
	}
	algorithm := strings.TrimSpace(c.Tokens.Algorithm)
	if algorithm == "" {
		algorithm = token.DefaultAlgorithm
	}
	return token.CodecConfig{Secret: secret, Algorithm: algorithm}
}

// TokenLifetimes returns the verification and recovery token lifetimes.
func (c AuthConfig) TokenLifetimes() (verification, recovery time.Duration) {
	verification = c.Tokens.VerificationTTL
	if verification <= 0 {
		verification = token.DefaultLifetime(token.PurposeAccountVerification)
	}
	recovery = c.Tokens.PasswordRecoveryTTL
	if recovery <= 0 {
		recovery = token.DefaultLifetime(token.PurposePasswordRecovery)
	}
	return verification, recovery
}

// RateLimitOptions converts the throttle budgets into middleware options.
func (c AuthConfig) RateLimitOptions() middleware.RateLimitOptions {
	return middleware.RateLimitOptions{
		AnonymousLimit: c.Throttle.AnonymousPerMinute,
		UserLimit:      c.Throttle.UserPerMinute,
		Window:         time.Minute,
	}
}

// APIKeyHeader returns the configured API key header name.
func (c AuthConfig) APIKeyHeader() string {
	if header := strings.TrimSpace(c.APIKey.Header); header != "" {
		return header
	}
	return middleware.DefaultAPIKeyHeader
}
