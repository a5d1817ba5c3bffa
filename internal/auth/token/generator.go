package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/tenantauth/internal/models"
)

// Purpose names a token use case. Each purpose has its own lifetime.
type Purpose string

const (
	PurposeAccountVerification Purpose = "account_verification"
	PurposePasswordRecovery    Purpose = "password_recovery"
)

// Default lifetimes per purpose.
const (
	DefaultAccountVerificationTTL = 24 * time.Hour
	DefaultPasswordRecoveryTTL    = 15 * time.Minute
)

// DefaultLifetime returns the built in lifetime for purpose.
func DefaultLifetime(purpose Purpose) time.Duration {
	switch purpose {
	case PurposePasswordRecovery:
		return DefaultPasswordRecoveryTTL
	default:
		return DefaultAccountVerificationTTL
	}
}

// GeneratorOption customises a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorClock overrides the time source used to compute expiry.
func WithGeneratorClock(clock func() time.Time) GeneratorOption {
	return func(g *Generator) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Generator mints tokens for a single purpose.
type Generator struct {
	codec    *Codec
	purpose  Purpose
	lifetime time.Duration
	now      func() time.Time
}

// NewGenerator builds a Generator that issues tokens valid for lifetime.
// A non-positive lifetime falls back to the purpose default.
func NewGenerator(codec *Codec, purpose Purpose, lifetime time.Duration, opts ...GeneratorOption) (*Generator, error) {
	if codec == nil {
		return nil, errors.New("token generator: codec is required")
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime(purpose)
	}

	g := &Generator{
		codec:    codec,
		purpose:  purpose,
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Purpose reports the use case this generator issues tokens for.
func (g *Generator) Purpose() Purpose {
	return g.purpose
}

// Lifetime reports how long issued tokens stay valid.
func (g *Generator) Lifetime() time.Duration {
	return g.lifetime
}

// MakeToken issues a token binding the user's email. Extra claims are merged
// in but can never replace the email or expiry claims.
func (g *Generator) MakeToken(user *models.User, extra map[string]any) (string, time.Time, error) {
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return "", time.Time{}, errors.New("token generator: user email is required")
	}

	expiresAt := g.now().Add(g.lifetime).Truncate(time.Second)

	claims := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		claims[k] = v
	}
	claims[ClaimEmail] = user.Email
	claims[ClaimExpiry] = expiresAt.Unix()

	signed, err := g.codec.Encode(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token generator: %w", err)
	}
	return signed, expiresAt, nil
}
