// Package token issues and checks the short lived, stateless tokens that are
// mailed to users for account verification and password recovery.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names every account token carries.
const (
	ClaimEmail  = "email"
	ClaimExpiry = "exp"
)

// DefaultAlgorithm is used when no signing algorithm is configured.
const DefaultAlgorithm = "HS256"

var (
	// ErrInvalidSignature means the token was not signed with the configured
	// secret and algorithm.
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrExpired means a correctly signed token is past its expiry.
	ErrExpired = errors.New("token: expired")
	// ErrMalformed means the token could not be parsed or lacks an expiry.
	ErrMalformed = errors.New("token: malformed")
)

var signingMethods = map[string]*jwt.SigningMethodHMAC{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// CodecConfig bundles the configuration required to build a Codec.
type CodecConfig struct {
	Secret    string
	Algorithm string
	Clock     func() time.Time
}

// Codec signs and verifies compact JWS tokens with a symmetric secret.
type Codec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	now    func() time.Time
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: secret must be provided")
	}

	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method, ok := signingMethods[alg]
	if !ok {
		return nil, fmt.Errorf("token: unsupported algorithm %q", cfg.Algorithm)
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &Codec{
		secret: []byte(cfg.Secret),
		method: method,
		now:    now,
	}, nil
}

// Algorithm reports the JWS algorithm name used for signing.
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// Encode signs claims. The claim set must contain an expiry.
func (c *Codec) Encode(claims map[string]any) (string, error) {
	if _, ok := claims[ClaimExpiry]; !ok {
		return "", fmt.Errorf("token: encode: missing %q claim", ClaimExpiry)
	}

	payload := make(jwt.MapClaims, len(claims))
	for k, v := range claims {
		payload[k] = v
	}

	signed, err := jwt.NewWithClaims(c.method, payload).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of raw and returns its claims.
// Expiry is only evaluated for tokens whose signature verifies.
func (c *Codec) Decode(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return map[string]any(claims), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
