package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/charlesng35/tenantauth/internal/models"
)

var (
	// ErrUnknownIdentity means the email claim no longer resolves to a user.
	ErrUnknownIdentity = errors.New("token: unknown identity")
	// ErrClaimMismatch means an expected claim is absent or differs.
	ErrClaimMismatch = errors.New("token: claim mismatch")
)

// IdentityResolver looks a user up by the email claim carried in a token.
// Implementations return (nil, nil) when no user matches.
type IdentityResolver interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// Validator checks tokens minted by a Generator sharing the same Codec.
type Validator struct {
	codec    *Codec
	resolver IdentityResolver
}

// NewValidator wires a Validator.
func NewValidator(codec *Codec, resolver IdentityResolver) (*Validator, error) {
	if codec == nil {
		return nil, errors.New("token validator: codec is required")
	}
	if resolver == nil {
		return nil, errors.New("token validator: identity resolver is required")
	}
	return &Validator{codec: codec, resolver: resolver}, nil
}

// Validate decodes raw, re-resolves the identity named by its email claim and
// requires every expected claim to equal the decoded value. Decode failures
// surface as ErrExpired, ErrInvalidSignature or ErrMalformed. Purpose
// specific guards are left to the caller.
func (v *Validator) Validate(ctx context.Context, raw string, expected map[string]any) (*models.User, error) {
	claims, err := v.codec.Decode(raw)
	if err != nil {
		return nil, err
	}

	email, ok := claims[ClaimEmail].(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: missing %q claim", ErrMalformed, ClaimEmail)
	}

	user, err := v.resolver.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("token validator: resolve identity: %w", err)
	}
	if user == nil {
		return nil, ErrUnknownIdentity
	}

	if err := matchClaims(claims, expected); err != nil {
		return nil, err
	}
	return user, nil
}

// CheckToken is the boolean form of Validate.
func (v *Validator) CheckToken(ctx context.Context, raw string, expected map[string]any) (bool, *models.User) {
	user, err := v.Validate(ctx, raw, expected)
	if err != nil {
		return false, nil
	}
	return true, user
}

func matchClaims(claims, expected map[string]any) error {
	if len(expected) == 0 {
		return nil
	}

	// decoded numbers are float64; normalise expected values the same way
	normalized, err := normalize(expected)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClaimMismatch, err)
	}

	for key, want := range normalized {
		got, ok := claims[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return fmt.Errorf("%w: %s", ErrClaimMismatch, key)
		}
	}
	return nil
}

func normalize(values map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
