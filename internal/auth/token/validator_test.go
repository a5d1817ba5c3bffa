package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/models"
)

type stubResolver struct {
	users map[string]*models.User
	err   error
}

func (s *stubResolver) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.users[strings.ToLower(email)], nil
}

type fixture struct {
	current   time.Time
	codec     *Codec
	generator *Generator
	validator *Validator
	resolver  *stubResolver
	user      *models.User
}

func newFixture(t *testing.T, lifetime time.Duration) *fixture {
	t.Helper()

	f := &fixture{current: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	clock := fixedClock(&f.current)

	var err error
	f.codec, err = NewCodec(CodecConfig{Secret: "secret", Clock: clock})
	require.NoError(t, err)
	f.generator, err = NewGenerator(f.codec, PurposeAccountVerification, lifetime, WithGeneratorClock(clock))
	require.NoError(t, err)

	f.user = &models.User{ID: "user-1", Email: "alice@example.com"}
	f.resolver = &stubResolver{users: map[string]*models.User{"alice@example.com": f.user}}
	f.validator, err = NewValidator(f.codec, f.resolver)
	require.NoError(t, err)
	return f
}

func TestCheckTokenImmediatelyAfterMake(t *testing.T) {
	f := newFixture(t, time.Hour)

	raw, _, err := f.generator.MakeToken(f.user, nil)
	require.NoError(t, err)

	ok, user := f.validator.CheckToken(context.Background(), raw, nil)
	require.True(t, ok)
	require.Same(t, f.user, user)
}

func TestCheckTokenRespectsLifetimeBoundary(t *testing.T) {
	f := newFixture(t, 24*time.Hour)
	start := f.current

	raw, _, err := f.generator.MakeToken(f.user, nil)
	require.NoError(t, err)

	f.current = start.Add(23*time.Hour + 59*time.Minute)
	ok, user := f.validator.CheckToken(context.Background(), raw, nil)
	require.True(t, ok)
	require.Equal(t, "user-1", user.ID)

	f.current = start.Add(25 * time.Hour)
	ok, user = f.validator.CheckToken(context.Background(), raw, nil)
	require.False(t, ok)
	require.Nil(t, user)

	_, err = f.validator.Validate(context.Background(), raw, nil)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateForeignSecret(t *testing.T) {
	f := newFixture(t, time.Hour)

	other, err := NewCodec(CodecConfig{Secret: "someone-else", Clock: fixedClock(&f.current)})
	require.NoError(t, err)
	otherGen, err := NewGenerator(other, PurposeAccountVerification, time.Hour, WithGeneratorClock(fixedClock(&f.current)))
	require.NoError(t, err)

	raw, _, err := otherGen.MakeToken(f.user, nil)
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), raw, nil)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateUnknownIdentity(t *testing.T) {
	f := newFixture(t, time.Hour)

	raw, _, err := f.generator.MakeToken(&models.User{Email: "ghost@example.com"}, nil)
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), raw, nil)
	require.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestValidateResolverFailure(t *testing.T) {
	f := newFixture(t, time.Hour)
	raw, _, err := f.generator.MakeToken(f.user, nil)
	require.NoError(t, err)

	boom := errors.New("db down")
	f.resolver.err = boom

	_, err = f.validator.Validate(context.Background(), raw, nil)
	require.ErrorIs(t, err, boom)
}

func TestValidateExpectedClaims(t *testing.T) {
	f := newFixture(t, time.Hour)

	raw, _, err := f.generator.MakeToken(f.user, map[string]any{"purpose": "password_recovery", "version": 3})
	require.NoError(t, err)

	user, err := f.validator.Validate(context.Background(), raw, map[string]any{"purpose": "password_recovery", "version": 3})
	require.NoError(t, err)
	require.Same(t, f.user, user)

	_, err = f.validator.Validate(context.Background(), raw, map[string]any{"purpose": "account_verification"})
	require.ErrorIs(t, err, ErrClaimMismatch)

	_, err = f.validator.Validate(context.Background(), raw, map[string]any{"missing": true})
	require.ErrorIs(t, err, ErrClaimMismatch)

	ok, user := f.validator.CheckToken(context.Background(), raw, map[string]any{"version": 4})
	require.False(t, ok)
	require.Nil(t, user)
}
