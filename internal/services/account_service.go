package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/tenantauth/internal/auth/token"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/internal/realtime"
	"github.com/charlesng35/tenantauth/pkg/logger"
	"github.com/charlesng35/tenantauth/pkg/metrics"
)

// claimPurpose binds a token to the workflow that issued it so a recovery
// token cannot activate an account and vice versa.
const claimPurpose = "purpose"

// AccountNotifier delivers a freshly issued token to its owner.
type AccountNotifier interface {
	Send(ctx context.Context, user *models.User, purpose token.Purpose, raw string)
}

// SessionRevoker ends a user's login sessions after a password change.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) (int64, error)
}

// EventPublisher pushes account events to the user's realtime stream.
type EventPublisher interface {
	Publish(ctx context.Context, stream, userID string, message realtime.Message)
}

// AccountServiceConfig carries the token codec and per-purpose lifetimes.
type AccountServiceConfig struct {
	Codec                *token.Codec
	VerificationLifetime time.Duration
	RecoveryLifetime     time.Duration
	Clock                func() time.Time
}

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithSessionRevoker revokes login sessions when a password is recovered.
func WithSessionRevoker(revoker SessionRevoker) AccountOption {
	return func(s *AccountService) {
		s.sessions = revoker
	}
}

// WithEventPublisher publishes account events to realtime subscribers.
func WithEventPublisher(publisher EventPublisher) AccountOption {
	return func(s *AccountService) {
		s.events = publisher
	}
}

// SignupInput captures the fields accepted at signup.
type SignupInput struct {
	Username string
	Email    string
	Password string
}

// AccountService runs the email verification and password recovery workflows.
type AccountService struct {
	users      *UserService
	audit      *AuditService
	notifier   AccountNotifier
	sessions   SessionRevoker
	events     EventPublisher
	generators map[token.Purpose]*token.Generator
	validator  *token.Validator
	log        *zap.Logger
}

// NewAccountService wires the workflow around the user store, token codec and notifier.
func NewAccountService(users *UserService, audit *AuditService, notifier AccountNotifier, cfg AccountServiceConfig, opts ...AccountOption) (*AccountService, error) {
	if users == nil {
		return nil, errors.New("account service: user service is required")
	}
	if notifier == nil {
		return nil, errors.New("account service: notifier is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("account service: token codec is required")
	}

	var genOpts []token.GeneratorOption
	if cfg.Clock != nil {
		genOpts = append(genOpts, token.WithGeneratorClock(cfg.Clock))
	}

	verification, err := token.NewGenerator(cfg.Codec, token.PurposeAccountVerification, cfg.VerificationLifetime, genOpts...)
	if err != nil {
		return nil, fmt.Errorf("account service: %w", err)
	}
	recovery, err := token.NewGenerator(cfg.Codec, token.PurposePasswordRecovery, cfg.RecoveryLifetime, genOpts...)
	if err != nil {
		return nil, fmt.Errorf("account service: %w", err)
	}
	validator, err := token.NewValidator(cfg.Codec, users)
	if err != nil {
		return nil, fmt.Errorf("account service: %w", err)
	}

	s := &AccountService{
		users:    users,
		audit:    audit,
		notifier: notifier,
		generators: map[token.Purpose]*token.Generator{
			token.PurposeAccountVerification: verification,
			token.PurposePasswordRecovery:    recovery,
		},
		validator: validator,
		log:       logger.WithModule("accounts"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Signup creates an unverified user and mails it a verification token.
func (s *AccountService) Signup(ctx context.Context, input SignupInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.Create(ctx, CreateUserInput{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, userAuditEntry(user, AuditUserSignup, "success", nil))
	s.publish(ctx, user, realtime.EventAccountSignup)

	if err := s.issue(ctx, user, token.PurposeAccountVerification); err != nil {
		return nil, err
	}
	return user, nil
}

// SendActivation (re)issues a verification token for an unverified account.
func (s *AccountService) SendActivation(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidEmail
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}

	if err := s.issue(ctx, user, token.PurposeAccountVerification); err != nil {
		return err
	}
	recordAudit(s.audit, ctx, userAuditEntry(user, AuditActivationSent, "success", nil))
	s.publish(ctx, user, realtime.EventActivationSent)
	return nil
}

// CheckActivation reports whether raw would activate an account, without consuming it.
func (s *AccountService) CheckActivation(ctx context.Context, raw string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.resolve(ctx, raw, token.PurposeAccountVerification)
	if err != nil {
		return nil, err
	}
	if user.IsVerified {
		return nil, ErrAlreadyVerified
	}
	return user, nil
}

// Activate consumes a verification token and marks the account verified.
// A second activation with the same token fails with ErrAlreadyVerified.
func (s *AccountService) Activate(ctx context.Context, raw string) (*models.User, error) {
	ctx = ensureContext(ctx)
	purpose := token.PurposeAccountVerification

	user, err := s.resolve(ctx, raw, purpose)
	if err != nil {
		s.countConsumed(purpose, err)
		return nil, err
	}
	if user.IsVerified {
		s.countConsumed(purpose, ErrAlreadyVerified)
		return nil, ErrAlreadyVerified
	}

	changed, err := s.users.MarkVerified(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("account service: activate: %w", err)
	}
	if !changed {
		s.countConsumed(purpose, ErrAlreadyVerified)
		return nil, ErrAlreadyVerified
	}
	user.IsVerified = true
	s.countConsumed(purpose, nil)

	recordAudit(s.audit, ctx, userAuditEntry(user, AuditUserActivated, "success", nil))
	s.publish(ctx, user, realtime.EventAccountVerified)
	return user, nil
}

// SendRecovery issues a password recovery token for the account.
func (s *AccountService) SendRecovery(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidEmail.WithMessage("Email used to obtain recovery token is not valid")
	}

	if err := s.issue(ctx, user, token.PurposePasswordRecovery); err != nil {
		return err
	}
	recordAudit(s.audit, ctx, userAuditEntry(user, AuditRecoverySent, "success", nil))
	s.publish(ctx, user, realtime.EventRecoverySent)
	return nil
}

// CheckRecovery reports whether raw is a usable recovery token, without consuming it.
func (s *AccountService) CheckRecovery(ctx context.Context, raw string) (*models.User, error) {
	return s.resolve(ensureContext(ctx), raw, token.PurposePasswordRecovery)
}

// Recover replaces the password of the token's owner and revokes the
// owner's login sessions. Recovery tokens stay usable until they expire.
func (s *AccountService) Recover(ctx context.Context, raw, password string) (*models.User, error) {
	ctx = ensureContext(ctx)
	purpose := token.PurposePasswordRecovery

	user, err := s.resolve(ctx, raw, purpose)
	if err != nil {
		s.countConsumed(purpose, err)
		return nil, err
	}

	if err := s.users.SetPassword(ctx, user.ID, password); err != nil {
		s.countConsumed(purpose, err)
		return nil, err
	}
	s.countConsumed(purpose, nil)

	if s.sessions != nil {
		revoked, err := s.sessions.RevokeUserSessions(ctx, user.ID)
		if err != nil {
			s.log.Warn("revoke sessions after password recovery", zap.String("user_id", user.ID), zap.Error(err))
		} else if revoked > 0 {
			s.log.Info("revoked sessions after password recovery", zap.String("user_id", user.ID), zap.Int64("sessions", revoked))
		}
	}

	recordAudit(s.audit, ctx, userAuditEntry(user, AuditPasswordRecovered, "success", nil))
	s.publish(ctx, user, realtime.EventPasswordChanged)
	return user, nil
}

func (s *AccountService) issue(ctx context.Context, user *models.User, purpose token.Purpose) error {
	raw, expiresAt, err := s.generators[purpose].MakeToken(user, map[string]any{claimPurpose: string(purpose)})
	if err != nil {
		return fmt.Errorf("account service: issue %s token: %w", purpose, err)
	}
	metrics.TokensIssued.WithLabelValues(string(purpose)).Inc()
	s.log.Debug("issued account token",
		zap.String("purpose", string(purpose)),
		zap.String("user_id", user.ID),
		zap.Time("expires_at", expiresAt))

	s.notifier.Send(ctx, user, purpose, raw)
	return nil
}

// resolve validates raw for purpose and maps token failures onto the
// account error taxonomy.
func (s *AccountService) resolve(ctx context.Context, raw string, purpose token.Purpose) (*models.User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	user, err := s.validator.Validate(ctx, raw, map[string]any{claimPurpose: string(purpose)})
	if err == nil {
		return user, nil
	}

	switch {
	case errors.Is(err, token.ErrExpired):
		if purpose == token.PurposePasswordRecovery {
			return nil, ErrExpiredToken.WithMessage("Token used to password recovery has expired")
		}
		return nil, ErrExpiredToken
	case errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrUnknownIdentity),
		errors.Is(err, token.ErrClaimMismatch):
		if purpose == token.PurposePasswordRecovery {
			return nil, ErrInvalidToken.WithMessage("Token used to password recovery is not valid")
		}
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("account service: validate token: %w", err)
	}
}

func (s *AccountService) publish(ctx context.Context, user *models.User, event string) {
	if s.events == nil || user == nil {
		return
	}
	s.events.Publish(ctx, realtime.StreamAccount, user.ID, realtime.Message{
		Event: event,
		Data: map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"verified": user.IsVerified,
		},
	})
}

func (s *AccountService) countConsumed(purpose token.Purpose, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrExpiredToken):
		result = "expired"
	case errors.Is(err, ErrAlreadyVerified):
		result = "already_verified"
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		result = "invalid"
	default:
		result = "error"
	}
	metrics.TokensConsumed.WithLabelValues(string(purpose), result).Inc()
}
