package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/pkg/crypto"
	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
	"github.com/charlesng35/tenantauth/pkg/validator"
)

const (
	// DefaultPasswordMinLength is the shortest password accepted at signup and recovery.
	DefaultPasswordMinLength = 10
	// DefaultPasswordMaxLength is the longest password accepted at signup and recovery.
	DefaultPasswordMaxLength = 60

	defaultUserListLimit = 10
	maxUserListLimit     = 200
)

// ErrUserNotFound indicates the requested user does not exist.
var ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)

// UserServiceConfig bounds the password policy enforced by the service.
type UserServiceConfig struct {
	PasswordMinLength int
	PasswordMaxLength int
}

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Username string
	Email    string
	Password string
	IsStaff  bool
}

// UserFilters captures the lookups accepted by the user listing.
type UserFilters struct {
	Username           string
	UsernameStartsWith string
	UsernameContains   string
	Email              string
	EmailStartsWith    string
	EmailContains      string
}

// ListUsersOptions controls filtering, ordering and limit/offset pagination.
type ListUsersOptions struct {
	Filters  UserFilters
	Ordering string
	Limit    int
	Offset   int
}

var userOrderings = map[string]string{
	"username":  "username ASC",
	"-username": "username DESC",
	"email":     "email ASC",
	"-email":    "email DESC",
}

// UserService manages users: creation, lookup, credentials and verification state.
type UserService struct {
	db           *gorm.DB
	auditService *AuditService
	minPassword  int
	maxPassword  int
	now          func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, auditService *AuditService, cfg UserServiceConfig) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}

	minLen := cfg.PasswordMinLength
	if minLen <= 0 {
		minLen = DefaultPasswordMinLength
	}
	maxLen := cfg.PasswordMaxLength
	if maxLen <= 0 {
		maxLen = DefaultPasswordMaxLength
	}
	if maxLen < minLen {
		return nil, fmt.Errorf("user service: password max length %d is below min length %d", maxLen, minLen)
	}

	return &UserService{
		db:           db,
		auditService: auditService,
		minPassword:  minLen,
		maxPassword:  maxLen,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// ValidatePassword enforces the configured length bounds.
func (s *UserService) ValidatePassword(password string) error {
	length := len([]rune(password))
	if length < s.minPassword || length > s.maxPassword {
		return ErrInvalidPassword.WithMessage(
			fmt.Sprintf("Password must be between %d and %d characters", s.minPassword, s.maxPassword))
	}
	return nil
}

// Create provisions a new unverified user with a hashed password.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	email := normalizeEmail(input.Email)
	if username == "" {
		return nil, apperrors.NewBadRequest("username is required").WithField("username")
	}
	if err := validator.ValidateVar(username, "max=150,username"); err != nil {
		return nil, apperrors.NewBadRequest("username may contain only letters, digits and @/./+/-/_").WithField("username")
	}
	if err := validator.ValidateVar(email, "required,email,max=254"); err != nil {
		return nil, apperrors.NewBadRequest("a valid email address is required").WithField("email")
	}
	if err := s.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Username: username,
		Email:    email,
		Password: hashed,
		IsActive: true,
		IsStaff:  input.IsStaff,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("username or email already exists")
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	return user, nil
}

// FindByEmail resolves a user by email, case-insensitively. It returns
// (nil, nil) when no user matches.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = normalizeEmail(email)
	if email == "" {
		return nil, nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find by email: %w", err)
	}
	return &user, nil
}

// GetByID loads a user by identifier. Malformed identifiers are reported as not found.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// Authenticate checks an email/password pair. Unknown emails, wrong
// passwords and inactive accounts all yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive || !crypto.VerifyPassword(user.Password, password) {
		recordAudit(s.auditService, ctx, userAuditEntry(user, AuditLoginFailed, "failure", map[string]any{
			"email": normalizeEmail(email),
		}))
		return nil, apperrors.ErrInvalidCredentials
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("user service: record login: %w", err)
	}
	user.LastLoginAt = &now

	recordAudit(s.auditService, ctx, userAuditEntry(user, AuditLoginSucceeded, "success", nil))
	return user, nil
}

// List retrieves users matching the supplied filters along with the total match count.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultUserListLimit
	}
	if limit > maxUserListLimit {
		limit = maxUserListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := applyUserFilters(s.db.WithContext(ctx).Model(&models.User{}), opts.Filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	order, ok := userOrderings[strings.TrimSpace(opts.Ordering)]
	if !ok {
		order = "created_at ASC"
	}

	var users []models.User
	if err := query.Order(order).Order("id ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}
	return users, total, nil
}

// MarkVerified flips is_verified for an unverified user. It reports false
// when the user was already verified, so concurrent activations of the same
// account succeed exactly once.
func (s *UserService) MarkVerified(ctx context.Context, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).
			Where("id = ? AND is_verified = ?", userID, false).
			Updates(map[string]any{"is_verified": true, "updated_at": s.now()})
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("user service: mark verified: %w", err)
	}
	return affected == 1, nil
}

// SetPassword validates and replaces the stored password hash.
func (s *UserService) SetPassword(ctx context.Context, userID, password string) error {
	ctx = ensureContext(ctx)

	if err := s.ValidatePassword(password); err != nil {
		return err
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("user service: hash password: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"password": hashed, "updated_at": s.now()})
	if result.Error != nil {
		return fmt.Errorf("user service: set password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func applyUserFilters(query *gorm.DB, filters UserFilters) *gorm.DB {
	if v := strings.TrimSpace(filters.Username); v != "" {
		query = query.Where("username = ?", v)
	}
	if v := strings.TrimSpace(filters.UsernameStartsWith); v != "" {
		query = query.Where("username LIKE ? ESCAPE '!'", escapeLike(v)+"%")
	}
	if v := strings.TrimSpace(filters.UsernameContains); v != "" {
		query = query.Where("username LIKE ? ESCAPE '!'", "%"+escapeLike(v)+"%")
	}
	if v := strings.TrimSpace(filters.Email); v != "" {
		query = query.Where("email = ?", normalizeEmail(v))
	}
	if v := strings.TrimSpace(filters.EmailStartsWith); v != "" {
		query = query.Where("email LIKE ? ESCAPE '!'", escapeLike(strings.ToLower(v))+"%")
	}
	if v := strings.TrimSpace(filters.EmailContains); v != "" {
		query = query.Where("email LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(v))+"%")
	}
	return query
}

// '!' is used as the LIKE escape character because backslash is itself an
// escape inside MySQL string literals.
var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
