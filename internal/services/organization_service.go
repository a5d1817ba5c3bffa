package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/pkg/crypto"
	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
)

var (
	// ErrOrganizationNotFound indicates the requested organization does not exist.
	ErrOrganizationNotFound = apperrors.New("ORGANIZATION_NOT_FOUND", "Organization not found", http.StatusNotFound)
	// ErrAPIKeyNotFound indicates the requested API key does not exist.
	ErrAPIKeyNotFound = apperrors.New("API_KEY_NOT_FOUND", "API key not found", http.StatusNotFound)
	// ErrInvalidAPIKey is returned for missing, unknown, revoked or expired
	// keys and for keys whose organization is disabled.
	ErrInvalidAPIKey = apperrors.New("INVALID_API_KEY", "A valid organization API key is required", http.StatusForbidden)
)

// CreateOrganizationInput captures the attributes required to register an organization.
type CreateOrganizationInput struct {
	Name     string
	Settings map[string]any
}

// CreateAPIKeyInput describes a key to issue for an organization.
type CreateAPIKeyInput struct {
	Name      string
	ExpiresAt *time.Time
}

// IssuedAPIKey pairs the stored key record with its plaintext, which is
// available only at creation time.
type IssuedAPIKey struct {
	Key    string
	Record *models.OrganizationAPIKey
}

// OrganizationService manages organizations and the API keys their clients present.
type OrganizationService struct {
	db           *gorm.DB
	auditService *AuditService
	now          func() time.Time
}

// NewOrganizationService constructs an OrganizationService instance.
func NewOrganizationService(db *gorm.DB, auditService *AuditService) (*OrganizationService, error) {
	if db == nil {
		return nil, errors.New("organization service: db is required")
	}
	return &OrganizationService{
		db:           db,
		auditService: auditService,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create registers a new organization.
func (s *OrganizationService) Create(ctx context.Context, input CreateOrganizationInput) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("organization name is required").WithField("name")
	}

	org := &models.Organization{Name: name, Active: true}
	if input.Settings != nil {
		data, err := json.Marshal(input.Settings)
		if err != nil {
			return nil, fmt.Errorf("organization service: marshal settings: %w", err)
		}
		org.Settings = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("organization name already exists").WithField("name")
		}
		return nil, fmt.Errorf("organization service: create organization: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "org.create",
		Result:   "success",
		Metadata: map[string]any{"organization_id": org.ID, "name": org.Name},
	})

	return org, nil
}

// GetByName loads an organization by its unique name.
func (s *OrganizationService) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "name = ?", strings.TrimSpace(name)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: get organization: %w", err)
	}
	return &org, nil
}

// SetActive enables or disables an organization. Keys of a disabled
// organization stop authenticating.
func (s *OrganizationService) SetActive(ctx context.Context, orgID string, active bool) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.Organization{}).
		Where("id = ?", orgID).
		Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("organization service: set active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOrganizationNotFound
	}
	return nil
}

// CreateAPIKey issues a new key for the organization. Only the prefix and
// digest are persisted.
func (s *OrganizationService) CreateAPIKey(ctx context.Context, orgID string, input CreateAPIKeyInput) (*IssuedAPIKey, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "default"
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("organization service: load organization: %w", err)
	}

	generated, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("organization service: %w", err)
	}

	record := &models.OrganizationAPIKey{
		OrganizationID: org.ID,
		Name:           name,
		Prefix:         generated.Prefix,
		HashedKey:      generated.Hash,
		ExpiresAt:      input.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("organization service: create api key: %w", err)
	}
	record.Organization = &org

	recordAudit(s.auditService, ctx, AuditEntry{
		Action: "org.api_key.create",
		Result: "success",
		Metadata: map[string]any{
			"organization_id": org.ID,
			"api_key_id":      record.ID,
			"prefix":          record.Prefix,
		},
	})

	return &IssuedAPIKey{Key: generated.Key, Record: record}, nil
}

// ListAPIKeys returns the keys issued for an organization, newest first.
func (s *OrganizationService) ListAPIKeys(ctx context.Context, orgID string) ([]models.OrganizationAPIKey, error) {
	ctx = ensureContext(ctx)

	var keys []models.OrganizationAPIKey
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("organization service: list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key as revoked.
func (s *OrganizationService) RevokeAPIKey(ctx context.Context, keyID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.OrganizationAPIKey{}).
		Where("id = ?", keyID).
		Update("revoked", true)
	if result.Error != nil {
		return fmt.Errorf("organization service: revoke api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "org.api_key.revoke",
		Result:   "success",
		Metadata: map[string]any{"api_key_id": keyID},
	})
	return nil
}

// AuthenticateAPIKey resolves a presented key to its record with the owning
// organization loaded.
func (s *OrganizationService) AuthenticateAPIKey(ctx context.Context, presented string) (*models.OrganizationAPIKey, error) {
	ctx = ensureContext(ctx)

	prefix, err := crypto.SplitAPIKey(presented)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}

	var key models.OrganizationAPIKey
	err = s.db.WithContext(ctx).Preload("Organization").First(&key, "prefix = ?", prefix).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: lookup api key: %w", err)
	}

	if !crypto.EqualHash(key.HashedKey, crypto.HashToken(strings.TrimSpace(presented))) {
		return nil, ErrInvalidAPIKey
	}
	if !key.Usable(s.now()) || key.Organization == nil || !key.Organization.Active {
		return nil, ErrInvalidAPIKey
	}
	return &key, nil
}
