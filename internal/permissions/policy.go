// Package permissions expresses endpoint access rules as ordered lists of
// capability checks.
package permissions

import (
	"net/http"

	"github.com/charlesng35/tenantauth/internal/models"
	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
)

var (
	// ErrAPIKeyRequired denies requests that did not present a usable organization API key.
	ErrAPIKeyRequired = apperrors.New("API_KEY_REQUIRED", "A valid organization API key is required", http.StatusForbidden)
	// ErrNotVerified denies authenticated users whose email is not verified yet.
	ErrNotVerified = apperrors.New("ACCOUNT_NOT_VERIFIED", "Account email address is not verified", http.StatusForbidden)
)

// Principal is what a request has proven about itself so far.
type Principal struct {
	OrganizationID string
	APIKeyID       string
	User           *models.User
}

// Capability is a single named predicate over a Principal. Denial is the
// error reported when the predicate does not hold.
type Capability struct {
	Name   string
	Check  func(Principal) bool
	Denial *apperrors.AppError
}

// Built-in capabilities.
var (
	HasOrganizationAPIKey = Capability{
		Name:   "has_organization_api_key",
		Check:  func(p Principal) bool { return p.OrganizationID != "" },
		Denial: ErrAPIKeyRequired,
	}
	IsAuthenticated = Capability{
		Name:   "is_authenticated",
		Check:  func(p Principal) bool { return p.User != nil && p.User.IsActive },
		Denial: apperrors.ErrUnauthorized,
	}
	IsAuthenticatedAndVerified = Capability{
		Name: "is_authenticated_and_verified",
		Check: func(p Principal) bool {
			return p.User != nil && p.User.IsActive && p.User.IsVerified
		},
		Denial: ErrNotVerified,
	}
)

// Policy is an ordered list of capabilities; every one must hold.
type Policy struct {
	name         string
	capabilities []Capability
}

// NewPolicy builds a policy from capabilities evaluated in order.
func NewPolicy(name string, capabilities ...Capability) *Policy {
	return &Policy{name: name, capabilities: append([]Capability(nil), capabilities...)}
}

// Extend returns a new policy that runs p's capabilities followed by capabilities.
func (p *Policy) Extend(name string, capabilities ...Capability) *Policy {
	combined := make([]Capability, 0, len(p.capabilities)+len(capabilities))
	combined = append(combined, p.capabilities...)
	combined = append(combined, capabilities...)
	return &Policy{name: name, capabilities: combined}
}

// Name identifies the policy in logs and metrics.
func (p *Policy) Name() string {
	return p.name
}

// Capabilities lists capability names in evaluation order.
func (p *Policy) Capabilities() []string {
	names := make([]string, len(p.capabilities))
	for i, c := range p.capabilities {
		names[i] = c.Name
	}
	return names
}

// Evaluate returns the denial of the first capability that does not hold,
// or nil when the principal satisfies the policy.
func (p *Policy) Evaluate(principal Principal) *apperrors.AppError {
	for _, c := range p.capabilities {
		if c.Check == nil || !c.Check(principal) {
			if c.Denial == nil {
				return apperrors.ErrForbidden
			}
			return c.Denial
		}
	}
	return nil
}

// Endpoint policies.
var (
	OrganizationAPIKeyPolicy       = NewPolicy("organization_api_key", HasOrganizationAPIKey)
	AuthenticatedPolicy            = OrganizationAPIKeyPolicy.Extend("authenticated", IsAuthenticated)
	AuthenticatedAndVerifiedPolicy = AuthenticatedPolicy.Extend("authenticated_and_verified", IsAuthenticatedAndVerified)
	UserPolicy                     = AuthenticatedAndVerifiedPolicy.Extend("user")
)
