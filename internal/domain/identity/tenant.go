package identity

import (
	"regexp"
	"strings"
	"time"

	"github.com/invoicer/backend/internal/domain/shared"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// TenantStatus represents the status of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// DefaultCountry is the ISO 3166 region used to interpret local phone numbers.
const DefaultCountry = "KE"

var tenantCodePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// ErrTenantSuspended is returned for writes against a suspended tenant.
var ErrTenantSuspended = shared.NewDomainError("TENANT_SUSPENDED", "Tenant account is suspended")

// Tenant is the isolation boundary for every ledger record. Only its status
// changes after creation.
type Tenant struct {
	shared.BaseAggregateRoot
	Code     string
	Name     string
	Status   TenantStatus
	Country  string
	Currency string
}

// NewTenant creates an active tenant. The currency follows the country.
func NewTenant(code, name, country string) (*Tenant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, shared.NewDomainError("INVALID_CODE", "Tenant code cannot be empty")
	}
	if len(code) > 50 || !tenantCodePattern.MatchString(code) {
		return nil, shared.NewDomainError("INVALID_CODE", "Tenant code can only contain letters, digits, '-' and '_' (max 50)")
	}
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Tenant name cannot be empty")
	}
	if country == "" {
		country = DefaultCountry
	}
	region, err := language.ParseRegion(strings.TrimSpace(country))
	if err != nil || !region.IsCountry() {
		return nil, shared.NewDomainError("INVALID_COUNTRY", "Tenant country must be an ISO 3166 country code")
	}
	unit, ok := currency.FromRegion(region)
	if !ok {
		return nil, shared.NewDomainError("INVALID_COUNTRY", "No currency is in use in "+region.String())
	}

	return &Tenant{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Code:              code,
		Name:              strings.TrimSpace(name),
		Status:            TenantStatusActive,
		Country:           region.String(),
		Currency:          unit.String(),
	}, nil
}

// IsActive reports whether the tenant may transact.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// Suspend blocks the tenant from further writes.
func (t *Tenant) Suspend() error {
	if t.Status == TenantStatusSuspended {
		return shared.NewDomainError("INVALID_STATE", "Tenant is already suspended")
	}
	t.Status = TenantStatusSuspended
	t.touch()
	return nil
}

// Activate lifts a suspension.
func (t *Tenant) Activate() error {
	if t.Status == TenantStatusActive {
		return shared.NewDomainError("INVALID_STATE", "Tenant is already active")
	}
	t.Status = TenantStatusActive
	t.touch()
	return nil
}

// EnsureActive returns ErrTenantSuspended unless the tenant is active.
func (t *Tenant) EnsureActive() error {
	if !t.IsActive() {
		return ErrTenantSuspended
	}
	return nil
}

func (t *Tenant) touch() {
	t.UpdatedAt = time.Now()
	t.IncrementVersion()
}
