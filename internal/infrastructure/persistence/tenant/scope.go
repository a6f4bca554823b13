// Package tenant provides GORM scopes that keep repository queries inside
// one tenant's rows.
//
// Usage:
//
//	db.Scopes(tenant.Scope(tenantID)).Find(&docs) // WHERE tenant_id = 'xxx'
//	db.Scopes(tenant.ScopeFor("d", tenantID))      // WHERE d.tenant_id = 'xxx'
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// ErrTenantIDRequired is returned when tenant_id is required but not found
var ErrTenantIDRequired = errors.New("tenant_id is required but not found in context")

// ErrInvalidTenantID is returned when tenant_id format is invalid
var ErrInvalidTenantID = errors.New("invalid tenant_id format")

// Scope applies tenant filtering to GORM queries. A nil tenant id fails the
// statement instead of silently reading every tenant.
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return ScopeFor("", tenantID)
}

// ScopeFor is Scope with the column qualified by a table name or alias, for joins.
func ScopeFor(table string, tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	column := "tenant_id"
	if table != "" {
		column = table + ".tenant_id"
	}
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == uuid.Nil {
			_ = db.AddError(ErrTenantIDRequired)
			return db
		}
		return db.Where(column+" = ?", tenantID)
	}
}

// FromContext returns the tenant id the HTTP middleware stored on ctx.
func FromContext(ctx context.Context) (uuid.UUID, error) {
	raw := logger.GetTenantID(ctx)
	if raw == "" {
		return uuid.Nil, ErrTenantIDRequired
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidTenantID
	}
	return id, nil
}
