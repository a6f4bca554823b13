package models

import "github.com/invoicer/backend/internal/domain/identity"

// TenantModel is the persistence model for the Tenant aggregate root.
type TenantModel struct {
	AggregateModel
	Code     string                `gorm:"type:varchar(50);not null;uniqueIndex"`
	Name     string                `gorm:"type:varchar(200);not null"`
	Status   identity.TenantStatus `gorm:"type:varchar(20);not null;default:'active';index"`
	Country  string                `gorm:"type:varchar(2);not null;default:'KE'"`
	Currency string                `gorm:"type:varchar(3);not null;default:'KES'"`
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// ToDomain converts the persistence model to a domain Tenant entity.
func (m *TenantModel) ToDomain() *identity.Tenant {
	t := &identity.Tenant{
		Code:     m.Code,
		Name:     m.Name,
		Status:   m.Status,
		Country:  m.Country,
		Currency: m.Currency,
	}
	m.PopulateAggregateRoot(&t.BaseAggregateRoot)
	return t
}

// FromDomain populates the persistence model from a domain Tenant entity.
func (m *TenantModel) FromDomain(t *identity.Tenant) {
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	m.Code = t.Code
	m.Name = t.Name
	m.Status = t.Status
	m.Country = t.Country
	m.Currency = t.Currency
}

// TenantModelFromDomain creates a new persistence model from a domain Tenant entity.
func TenantModelFromDomain(t *identity.Tenant) *TenantModel {
	m := &TenantModel{}
	m.FromDomain(t)
	return m
}
