package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// PlanModel is the persistence model for a subscription plan.
type PlanModel struct {
	AggregateModel
	TenantID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_plan_tenant_code,priority:1"`
	Code     string           `gorm:"type:varchar(50);not null;uniqueIndex:idx_plan_tenant_code,priority:2"`
	Name     string           `gorm:"type:varchar(200);not null"`
	Interval billing.Interval `gorm:"column:billing_interval;type:varchar(10);not null"`
	Price    decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Active   bool             `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (PlanModel) TableName() string {
	return "plans"
}

// ToDomain converts the persistence model to a domain Plan.
func (m *PlanModel) ToDomain() *billing.Plan {
	p := &billing.Plan{
		Code:     m.Code,
		Name:     m.Name,
		Interval: m.Interval,
		Price:    m.Price,
		Active:   m.Active,
	}
	m.PopulateAggregateRoot(&p.BaseAggregateRoot)
	p.TenantID = m.TenantID
	return p
}

// FromDomain populates the persistence model from a domain Plan.
func (m *PlanModel) FromDomain(p *billing.Plan) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.TenantID = p.TenantID
	m.Code = p.Code
	m.Name = p.Name
	m.Interval = p.Interval
	m.Price = p.Price
	m.Active = p.Active
}

// SubscriptionModel is the persistence model for a customer subscription.
type SubscriptionModel struct {
	TenantAggregateModel
	CustomerRef      string                     `gorm:"type:varchar(100);not null;index"`
	PlanID           uuid.UUID                  `gorm:"type:uuid;not null;index"`
	Status           billing.SubscriptionStatus `gorm:"type:varchar(20);not null;index"`
	CurrentPeriodEnd *time.Time
	LastPaymentID    *uuid.UUID `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToDomain converts the persistence model to a domain Subscription.
func (m *SubscriptionModel) ToDomain() *billing.Subscription {
	s := &billing.Subscription{
		CustomerRef:      m.CustomerRef,
		PlanID:           m.PlanID,
		Status:           m.Status,
		CurrentPeriodEnd: m.CurrentPeriodEnd,
		LastPaymentID:    m.LastPaymentID,
	}
	m.PopulateTenantAggregateRoot(&s.TenantAggregateRoot)
	return s
}

// FromDomain populates the persistence model from a domain Subscription.
func (m *SubscriptionModel) FromDomain(s *billing.Subscription) {
	m.FromDomainTenantAggregateRoot(s.TenantAggregateRoot)
	m.CustomerRef = s.CustomerRef
	m.PlanID = s.PlanID
	m.Status = s.Status
	m.CurrentPeriodEnd = s.CurrentPeriodEnd
	m.LastPaymentID = s.LastPaymentID
}
