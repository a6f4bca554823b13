package billing

import (
	"strings"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Interval is the billing period of a plan
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

var twelve = decimal.NewFromInt(12)

// Plan is a priced subscription offering
type Plan struct {
	shared.TenantAggregateRoot
	Code     string
	Name     string
	Interval Interval
	Price    decimal.Decimal
	Active   bool
}

// NewPlan creates an active plan
func NewPlan(tenantID uuid.UUID, code, name string, interval Interval, price decimal.Decimal) (*Plan, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, shared.NewDomainError("INVALID_CODE", "Plan code is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Plan name is required")
	}
	if interval != IntervalMonthly && interval != IntervalYearly {
		return nil, shared.NewDomainError("INVALID_INTERVAL", "Plan interval must be monthly or yearly")
	}
	if !price.IsPositive() {
		return nil, shared.NewDomainError("INVALID_PRICE", "Plan price must be positive")
	}
	return &Plan{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Code:                code,
		Name:                strings.TrimSpace(name),
		Interval:            interval,
		Price:               price.Round(2),
		Active:              true,
	}, nil
}

// MonthlyAmount normalises the plan price to one month.
func (p *Plan) MonthlyAmount() decimal.Decimal {
	if p.Interval == IntervalYearly {
		return p.Price.Div(twelve).Round(2)
	}
	return p.Price
}
