package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanRepository persists plans
type PlanRepository interface {
	Create(ctx context.Context, plan *Plan) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Plan, error)
}

// SubscriptionRepository persists subscriptions
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)
	// MonthlyRecurringRevenue sums the monthly-normalised price of every
	// subscription active at asOf, joining the plans table for the price.
	MonthlyRecurringRevenue(ctx context.Context, tenantID uuid.UUID, asOf time.Time) (decimal.Decimal, error)
}
