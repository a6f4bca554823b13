package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/shared"
)

// SubscriptionStatus is the lifecycle status of a subscription
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription binds a customer to a plan
type Subscription struct {
	shared.TenantAggregateRoot
	CustomerRef      string
	PlanID           uuid.UUID
	Status           SubscriptionStatus
	CurrentPeriodEnd *time.Time
	LastPaymentID    *uuid.UUID
}

// NewSubscription creates a subscription awaiting its first payment
func NewSubscription(tenantID uuid.UUID, customerRef string, plan *Plan) (*Subscription, error) {
	if customerRef == "" {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer reference is required")
	}
	if plan == nil || !plan.Active {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan is not available")
	}
	return &Subscription{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		CustomerRef:         customerRef,
		PlanID:              plan.ID,
		Status:              SubscriptionPending,
	}, nil
}

// Activate records a payment for the subscription and extends its period by
// one plan interval from the later of now and the current period end.
// Applying the same payment twice is a no-op.
func (s *Subscription) Activate(plan *Plan, paymentID uuid.UUID, paidAt time.Time) error {
	if s.Status == SubscriptionCancelled {
		return shared.NewDomainError("INVALID_STATE", "Cancelled subscriptions cannot be activated")
	}
	if plan == nil || plan.ID != s.PlanID {
		return shared.NewDomainError("INVALID_PLAN", "Payment does not match the subscription plan")
	}
	if s.LastPaymentID != nil && *s.LastPaymentID == paymentID {
		return nil
	}

	start := paidAt
	if s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(start) {
		start = *s.CurrentPeriodEnd
	}
	end := start.AddDate(0, 1, 0)
	if plan.Interval == IntervalYearly {
		end = start.AddDate(1, 0, 0)
	}

	s.Status = SubscriptionActive
	s.CurrentPeriodEnd = &end
	s.LastPaymentID = &paymentID
	s.UpdatedAt = paidAt
	return nil
}

// IsActive reports whether the subscription is active at t
func (s *Subscription) IsActive(t time.Time) bool {
	return s.Status == SubscriptionActive && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(t)
}

// Cancel stops the subscription
func (s *Subscription) Cancel(at time.Time) {
	s.Status = SubscriptionCancelled
	s.UpdatedAt = at
}
