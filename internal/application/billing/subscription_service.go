package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/billing"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreatePlanRequest creates a priced plan
type CreatePlanRequest struct {
	Code     string          `json:"code" binding:"required,max=50"`
	Name     string          `json:"name" binding:"required,max=200"`
	Interval string          `json:"interval" binding:"required,oneof=monthly yearly"`
	Price    decimal.Decimal `json:"price"`
}

// PlanResponse is a plan as returned by the API
type PlanResponse struct {
	ID       uuid.UUID       `json:"id"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Interval string          `json:"interval"`
	Price    decimal.Decimal `json:"price"`
	Monthly  decimal.Decimal `json:"monthly_amount"`
	Active   bool            `json:"active"`
}

// CreateSubscriptionRequest subscribes a customer to a plan. The
// subscription stays pending until its first payment.
type CreateSubscriptionRequest struct {
	CustomerRef string    `json:"customer_ref" binding:"required,max=100"`
	PlanID      uuid.UUID `json:"plan_id" binding:"required"`
}

// SubscriptionResponse is a subscription as returned by the API
type SubscriptionResponse struct {
	ID               uuid.UUID  `json:"id"`
	CustomerRef      string     `json:"customer_ref"`
	PlanID           uuid.UUID  `json:"plan_id"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	LastPaymentID    *uuid.UUID `json:"last_payment_id,omitempty"`
}

// MRRResponse is the monthly recurring revenue of a tenant
type MRRResponse struct {
	AsOf   time.Time       `json:"as_of"`
	Amount decimal.Decimal `json:"amount"`
}

// SubscriptionService manages plans and subscriptions. Subscriptions are
// activated by payments through the reconciler, never here.
type SubscriptionService struct {
	plans         billing.PlanRepository
	subscriptions billing.SubscriptionRepository
	tenants       identity.TenantRepository
	logger        *zap.Logger
	now           func() time.Time
}

// SubscriptionServiceConfig contains configuration for SubscriptionService
type SubscriptionServiceConfig struct {
	Plans         billing.PlanRepository
	Subscriptions billing.SubscriptionRepository
	Tenants       identity.TenantRepository
	Logger        *zap.Logger
	Now           func() time.Time
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(config SubscriptionServiceConfig) *SubscriptionService {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &SubscriptionService{
		plans:         config.Plans,
		subscriptions: config.Subscriptions,
		tenants:       config.Tenants,
		logger:        logger,
		now:           now,
	}
}

// CreatePlan adds a plan to the tenant's catalogue
func (s *SubscriptionService) CreatePlan(ctx context.Context, tenantID uuid.UUID, req CreatePlanRequest) (*PlanResponse, error) {
	if err := s.ensureActive(ctx, tenantID); err != nil {
		return nil, err
	}
	plan, err := billing.NewPlan(tenantID, req.Code, req.Name, billing.Interval(req.Interval), req.Price)
	if err != nil {
		return nil, err
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, err
	}

	s.logger.Info("Plan created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("code", plan.Code),
		zap.String("price", plan.Price.StringFixed(2)))
	return toPlanResponse(plan), nil
}

// CreateSubscription subscribes a customer to an active plan
func (s *SubscriptionService) CreateSubscription(ctx context.Context, tenantID uuid.UUID, req CreateSubscriptionRequest) (*SubscriptionResponse, error) {
	if err := s.ensureActive(ctx, tenantID); err != nil {
		return nil, err
	}
	plan, err := s.plans.FindByID(ctx, tenantID, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %s: %w", req.PlanID, shared.ErrNotFound)
	}
	sub, err := billing.NewSubscription(tenantID, req.CustomerRef, plan)
	if err != nil {
		return nil, err
	}
	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return nil, err
	}
	return toSubscriptionResponse(sub), nil
}

// GetSubscription returns one subscription
func (s *SubscriptionService) GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*SubscriptionResponse, error) {
	sub, err := s.subscriptions.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %s: %w", id, shared.ErrNotFound)
	}
	return toSubscriptionResponse(sub), nil
}

// CancelSubscription stops a subscription. It drops out of recurring
// revenue immediately.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, tenantID, id uuid.UUID) (*SubscriptionResponse, error) {
	if err := s.ensureActive(ctx, tenantID); err != nil {
		return nil, err
	}
	sub, err := s.subscriptions.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %s: %w", id, shared.ErrNotFound)
	}
	if sub.Status == billing.SubscriptionCancelled {
		return toSubscriptionResponse(sub), nil
	}
	sub.Cancel(s.now())
	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return nil, err
	}
	return toSubscriptionResponse(sub), nil
}

// MonthlyRecurringRevenue sums the monthly price of the tenant's active
// subscriptions, priced from the plans table.
func (s *SubscriptionService) MonthlyRecurringRevenue(ctx context.Context, tenantID uuid.UUID) (*MRRResponse, error) {
	asOf := s.now()
	amount, err := s.subscriptions.MonthlyRecurringRevenue(ctx, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	return &MRRResponse{AsOf: asOf, Amount: amount.Round(2)}, nil
}

func (s *SubscriptionService) ensureActive(ctx context.Context, tenantID uuid.UUID) error {
	if s.tenants == nil {
		return nil
	}
	t, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	return t.EnsureActive()
}

func toPlanResponse(p *billing.Plan) *PlanResponse {
	return &PlanResponse{
		ID:       p.ID,
		Code:     p.Code,
		Name:     p.Name,
		Interval: string(p.Interval),
		Price:    p.Price,
		Monthly:  p.MonthlyAmount(),
		Active:   p.Active,
	}
}

func toSubscriptionResponse(sub *billing.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{
		ID:               sub.ID,
		CustomerRef:      sub.CustomerRef,
		PlanID:           sub.PlanID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		LastPaymentID:    sub.LastPaymentID,
	}
}
