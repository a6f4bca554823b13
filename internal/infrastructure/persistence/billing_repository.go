package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/billing"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"github.com/invoicer/backend/internal/infrastructure/persistence/tenant"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormPlanRepository implements billing.PlanRepository using GORM
type GormPlanRepository struct {
	db *gorm.DB
}

// NewGormPlanRepository creates a new GormPlanRepository
func NewGormPlanRepository(db *gorm.DB) *GormPlanRepository {
	return &GormPlanRepository{db: db}
}

// Create inserts a plan
func (r *GormPlanRepository) Create(ctx context.Context, plan *billing.Plan) error {
	model := &models.PlanModel{}
	model.FromDomain(plan)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByID finds a plan by ID for a specific tenant
func (r *GormPlanRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*billing.Plan, error) {
	var model models.PlanModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// GormSubscriptionRepository implements billing.SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// Create inserts a subscription
func (r *GormSubscriptionRepository) Create(ctx context.Context, sub *billing.Subscription) error {
	model := &models.SubscriptionModel{}
	model.FromDomain(sub)
	return r.db.WithContext(ctx).Create(model).Error
}

// Update saves a subscription with optimistic locking on version.
func (r *GormSubscriptionRepository) Update(ctx context.Context, sub *billing.Subscription) error {
	res := r.db.WithContext(ctx).
		Model(&models.SubscriptionModel{}).
		Scopes(tenant.Scope(sub.TenantID)).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]any{
			"status":             sub.Status,
			"current_period_end": sub.CurrentPeriodEnd,
			"last_payment_id":    sub.LastPaymentID,
			"updated_at":         sub.UpdatedAt,
			"version":            gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	sub.IncrementVersion()
	return nil
}

// FindByID finds a subscription by ID for a specific tenant
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*billing.Subscription, error) {
	return r.first(r.db.WithContext(ctx), tenantID, id)
}

// FindByIDForUpdate finds a subscription by ID and locks the row
func (r *GormSubscriptionRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*billing.Subscription, error) {
	return r.first(r.db.WithContext(ctx).Scopes(forUpdate), tenantID, id)
}

func (r *GormSubscriptionRepository) first(db *gorm.DB, tenantID, id uuid.UUID) (*billing.Subscription, error) {
	var model models.SubscriptionModel
	if err := db.Scopes(tenant.Scope(tenantID)).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// MonthlyRecurringRevenue sums the monthly price of every subscription active
// at asOf, reading prices from the plans table. Yearly plans count as price/12.
func (r *GormSubscriptionRepository) MonthlyRecurringRevenue(ctx context.Context, tenantID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	var rows []struct {
		BillingInterval billing.Interval
		Total           decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).
		Table("subscriptions AS s").
		Select("p.billing_interval, SUM(p.price) AS total").
		Joins("JOIN plans p ON p.id = s.plan_id").
		Scopes(tenant.ScopeFor("s", tenantID)).
		Where("s.status = ? AND s.current_period_end > ?", billing.SubscriptionActive, asOf).
		Group("p.billing_interval").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	mrr := decimal.Zero
	for _, row := range rows {
		if !row.Total.Valid {
			continue
		}
		if row.BillingInterval == billing.IntervalYearly {
			mrr = mrr.Add(row.Total.Decimal.Div(decimal.NewFromInt(12)))
			continue
		}
		mrr = mrr.Add(row.Total.Decimal)
	}
	return mrr.Round(2), nil
}

var (
	_ billing.PlanRepository         = (*GormPlanRepository)(nil)
	_ billing.SubscriptionRepository = (*GormSubscriptionRepository)(nil)
)
