package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"github.com/invoicer/backend/internal/infrastructure/persistence/tenant"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPaymentRepository implements payment.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Create inserts a new payment
func (r *GormPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	model := &models.PaymentModel{}
	model.FromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment %s: %w", p.ID, shared.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// Update saves a payment with optimistic locking on version.
func (r *GormPaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	model := &models.PaymentModel{}
	model.FromDomain(p)
	res := r.db.WithContext(ctx).
		Model(&models.PaymentModel{}).
		Scopes(tenant.Scope(p.TenantID)).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]any{
			"number":              model.Number,
			"status":              model.Status,
			"counterparty_ref":    model.CounterpartyRef,
			"checkout_request_id": model.CheckoutRequestID,
			"merchant_request_id": model.MerchantRequestID,
			"reference":           model.Reference,
			"result_code":         model.ResultCode,
			"result_desc":         model.ResultDesc,
			"raw_payload":         model.RawPayload,
			"poll_count":          model.PollCount,
			"last_queried_at":     model.LastQueriedAt,
			"received_at":         model.ReceivedAt,
			"updated_at":          model.UpdatedAt,
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("payment %s: %w", p.ID, shared.ErrAlreadyExists)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	p.IncrementVersion()
	return nil
}

// FindByID finds a payment by ID for a specific tenant
func (r *GormPaymentRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*payment.Payment, error) {
	return r.first(r.db.WithContext(ctx).Scopes(tenant.Scope(tenantID)), "id = ?", id)
}

// FindByIDForUpdate finds a payment by ID and locks the row
func (r *GormPaymentRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*payment.Payment, error) {
	return r.first(r.db.WithContext(ctx).Scopes(tenant.Scope(tenantID), forUpdate), "id = ?", id)
}

// FindByClientToken looks a payment up by the opaque token handed to the
// polling client. Tokens are globally unique so no tenant is needed.
func (r *GormPaymentRepository) FindByClientToken(ctx context.Context, token string) (*payment.Payment, error) {
	return r.first(r.db.WithContext(ctx), "client_token = ?", token)
}

// FindByCheckoutRequestIDForUpdate finds and locks the payment a gateway
// correlation id belongs to.
func (r *GormPaymentRepository) FindByCheckoutRequestIDForUpdate(ctx context.Context, tenantID uuid.UUID, checkoutRequestID string) (*payment.Payment, error) {
	return r.first(r.db.WithContext(ctx).Scopes(tenant.Scope(tenantID), forUpdate), "checkout_request_id = ?", checkoutRequestID)
}

// FindPendingByPhoneAmountForUpdate locks and returns pending payments for the
// phone and amount created at or after since, newest first.
func (r *GormPaymentRepository) FindPendingByPhoneAmountForUpdate(ctx context.Context, tenantID uuid.UUID, phone string, amount decimal.Decimal, since time.Time) ([]payment.Payment, error) {
	var rows []models.PaymentModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID), forUpdate).
		Where("phone = ? AND amount = ? AND status = ? AND created_at >= ?", phone, amount, payment.StatusPending, since).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPayments(rows), nil
}

// FindStalePending returns pending STK payments, across tenants, created before olderThan.
func (r *GormPaymentRepository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]payment.Payment, error) {
	var rows []models.PaymentModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND method = ? AND created_at < ?", payment.StatusPending, payment.MethodMpesaSTK, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPayments(rows), nil
}

func (r *GormPaymentRepository) first(db *gorm.DB, query string, args ...any) (*payment.Payment, error) {
	var model models.PaymentModel
	if err := db.Where(query, args...).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func toPayments(rows []models.PaymentModel) []payment.Payment {
	out := make([]payment.Payment, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

// GormAllocationRepository implements payment.AllocationRepository using GORM
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewGormAllocationRepository creates a new GormAllocationRepository
func NewGormAllocationRepository(db *gorm.DB) *GormAllocationRepository {
	return &GormAllocationRepository{db: db}
}

// CreateBatch inserts all allocations of one allocation call.
func (r *GormAllocationRepository) CreateBatch(ctx context.Context, allocations []*payment.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]models.PaymentAllocationModel, len(allocations))
	for i, a := range allocations {
		rows[i].FromDomain(a)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// SumByDocument totals every allocation against a document. It always reads
// the table, never a cached figure.
func (r *GormAllocationRepository) SumByDocument(ctx context.Context, tenantID, documentID uuid.UUID) (decimal.Decimal, error) {
	return r.sum(ctx, tenantID, "document_id = ?", documentID)
}

// SumByPayment totals every allocation made from a payment.
func (r *GormAllocationRepository) SumByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (decimal.Decimal, error) {
	return r.sum(ctx, tenantID, "payment_id = ?", paymentID)
}

func (r *GormAllocationRepository) sum(ctx context.Context, tenantID uuid.UUID, query string, args ...any) (decimal.Decimal, error) {
	var out struct {
		Total decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAllocationModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where(query, args...).
		Select("SUM(amount) AS total").
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !out.Total.Valid {
		return decimal.Zero, nil
	}
	return out.Total.Decimal, nil
}

// ListByPayment returns a payment's allocations in creation order.
func (r *GormAllocationRepository) ListByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]payment.Allocation, error) {
	var rows []models.PaymentAllocationModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC, document_number ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]payment.Allocation, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// CountByPayment counts a payment's allocation rows.
func (r *GormAllocationRepository) CountByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAllocationModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("payment_id = ?", paymentID).
		Count(&count).Error
	return count, err
}

// GormGatewayEventRepository implements payment.GatewayEventRepository using GORM
type GormGatewayEventRepository struct {
	db *gorm.DB
}

// NewGormGatewayEventRepository creates a new GormGatewayEventRepository
func NewGormGatewayEventRepository(db *gorm.DB) *GormGatewayEventRepository {
	return &GormGatewayEventRepository{db: db}
}

// Create appends an audit row.
func (r *GormGatewayEventRepository) Create(ctx context.Context, event *payment.GatewayEvent) error {
	model := &models.GatewayEventModel{}
	model.FromDomain(event)
	return r.db.WithContext(ctx).Create(model).Error
}

// ListByPayment returns the audit trail of one payment, oldest first.
func (r *GormGatewayEventRepository) ListByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]payment.GatewayEvent, error) {
	var rows []models.GatewayEventModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("payment_id = ?", paymentID).
		Order("received_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]payment.GatewayEvent, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

var (
	_ payment.PaymentRepository      = (*GormPaymentRepository)(nil)
	_ payment.AllocationRepository   = (*GormAllocationRepository)(nil)
	_ payment.GatewayEventRepository = (*GormGatewayEventRepository)(nil)
)
