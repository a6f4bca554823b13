package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRepository persists payments. Find methods return nil, nil when
// nothing matches.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	FindByClientToken(ctx context.Context, token string) (*Payment, error)
	// FindByCheckoutRequestIDForUpdate locks the payment row matching the
	// gateway correlation id.
	FindByCheckoutRequestIDForUpdate(ctx context.Context, tenantID uuid.UUID, checkoutRequestID string) (*Payment, error)
	// FindPendingByPhoneAmountForUpdate returns pending gateway payments for
	// phone and amount created after since, newest first, the first row locked.
	FindPendingByPhoneAmountForUpdate(ctx context.Context, tenantID uuid.UUID, phone string, amount decimal.Decimal, since time.Time) ([]Payment, error)
	// FindStalePending returns pending gateway payments created before
	// olderThan across tenants.
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error)
}

// AllocationRepository persists allocations
type AllocationRepository interface {
	CreateBatch(ctx context.Context, allocations []*Allocation) error
	SumByDocument(ctx context.Context, tenantID, documentID uuid.UUID) (decimal.Decimal, error)
	SumByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (decimal.Decimal, error)
	ListByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]Allocation, error)
	CountByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (int64, error)
}
