package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation applies part of a payment to one document
type Allocation struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PaymentID      uuid.UUID
	DocumentID     uuid.UUID
	DocumentNumber string
	Amount         decimal.Decimal
	// BatchID groups allocations created by one call; credit applications
	// post one journal entry per batch.
	BatchID   uuid.UUID
	CreatedAt time.Time
}

// NewAllocation validates and creates an allocation row
func NewAllocation(p *Payment, batchID, documentID uuid.UUID, documentNumber string, amount decimal.Decimal, at time.Time) (*Allocation, error) {
	if !p.IsAllocatable() {
		return nil, ErrNotAllocatable
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if documentID == uuid.Nil {
		return nil, ErrInvalidTarget
	}
	return &Allocation{
		ID:             uuid.New(),
		TenantID:       p.TenantID,
		PaymentID:      p.ID,
		DocumentID:     documentID,
		DocumentNumber: documentNumber,
		Amount:         amount,
		BatchID:        batchID,
		CreatedAt:      at,
	}, nil
}

// Unallocated returns what remains of amount after the given allocations.
func Unallocated(amount, allocated decimal.Decimal) decimal.Decimal {
	rest := amount.Sub(allocated)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}
