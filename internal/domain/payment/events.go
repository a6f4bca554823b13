package payment

import (
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentCompleted = "PaymentCompleted"
	EventTypePaymentFailed    = "PaymentFailed"
)

// PaymentCompletedEvent is published after a payment's money is confirmed
type PaymentCompletedEvent struct {
	shared.BaseDomainEvent
	Number    string          `json:"number"`
	Method    Method          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Phone     string          `json:"phone,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Origin    Origin          `json:"origin"`
}

// NewPaymentCompletedEvent creates the event for p
func NewPaymentCompletedEvent(p *Payment) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentCompleted, "Payment", p.ID, p.TenantID),
		Number:          p.Number,
		Method:          p.Method,
		Amount:          p.Amount,
		Phone:           p.Phone,
		Reference:       p.Reference,
		Origin:          p.PayloadOrigin,
	}
}

// PaymentFailedEvent is published when the gateway reports a failure
type PaymentFailedEvent struct {
	shared.BaseDomainEvent
	Amount     decimal.Decimal `json:"amount"`
	Phone      string          `json:"phone,omitempty"`
	Status     Status          `json:"status"`
	ResultDesc string          `json:"result_desc"`
}

// NewPaymentFailedEvent creates the event for p
func NewPaymentFailedEvent(p *Payment) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentFailed, "Payment", p.ID, p.TenantID),
		Amount:          p.Amount,
		Phone:           p.Phone,
		Status:          p.Status,
		ResultDesc:      p.ResultDesc,
	}
}
