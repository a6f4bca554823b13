// Package payment models incoming payments, their allocation to documents,
// and the mobile-money gateway lifecycle.
package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Method is how the money arrived
type Method string

const (
	MethodMpesaSTK    Method = "mpesa_stk"
	MethodMpesaManual Method = "mpesa_manual"
	MethodCash        Method = "cash"
	MethodBank        Method = "bank_transfer"
)

// IsValid reports whether m is a known method
func (m Method) IsValid() bool {
	switch m {
	case MethodMpesaSTK, MethodMpesaManual, MethodCash, MethodBank:
		return true
	}
	return false
}

// Status is the transaction status of a payment
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Origin records where a terminal result came from.
type Origin string

const (
	OriginInitiate     Origin = "initiate"
	OriginWebhook      Origin = "webhook"
	OriginGatewayQuery Origin = "gateway_query"
	OriginManual       Origin = "manual"
)

// TargetKind says what a gateway payment was raised for
type TargetKind string

const (
	TargetNone         TargetKind = ""
	TargetDocument     TargetKind = "document"
	TargetSubscription TargetKind = "subscription"
)

// Target is the record a payment settles once it completes.
type Target struct {
	Kind TargetKind
	ID   uuid.UUID
}

// Validate checks the target is coherent
func (t Target) Validate() error {
	switch t.Kind {
	case TargetNone:
		if t.ID != uuid.Nil {
			return ErrInvalidTarget
		}
		return nil
	case TargetDocument, TargetSubscription:
		if t.ID == uuid.Nil {
			return ErrInvalidTarget
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTarget, t.Kind)
	}
}

// Payment is one payment attempt. Status only moves forward.
type Payment struct {
	shared.TenantAggregateRoot
	Number            string
	Method            Method
	Amount            decimal.Decimal
	Currency          string
	Status            Status
	Phone             string
	CounterpartyRef   string
	Target            Target
	ClientToken       string
	CheckoutRequestID string
	MerchantRequestID string
	Reference         string
	ResultCode        *int
	ResultDesc        string
	RawPayload        []byte
	PayloadOrigin     Origin
	PollCount         int
	LastQueriedAt     *time.Time
	ReceivedAt        *time.Time
}

// NewGatewayPayment records a push-payment request before the gateway is
// called. The payment number is assigned once money is received.
func NewGatewayPayment(tenantID uuid.UUID, amount decimal.Decimal, phone string, target Target, clientToken string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if phone == "" {
		return nil, ErrInvalidPhone
	}
	if clientToken == "" {
		return nil, ErrInvalidToken
	}
	return &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Method:              MethodMpesaSTK,
		Amount:              amount.Round(2),
		Currency:            "KES",
		Status:              StatusInitiated,
		Phone:               phone,
		Target:              target,
		ClientToken:         clientToken,
	}, nil
}

// NewManualPayment records money that has already been received.
func NewManualPayment(tenantID uuid.UUID, number string, method Method, amount decimal.Decimal, reference, counterpartyRef string, receivedAt time.Time) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !method.IsValid() || method == MethodMpesaSTK {
		return nil, ErrInvalidMethod
	}
	p := &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Number:              number,
		Method:              method,
		Amount:              amount.Round(2),
		Currency:            "KES",
		Status:              StatusCompleted,
		CounterpartyRef:     counterpartyRef,
		Reference:           reference,
		PayloadOrigin:       OriginManual,
		ReceivedAt:          &receivedAt,
	}
	p.AddDomainEvent(NewPaymentCompletedEvent(p))
	return p, nil
}

// MarkPending stores the gateway correlation pair after a successful push.
func (p *Payment) MarkPending(checkoutRequestID, merchantRequestID string, at time.Time) error {
	if p.Status != StatusInitiated {
		return ErrInvalidTransition
	}
	if checkoutRequestID == "" {
		return fmt.Errorf("%w: missing checkout request id", ErrGatewayInvalidResponse)
	}
	p.CheckoutRequestID = checkoutRequestID
	p.MerchantRequestID = merchantRequestID
	p.Status = StatusPending
	p.UpdatedAt = at
	return nil
}

// Outcome is a normalized terminal result from the gateway.
type Outcome struct {
	ResultCode int
	ResultDesc string
	Receipt    string
	Raw        []byte
	Origin     Origin
	At         time.Time
}

// Complete moves a pending payment to completed. A payment that is already
// terminal returns ErrAlreadyProcessed and is left untouched.
func (p *Payment) Complete(number string, o Outcome) error {
	if p.Status.IsTerminal() {
		return ErrAlreadyProcessed
	}
	if p.Status != StatusPending {
		return ErrInvalidTransition
	}
	p.Number = number
	p.applyOutcome(StatusCompleted, o)
	p.Reference = o.Receipt
	p.ReceivedAt = &o.At
	p.AddDomainEvent(NewPaymentCompletedEvent(p))
	return nil
}

// Fail moves a pending or initiated payment to failed, or to cancelled when
// the customer aborted.
func (p *Payment) Fail(o Outcome, cancelled bool) error {
	if p.Status.IsTerminal() {
		return ErrAlreadyProcessed
	}
	status := StatusFailed
	if cancelled {
		status = StatusCancelled
	}
	p.applyOutcome(status, o)
	p.AddDomainEvent(NewPaymentFailedEvent(p))
	return nil
}

func (p *Payment) applyOutcome(status Status, o Outcome) {
	code := o.ResultCode
	p.Status = status
	p.ResultCode = &code
	p.ResultDesc = o.ResultDesc
	p.RawPayload = o.Raw
	p.PayloadOrigin = o.Origin
	p.UpdatedAt = o.At
}

// RecordPoll counts one client status poll.
func (p *Payment) RecordPoll(at time.Time) {
	p.PollCount++
	p.UpdatedAt = at
}

// RecordGatewayQuery notes that the gateway was asked for the status.
func (p *Payment) RecordGatewayQuery(at time.Time) {
	p.LastQueriedAt = &at
	p.UpdatedAt = at
}

// IsAllocatable reports whether the payment's money can be applied.
func (p *Payment) IsAllocatable() bool {
	return p.Status == StatusCompleted
}
