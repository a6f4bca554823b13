package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventStatus is what reconciliation made of one inbound gateway message.
type EventStatus string

const (
	EventProcessed EventStatus = "processed"
	EventDuplicate EventStatus = "duplicate"
	EventUnmatched EventStatus = "unmatched"
	EventRejected  EventStatus = "rejected"
)

// GatewayEvent is the audit record kept for every callback or status query result,
// whether or not it changed a payment.
type GatewayEvent struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	PaymentID  *uuid.UUID
	ExternalID string
	Origin     Origin
	Status     EventStatus
	ResultCode *int
	Error      string
	Payload    []byte
	ReceivedAt time.Time
}

// NewGatewayEvent starts an audit record for a message received at the given time.
func NewGatewayEvent(tenantID uuid.UUID, origin Origin, externalID string, payload []byte, at time.Time) *GatewayEvent {
	return &GatewayEvent{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ExternalID: externalID,
		Origin:     origin,
		Status:     EventUnmatched,
		Payload:    payload,
		ReceivedAt: at,
	}
}

// Resolve records the payment the message was matched to and the final status.
func (e *GatewayEvent) Resolve(p *Payment, status EventStatus) {
	if p != nil {
		id := p.ID
		e.PaymentID = &id
	}
	e.Status = status
}

type GatewayEventRepository interface {
	Create(ctx context.Context, event *GatewayEvent) error
	ListByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]GatewayEvent, error)
}
