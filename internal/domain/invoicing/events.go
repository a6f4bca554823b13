package invoicing

import (
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

const (
	EventTypeDocumentIssued = "DocumentIssued"
	EventTypeInvoicePaid    = "InvoicePaid"
)

// DocumentIssuedEvent is raised when a document is sent or received
type DocumentIssuedEvent struct {
	shared.BaseDomainEvent
	Kind   DocumentKind    `json:"kind"`
	Number string          `json:"number"`
	Total  decimal.Decimal `json:"total"`
}

// NewDocumentIssuedEvent creates the event for d
func NewDocumentIssuedEvent(d *Document) *DocumentIssuedEvent {
	return &DocumentIssuedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDocumentIssued, "Document", d.ID, d.TenantID),
		Kind:            d.Kind,
		Number:          d.Number,
		Total:           d.Total,
	}
}

// InvoicePaidEvent is raised when allocations cover an invoice in full
type InvoicePaidEvent struct {
	shared.BaseDomainEvent
	Number           string          `json:"number"`
	CounterpartyName string          `json:"counterparty_name"`
	Total            decimal.Decimal `json:"total"`
}

// NewInvoicePaidEvent creates the event for d
func NewInvoicePaidEvent(d *Document) *InvoicePaidEvent {
	return &InvoicePaidEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeInvoicePaid, "Document", d.ID, d.TenantID),
		Number:           d.Number,
		CounterpartyName: d.CounterpartyName,
		Total:            d.Total,
	}
}
