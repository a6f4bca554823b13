// Package invoicing holds invoices and bills and their derived totals.
package invoicing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// DocumentKind distinguishes receivables from payables
type DocumentKind string

const (
	KindInvoice DocumentKind = "invoice"
	KindBill    DocumentKind = "bill"
)

// DocumentStatus is the lifecycle status
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusSent      DocumentStatus = "sent"
	StatusReceived  DocumentStatus = "received"
	StatusPaid      DocumentStatus = "paid"
	StatusOverdue   DocumentStatus = "overdue"
	StatusCancelled DocumentStatus = "cancelled"
)

// PaymentStatus is layered on top of the lifecycle status
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Document is an invoice or a bill
type Document struct {
	shared.TenantAggregateRoot
	Kind             DocumentKind
	Number           string
	CounterpartyRef  string
	CounterpartyName string
	IssueDate        time.Time
	DueDate          time.Time
	Status           DocumentStatus
	PaymentStatus    PaymentStatus
	Items            []LineItem
	Subtotal         decimal.Decimal
	TaxAmount        decimal.Decimal
	Total            decimal.Decimal
	Notes            string
	IssuedAt         *time.Time
	PaidAt           *time.Time
}

// NewDocument creates a draft document with its number already assigned
func NewDocument(tenantID uuid.UUID, kind DocumentKind, number, counterpartyRef, counterpartyName string, issueDate, dueDate time.Time, items []LineItem) (*Document, error) {
	if kind != KindInvoice && kind != KindBill {
		return nil, shared.NewDomainError("INVALID_KIND", "Document kind must be invoice or bill")
	}
	if strings.TrimSpace(number) == "" {
		return nil, shared.NewDomainError("INVALID_NUMBER", "Document number is required")
	}
	if strings.TrimSpace(counterpartyName) == "" {
		return nil, shared.NewDomainError("INVALID_COUNTERPARTY", "Customer or supplier name is required")
	}
	if dueDate.Before(issueDate) {
		return nil, shared.NewDomainError("INVALID_DUE_DATE", "Due date cannot be before issue date")
	}

	doc := &Document{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Kind:                kind,
		Number:              number,
		CounterpartyRef:     strings.TrimSpace(counterpartyRef),
		CounterpartyName:    strings.TrimSpace(counterpartyName),
		IssueDate:           issueDate,
		DueDate:             dueDate,
		Status:              StatusDraft,
		PaymentStatus:       PaymentStatusUnpaid,
	}
	if err := doc.SetItems(items); err != nil {
		return nil, err
	}
	return doc, nil
}

// SetItems replaces the line items of a draft and recomputes the totals
func (d *Document) SetItems(items []LineItem) error {
	if d.Status != StatusDraft {
		return ErrNotEditable
	}
	if len(items) == 0 {
		return ErrNoLineItems
	}
	d.Items = make([]LineItem, len(items))
	for i, item := range items {
		item.LineNo = i + 1
		d.Items[i] = item
	}
	d.Recalculate()
	return nil
}

// Recalculate derives subtotal, tax and total from the line items.
func (d *Document) Recalculate() {
	subtotal, tax := decimal.Zero, decimal.Zero
	for i := range d.Items {
		d.Items[i].recalculate()
		subtotal = subtotal.Add(d.Items[i].Subtotal)
		tax = tax.Add(d.Items[i].TaxAmount)
	}
	d.Subtotal = subtotal
	d.TaxAmount = tax
	d.Total = subtotal.Add(tax)
}

// IsInvoice reports whether the document is a receivable
func (d *Document) IsInvoice() bool {
	return d.Kind == KindInvoice
}

// Issue moves a draft into its posted state: sent for invoices, received
// for bills.
func (d *Document) Issue(at time.Time) error {
	if d.Status != StatusDraft {
		return transitionError(d.Status, d.issuedStatus())
	}
	if !d.Total.IsPositive() {
		return shared.NewDomainError("INVALID_TOTAL", "Cannot issue a document with a zero total")
	}
	d.Status = d.issuedStatus()
	d.IssuedAt = &at
	d.touch(at)
	d.AddDomainEvent(NewDocumentIssuedEvent(d))
	return nil
}

func (d *Document) issuedStatus() DocumentStatus {
	if d.Kind == KindBill {
		return StatusReceived
	}
	return StatusSent
}

// Cancel voids a draft. Issued documents have journal entries and cannot be
// cancelled without reversing entries.
func (d *Document) Cancel(at time.Time) error {
	if d.Status != StatusDraft {
		return transitionError(d.Status, StatusCancelled)
	}
	d.Status = StatusCancelled
	d.touch(at)
	return nil
}

// MarkOverdue flags an open invoice whose due date has passed.
func (d *Document) MarkOverdue(now time.Time) error {
	if !d.IsInvoice() || d.Status != StatusSent {
		return transitionError(d.Status, StatusOverdue)
	}
	if !now.After(d.DueDate) {
		return shared.NewDomainError("NOT_DUE", "Invoice is not past its due date")
	}
	d.Status = StatusOverdue
	d.touch(now)
	return nil
}

// AcceptsPayment reports whether allocations can target this document.
func (d *Document) AcceptsPayment() error {
	if !d.IsInvoice() {
		return ErrNotPayable
	}
	switch d.Status {
	case StatusSent, StatusOverdue:
		return nil
	default:
		return ErrNotPayable
	}
}

// OutstandingBalance is the total less what has been allocated so far.
func (d *Document) OutstandingBalance(allocated decimal.Decimal) decimal.Decimal {
	out := d.Total.Sub(allocated)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// ApplyAllocations updates payment status from the current allocated total.
// A fully covered document becomes paid; partial coverage only changes the
// payment status.
func (d *Document) ApplyAllocations(allocated decimal.Decimal, at time.Time) {
	outstanding := d.Total.Sub(allocated)
	switch {
	case !outstanding.IsPositive():
		if d.Status == StatusPaid {
			return
		}
		d.Status = StatusPaid
		d.PaymentStatus = PaymentStatusPaid
		d.PaidAt = &at
		d.touch(at)
		d.AddDomainEvent(NewInvoicePaidEvent(d))
	case allocated.IsPositive():
		if d.PaymentStatus != PaymentStatusPartial {
			d.PaymentStatus = PaymentStatusPartial
			d.touch(at)
		}
	}
}

// touch stamps the change time. The version is bumped by the repository
// when the update is written.
func (d *Document) touch(at time.Time) {
	d.UpdatedAt = at
}

func transitionError(from, to DocumentStatus) error {
	return shared.NewDomainError("INVALID_STATE", "Cannot move document from "+string(from)+" to "+string(to))
}
