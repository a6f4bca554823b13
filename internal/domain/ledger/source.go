package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// SourceKind enumerates the documents that can originate a journal entry
type SourceKind string

const (
	SourceInvoice           SourceKind = "invoice"
	SourceBill              SourceKind = "bill"
	SourcePayment           SourceKind = "payment"
	SourceCreditApplication SourceKind = "credit_application"
)

// SourceRef points a journal entry back at the record that produced it.
type SourceRef struct {
	Kind SourceKind
	ID   uuid.UUID
}

func InvoiceSource(id uuid.UUID) SourceRef { return SourceRef{Kind: SourceInvoice, ID: id} }
func BillSource(id uuid.UUID) SourceRef    { return SourceRef{Kind: SourceBill, ID: id} }
func PaymentSource(id uuid.UUID) SourceRef { return SourceRef{Kind: SourcePayment, ID: id} }

// CreditApplicationSource references one application of unapplied credit
func CreditApplicationSource(id uuid.UUID) SourceRef {
	return SourceRef{Kind: SourceCreditApplication, ID: id}
}

// Validate checks the kind is known and the id is set
func (r SourceRef) Validate() error {
	switch r.Kind {
	case SourceInvoice, SourceBill, SourcePayment, SourceCreditApplication:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, r.Kind)
	}
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidSource)
	}
	return nil
}

func (r SourceRef) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}
