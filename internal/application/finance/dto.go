package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// LineItemInput is one requested document line
type LineItemInput struct {
	Description string          `json:"description" binding:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	AccountCode string          `json:"account_code" binding:"max=20"`
}

// CreateDocumentRequest creates an invoice or a bill
type CreateDocumentRequest struct {
	CounterpartyRef  string          `json:"counterparty_ref" binding:"max=100"`
	CounterpartyName string          `json:"counterparty_name" binding:"required,max=200"`
	IssueDate        time.Time       `json:"issue_date" binding:"required"`
	DueDate          time.Time       `json:"due_date" binding:"required"`
	Notes            string          `json:"notes" binding:"max=2000"`
	Items            []LineItemInput `json:"items" binding:"required,min=1,dive"`
}

// LineItemResponse is a priced document line
type LineItemResponse struct {
	LineNo      int             `json:"line_no"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	AccountCode string          `json:"account_code,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// DocumentResponse is an invoice or bill with its live outstanding balance
type DocumentResponse struct {
	ID                 uuid.UUID          `json:"id"`
	TenantID           uuid.UUID          `json:"tenant_id"`
	Kind               string             `json:"kind"`
	Number             string             `json:"number"`
	CounterpartyRef    string             `json:"counterparty_ref,omitempty"`
	CounterpartyName   string             `json:"counterparty_name"`
	IssueDate          time.Time          `json:"issue_date"`
	DueDate            time.Time          `json:"due_date"`
	Status             string             `json:"status"`
	PaymentStatus      string             `json:"payment_status"`
	Subtotal           decimal.Decimal    `json:"subtotal"`
	TaxAmount          decimal.Decimal    `json:"tax_amount"`
	Total              decimal.Decimal    `json:"total"`
	OutstandingBalance decimal.Decimal    `json:"outstanding_balance"`
	Notes              string             `json:"notes,omitempty"`
	Items              []LineItemResponse `json:"items"`
	IssuedAt           *time.Time         `json:"issued_at,omitempty"`
	PaidAt             *time.Time         `json:"paid_at,omitempty"`
	Version            int                `json:"version"`
}

// ToDocumentResponse converts a document and its allocated total
func ToDocumentResponse(doc *invoicing.Document, allocated decimal.Decimal) DocumentResponse {
	items := make([]LineItemResponse, len(doc.Items))
	for i, item := range doc.Items {
		items[i] = LineItemResponse{
			LineNo:      item.LineNo,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TaxRate:     item.TaxRate,
			AccountCode: item.AccountCode,
			Subtotal:    item.Subtotal,
			TaxAmount:   item.TaxAmount,
			LineTotal:   item.LineTotal,
		}
	}
	return DocumentResponse{
		ID:                 doc.ID,
		TenantID:           doc.TenantID,
		Kind:               string(doc.Kind),
		Number:             doc.Number,
		CounterpartyRef:    doc.CounterpartyRef,
		CounterpartyName:   doc.CounterpartyName,
		IssueDate:          doc.IssueDate,
		DueDate:            doc.DueDate,
		Status:             string(doc.Status),
		PaymentStatus:      string(doc.PaymentStatus),
		Subtotal:           doc.Subtotal,
		TaxAmount:          doc.TaxAmount,
		Total:              doc.Total,
		OutstandingBalance: doc.OutstandingBalance(allocated),
		Notes:              doc.Notes,
		Items:              items,
		IssuedAt:           doc.IssuedAt,
		PaidAt:             doc.PaidAt,
		Version:            doc.Version,
	}
}

// RecordPaymentRequest records money received outside the push flow.
// Without targets the amount is applied oldest invoice first.
type RecordPaymentRequest struct {
	Method          string             `json:"method" binding:"required,oneof=mpesa_manual cash bank_transfer"`
	Amount          decimal.Decimal    `json:"amount"`
	Reference       string             `json:"reference" binding:"max=100"`
	CounterpartyRef string             `json:"counterparty_ref" binding:"max=100"`
	ReceivedAt      *time.Time         `json:"received_at"`
	Targets         []AllocationTarget `json:"targets" binding:"omitempty,dive"`
}

// ApplyCreditRequest applies a payment's unallocated remainder
type ApplyCreditRequest struct {
	Targets []AllocationTarget `json:"targets" binding:"required,min=1,dive"`
}

// AllocationResponse is one allocation row
type AllocationResponse struct {
	DocumentID     uuid.UUID       `json:"document_id"`
	DocumentNumber string          `json:"document_number"`
	Amount         decimal.Decimal `json:"amount"`
}

// PaymentResponse is a payment with its allocation summary
type PaymentResponse struct {
	ID          uuid.UUID            `json:"id"`
	Number      string               `json:"number,omitempty"`
	Method      string               `json:"method"`
	Amount      decimal.Decimal      `json:"amount"`
	Currency    string               `json:"currency"`
	Status      string               `json:"status"`
	Reference   string               `json:"reference,omitempty"`
	Allocations []AllocationResponse `json:"allocations"`
	Unallocated decimal.Decimal      `json:"unallocated"`
	EntryNumber string               `json:"entry_number,omitempty"`
	ReceivedAt  *time.Time           `json:"received_at,omitempty"`
}

// ToPaymentResponse converts a payment and its allocations
func ToPaymentResponse(p *payment.Payment, allocations []payment.Allocation, entry *ledger.JournalEntry) PaymentResponse {
	resp := PaymentResponse{
		ID:          p.ID,
		Number:      p.Number,
		Method:      string(p.Method),
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      string(p.Status),
		Reference:   p.Reference,
		Allocations: make([]AllocationResponse, len(allocations)),
		ReceivedAt:  p.ReceivedAt,
	}
	allocated := decimal.Zero
	for i, a := range allocations {
		resp.Allocations[i] = AllocationResponse{
			DocumentID:     a.DocumentID,
			DocumentNumber: a.DocumentNumber,
			Amount:         a.Amount,
		}
		allocated = allocated.Add(a.Amount)
	}
	resp.Unallocated = payment.Unallocated(p.Amount, allocated)
	if entry != nil {
		resp.EntryNumber = entry.EntryNumber
	}
	return resp
}

// InitiatePaymentRequest starts an STK push for a document or subscription
type InitiatePaymentRequest struct {
	Phone      string          `json:"phone" binding:"required,max=20"`
	Amount     decimal.Decimal `json:"amount"`
	TargetKind string          `json:"target_kind" binding:"omitempty,oneof=document subscription"`
	TargetID   *uuid.UUID      `json:"target_id"`
}

// InitiatePaymentResponse is returned once the gateway accepted the push
type InitiatePaymentResponse struct {
	PaymentID         uuid.UUID `json:"payment_id"`
	ClientToken       string    `json:"client_token"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Status            string    `json:"status"`
	CustomerMessage   string    `json:"customer_message,omitempty"`
}

// Statuses reported to a polling client
const (
	PollStatusPending = "pending"
	PollStatusSuccess = "success"
	PollStatusFailed  = "failed"
)

// PaymentStatusResponse answers a status check. Tenant queries report the
// payment status as stored; client polls report pending, success or failed.
type PaymentStatusResponse struct {
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Number      string          `json:"number,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Redirect    string          `json:"redirect,omitempty"`
	Message     string          `json:"message,omitempty"`
	StopPolling bool            `json:"stop_polling"`
}

// CallbackAck is the acknowledgement body the gateway expects back
type CallbackAck struct {
	ResultCode int    `json:"resultCode"`
	ResultDesc string `json:"resultDesc"`
}

// TrialBalanceLine is one account row of the trial balance
type TrialBalanceLine struct {
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	AccountType string          `json:"account_type"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

// TrialBalanceResponse aggregates posted lines up to AsOf
type TrialBalanceResponse struct {
	AsOf        time.Time          `json:"as_of"`
	Lines       []TrialBalanceLine `json:"lines"`
	TotalDebit  decimal.Decimal    `json:"total_debit"`
	TotalCredit decimal.Decimal    `json:"total_credit"`
	IsBalanced  bool               `json:"is_balanced"`
}
