package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PostingLine is an unresolved journal line keyed by account code.
type PostingLine struct {
	AccountCode string
	Type        LineType
	Amount      decimal.Decimal
	Description string
}

// DocumentLine is the pre-tax amount of one document line and the account
// it maps to. An empty code falls back to the default for the document kind.
type DocumentLine struct {
	AccountCode string
	Amount      decimal.Decimal
	Description string
}

// DocumentPosting carries what the posting rules need from an invoice or bill.
type DocumentPosting struct {
	Number    string
	Total     decimal.Decimal
	TaxAmount decimal.Decimal
	Lines     []DocumentLine
}

// InvoiceLines debits receivables for the total, credits revenue per line
// for its pre-tax amount, and credits tax payable for the tax.
func InvoiceLines(doc DocumentPosting) []PostingLine {
	lines := []PostingLine{{
		AccountCode: CodeAccountsReceivable,
		Type:        LineTypeDebit,
		Amount:      doc.Total,
		Description: "Invoice " + doc.Number,
	}}
	for _, l := range doc.Lines {
		lines = append(lines, PostingLine{
			AccountCode: codeOr(l.AccountCode, CodeSalesRevenue),
			Type:        LineTypeCredit,
			Amount:      l.Amount,
			Description: l.Description,
		})
	}
	if doc.TaxAmount.IsPositive() {
		lines = append(lines, PostingLine{
			AccountCode: CodeTaxPayable,
			Type:        LineTypeCredit,
			Amount:      doc.TaxAmount,
			Description: "Tax on " + doc.Number,
		})
	}
	return dropZero(lines)
}

// BillLines mirrors InvoiceLines for supplier bills: expenses and input tax
// are debited, payables credited.
func BillLines(doc DocumentPosting) []PostingLine {
	var lines []PostingLine
	for _, l := range doc.Lines {
		lines = append(lines, PostingLine{
			AccountCode: codeOr(l.AccountCode, CodePurchases),
			Type:        LineTypeDebit,
			Amount:      l.Amount,
			Description: l.Description,
		})
	}
	if doc.TaxAmount.IsPositive() {
		lines = append(lines, PostingLine{
			AccountCode: CodeInputTax,
			Type:        LineTypeDebit,
			Amount:      doc.TaxAmount,
			Description: "Input tax on " + doc.Number,
		})
	}
	lines = append(lines, PostingLine{
		AccountCode: CodeAccountsPayable,
		Type:        LineTypeCredit,
		Amount:      doc.Total,
		Description: "Bill " + doc.Number,
	})
	return dropZero(lines)
}

// AllocationLine is one allocation of a payment to a receivable.
type AllocationLine struct {
	DocumentNumber string
	Amount         decimal.Decimal
}

// PaymentPosting carries what the cash-side posting needs.
type PaymentPosting struct {
	Number      string
	CashAccount string
	Amount      decimal.Decimal
	Allocations []AllocationLine
}

// PaymentLines debits the receiving account for the full amount, credits
// receivables per allocation, and credits unapplied credit for the rest.
func PaymentLines(p PaymentPosting) ([]PostingLine, error) {
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount %s", ErrNonPositiveAmount, p.Amount)
	}
	lines := []PostingLine{{
		AccountCode: codeOr(p.CashAccount, CodeCash),
		Type:        LineTypeDebit,
		Amount:      p.Amount,
		Description: "Payment " + p.Number,
	}}
	allocated := decimal.Zero
	for _, a := range p.Allocations {
		allocated = allocated.Add(a.Amount)
		lines = append(lines, PostingLine{
			AccountCode: CodeAccountsReceivable,
			Type:        LineTypeCredit,
			Amount:      a.Amount,
			Description: "Applied to " + a.DocumentNumber,
		})
	}
	if allocated.GreaterThan(p.Amount) {
		return nil, fmt.Errorf("%w: allocations %s exceed payment %s", ErrUnbalancedEntry, allocated, p.Amount)
	}
	if rest := p.Amount.Sub(allocated); rest.IsPositive() {
		lines = append(lines, PostingLine{
			AccountCode: CodeUnappliedCredit,
			Type:        LineTypeCredit,
			Amount:      rest,
			Description: "Unapplied from " + p.Number,
		})
	}
	return dropZero(lines), nil
}

// CreditApplicationLines moves previously unapplied credit onto receivables.
func CreditApplicationLines(paymentNumber string, allocations []AllocationLine) []PostingLine {
	var lines []PostingLine
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
		lines = append(lines, PostingLine{
			AccountCode: CodeAccountsReceivable,
			Type:        LineTypeCredit,
			Amount:      a.Amount,
			Description: "Credit from " + paymentNumber + " applied to " + a.DocumentNumber,
		})
	}
	lines = append([]PostingLine{{
		AccountCode: CodeUnappliedCredit,
		Type:        LineTypeDebit,
		Amount:      total,
		Description: "Apply credit " + paymentNumber,
	}}, lines...)
	return dropZero(lines)
}

// Balanced reports whether the posting lines net to zero.
func Balanced(lines []PostingLine) bool {
	net := decimal.Zero
	for _, l := range lines {
		if l.Type == LineTypeDebit {
			net = net.Add(l.Amount)
		} else {
			net = net.Sub(l.Amount)
		}
	}
	return net.IsZero()
}

func codeOr(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}

func dropZero(lines []PostingLine) []PostingLine {
	out := lines[:0]
	for _, l := range lines {
		if !l.Amount.IsZero() {
			out = append(out, l)
		}
	}
	return out
}
