package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/sequence"
	"go.uber.org/zap"
)

// LedgerPoster turns invoices, bills, payments and credit applications into
// balanced journal entries. Every method runs inside the caller's
// transaction so the entry commits or rolls back with its source record.
//
// Posting is idempotent per source: a second call for a source that already
// has an entry returns the stored entry and writes nothing.
type LedgerPoster struct {
	sequences *SequenceGenerator
	logger    *zap.Logger
	now       func() time.Time
}

// LedgerPosterConfig holds configuration for the ledger poster
type LedgerPosterConfig struct {
	Sequences *SequenceGenerator
	Logger    *zap.Logger
	// Now overrides the clock used for posting timestamps.
	Now func() time.Time
}

// NewLedgerPoster creates a new LedgerPoster
func NewLedgerPoster(config LedgerPosterConfig) *LedgerPoster {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &LedgerPoster{
		sequences: config.Sequences,
		logger:    logger,
		now:       now,
	}
}

// PostInvoice debits receivables for the invoice total, credits revenue per
// line and credits tax payable.
func (p *LedgerPoster) PostInvoice(ctx context.Context, repos TransactionalRepositories, doc *invoicing.Document) (*ledger.JournalEntry, error) {
	if doc.Kind != invoicing.KindInvoice {
		return nil, fmt.Errorf("%w: document %s is a %s", ledger.ErrInvalidSource, doc.Number, doc.Kind)
	}
	lines := ledger.InvoiceLines(documentPosting(doc))
	desc := fmt.Sprintf("Invoice %s to %s", doc.Number, doc.CounterpartyName)
	return p.post(ctx, repos, doc.TenantID, ledger.InvoiceSource(doc.ID), doc.IssueDate, desc, lines)
}

// PostBill debits expenses and input tax and credits payables.
func (p *LedgerPoster) PostBill(ctx context.Context, repos TransactionalRepositories, doc *invoicing.Document) (*ledger.JournalEntry, error) {
	if doc.Kind != invoicing.KindBill {
		return nil, fmt.Errorf("%w: document %s is a %s", ledger.ErrInvalidSource, doc.Number, doc.Kind)
	}
	lines := ledger.BillLines(documentPosting(doc))
	desc := fmt.Sprintf("Bill %s from %s", doc.Number, doc.CounterpartyName)
	return p.post(ctx, repos, doc.TenantID, ledger.BillSource(doc.ID), doc.IssueDate, desc, lines)
}

// PostPayment debits the receiving account for the full amount, credits
// receivables for what was allocated and parks the rest as unapplied credit.
func (p *LedgerPoster) PostPayment(ctx context.Context, repos TransactionalRepositories, pay *payment.Payment, allocations []payment.Allocation) (*ledger.JournalEntry, error) {
	if !pay.IsAllocatable() {
		return nil, fmt.Errorf("%w: payment %s is %s", ledger.ErrInvalidSource, pay.ID, pay.Status)
	}
	lines, err := ledger.PaymentLines(ledger.PaymentPosting{
		Number:      pay.Number,
		CashAccount: cashAccountFor(pay.Method),
		Amount:      pay.Amount,
		Allocations: allocationLines(allocations),
	})
	if err != nil {
		return nil, err
	}
	date := p.now()
	if pay.ReceivedAt != nil {
		date = *pay.ReceivedAt
	}
	return p.post(ctx, repos, pay.TenantID, ledger.PaymentSource(pay.ID), date, "Payment "+pay.Number, lines)
}

// PostCreditApplication moves unapplied credit of an already posted payment
// onto receivables. batchID identifies the allocation call being posted.
func (p *LedgerPoster) PostCreditApplication(ctx context.Context, repos TransactionalRepositories, pay *payment.Payment, batchID uuid.UUID, allocations []payment.Allocation) (*ledger.JournalEntry, error) {
	if len(allocations) == 0 {
		return nil, fmt.Errorf("%w: no allocations to post", ledger.ErrEmptyEntry)
	}
	lines := ledger.CreditApplicationLines(pay.Number, allocationLines(allocations))
	return p.post(ctx, repos, pay.TenantID, ledger.CreditApplicationSource(batchID), p.now(), "Apply credit from "+pay.Number, lines)
}

func (p *LedgerPoster) post(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, source ledger.SourceRef, date time.Time, description string, lines []ledger.PostingLine) (*ledger.JournalEntry, error) {
	// Idempotency: one entry per source
	existing, err := repos.Journals().FindBySource(ctx, tenantID, source)
	if err != nil {
		return nil, fmt.Errorf("look up entry for %s: %w", source, err)
	}
	if existing != nil {
		p.logger.Debug("Source already posted",
			zap.String("source", source.String()),
			zap.String("entry_number", existing.EntryNumber))
		return existing, nil
	}

	if !ledger.Balanced(lines) {
		p.logger.Error("Posting rules produced an unbalanced entry",
			zap.String("tenant_id", tenantID.String()),
			zap.String("source", source.String()))
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnbalancedEntry, source)
	}

	entry, err := ledger.NewJournalEntry(tenantID, source, date, description)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		account, err := p.resolveAccount(ctx, repos.Accounts(), tenantID, line.AccountCode)
		if err != nil {
			return nil, err
		}
		if err := entry.AddLine(account, line.Type, line.Amount, line.Description); err != nil {
			return nil, err
		}
	}

	number, err := p.sequences.GenerateInTx(ctx, repos, tenantID, sequence.DocumentTypeJournal, date.Year())
	if err != nil {
		return nil, err
	}
	if err := entry.Post(number, p.now()); err != nil {
		return nil, err
	}
	if err := repos.Journals().Create(ctx, entry); err != nil {
		return nil, err
	}

	debit, _ := entry.Totals()
	p.logger.Info("Journal entry posted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("entry_number", entry.EntryNumber),
		zap.String("source", source.String()),
		zap.String("amount", debit.StringFixed(2)))
	return entry, nil
}

// resolveAccount finds the tenant's account for code. Well-known codes that
// the tenant has not set up yet are provisioned on the spot; anything else
// is a missing account.
func (p *LedgerPoster) resolveAccount(ctx context.Context, accounts ledger.AccountRepository, tenantID uuid.UUID, code string) (*ledger.Account, error) {
	account, err := accounts.FindByCode(ctx, tenantID, code)
	if err != nil {
		return nil, fmt.Errorf("look up account %s: %w", code, err)
	}
	if account != nil {
		return account, nil
	}

	account, err = ledger.NewStandardAccount(tenantID, code)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			p.logger.Warn("Posting references an unknown account",
				zap.String("tenant_id", tenantID.String()),
				zap.String("account_code", code))
		}
		return nil, err
	}
	if err := accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	p.logger.Info("Provisioned standard account",
		zap.String("tenant_id", tenantID.String()),
		zap.String("account_code", code))
	return account, nil
}

func documentPosting(doc *invoicing.Document) ledger.DocumentPosting {
	lines := make([]ledger.DocumentLine, len(doc.Items))
	for i, item := range doc.Items {
		lines[i] = ledger.DocumentLine{
			AccountCode: item.AccountCode,
			Amount:      item.Subtotal,
			Description: item.Description,
		}
	}
	return ledger.DocumentPosting{
		Number:    doc.Number,
		Total:     doc.Total,
		TaxAmount: doc.TaxAmount,
		Lines:     lines,
	}
}

func allocationLines(allocations []payment.Allocation) []ledger.AllocationLine {
	out := make([]ledger.AllocationLine, len(allocations))
	for i, a := range allocations {
		out[i] = ledger.AllocationLine{DocumentNumber: a.DocumentNumber, Amount: a.Amount}
	}
	return out
}

// cashAccountFor maps how money arrived to the asset account it lands in.
func cashAccountFor(method payment.Method) string {
	switch method {
	case payment.MethodMpesaSTK, payment.MethodMpesaManual:
		return ledger.CodeMobileMoney
	case payment.MethodBank:
		return ledger.CodeBank
	default:
		return ledger.CodeCash
	}
}
