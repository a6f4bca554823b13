package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// LineType carries the direction of a journal line
type LineType string

const (
	LineTypeDebit  LineType = "debit"
	LineTypeCredit LineType = "credit"
)

// EntryStatus is the lifecycle state of a journal entry
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "draft"
	EntryStatusPosted EntryStatus = "posted"
)

// JournalLine is one side of a double-entry posting. Amount is always
// positive; Type carries the direction.
type JournalLine struct {
	ID          uuid.UUID
	LineNo      int
	AccountID   uuid.UUID
	AccountCode string
	Type        LineType
	Amount      decimal.Decimal
	Description string
}

// JournalEntry groups balanced lines produced from a single source record.
type JournalEntry struct {
	shared.TenantAggregateRoot
	EntryNumber string
	EntryDate   time.Time
	Source      SourceRef
	Description string
	Status      EntryStatus
	Lines       []JournalLine
	PostedAt    *time.Time
}

// NewJournalEntry creates an empty draft entry
func NewJournalEntry(tenantID uuid.UUID, source SourceRef, entryDate time.Time, description string) (*JournalEntry, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	return &JournalEntry{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		EntryDate:           entryDate,
		Source:              source,
		Description:         description,
		Status:              EntryStatusDraft,
	}, nil
}

// AddLine appends a line against a resolved account
func (e *JournalEntry) AddLine(account *Account, lineType LineType, amount decimal.Decimal, description string) error {
	if e.Status == EntryStatusPosted {
		return ErrAlreadyPosted
	}
	if account == nil {
		return ErrAccountNotFound
	}
	if account.TenantID != e.TenantID {
		return fmt.Errorf("%w: account %s belongs to another tenant", ErrInvalidAccount, account.Code)
	}
	if lineType != LineTypeDebit && lineType != LineTypeCredit {
		return fmt.Errorf("%w: %q", ErrInvalidLineType, lineType)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s on %s", ErrNonPositiveAmount, amount.String(), account.Code)
	}
	e.Lines = append(e.Lines, JournalLine{
		ID:          uuid.New(),
		LineNo:      len(e.Lines) + 1,
		AccountID:   account.ID,
		AccountCode: account.Code,
		Type:        lineType,
		Amount:      amount,
		Description: description,
	})
	return nil
}

// Totals sums the debit and credit sides
func (e *JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		if l.Type == LineTypeDebit {
			debit = debit.Add(l.Amount)
		} else {
			credit = credit.Add(l.Amount)
		}
	}
	return debit, credit
}

// IsBalanced reports whether total debits equal total credits
func (e *JournalEntry) IsBalanced() bool {
	d, c := e.Totals()
	return d.Equal(c)
}

// Post validates the entry and marks it posted under the given number.
func (e *JournalEntry) Post(entryNumber string, at time.Time) error {
	if e.Status == EntryStatusPosted {
		return ErrAlreadyPosted
	}
	if len(e.Lines) < 2 {
		return ErrEmptyEntry
	}
	if d, c := e.Totals(); !d.Equal(c) {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalancedEntry, d.StringFixed(2), c.StringFixed(2))
	}
	e.EntryNumber = entryNumber
	e.Status = EntryStatusPosted
	e.PostedAt = &at
	e.UpdatedAt = at
	return nil
}

// AmountFor returns the total amount posted to code on the given side.
func (e *JournalEntry) AmountFor(code string, lineType LineType) decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		if l.AccountCode == code && l.Type == lineType {
			total = total.Add(l.Amount)
		}
	}
	return total
}
