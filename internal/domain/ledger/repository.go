package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository is the chart-of-accounts lookup/create collaborator
type AccountRepository interface {
	// FindByCode returns nil, nil when the tenant has no such account
	FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*Account, error)
	// Create inserts the account. If another writer created the same code
	// first, the existing row is loaded into account and no error is returned.
	Create(ctx context.Context, account *Account) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Account, error)
}

// JournalRepository persists journal entries
type JournalRepository interface {
	// Create persists the entry with all its lines. Returns
	// ErrDuplicatePosting if the source already has an entry.
	Create(ctx context.Context, entry *JournalEntry) error
	FindBySource(ctx context.Context, tenantID uuid.UUID, source SourceRef) (*JournalEntry, error)
	CountBySource(ctx context.Context, tenantID uuid.UUID, source SourceRef) (int64, error)
	TrialBalance(ctx context.Context, tenantID uuid.UUID, asOf time.Time) ([]AccountBalance, error)
}

// AccountBalance is a raw per-account aggregation of posted lines.
type AccountBalance struct {
	AccountID   uuid.UUID
	AccountCode string
	AccountName string
	AccountType AccountType
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Balance returns the net amount on the account's normal side.
func (b AccountBalance) Balance() decimal.Decimal {
	if b.AccountType.NormalSide() == LineTypeDebit {
		return b.Debit.Sub(b.Credit)
	}
	return b.Credit.Sub(b.Debit)
}
