package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"github.com/invoicer/backend/internal/infrastructure/persistence/tenant"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAccountRepository implements ledger.AccountRepository using GORM
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GormAccountRepository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByCode returns the tenant's account with the given code, or nil if absent.
func (r *GormAccountRepository) FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*ledger.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("code = ?", code).
		First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts the account. If another writer created the same code first,
// account is overwritten with the stored row so callers always end up with
// the persisted id.
func (r *GormAccountRepository) Create(ctx context.Context, account *ledger.Account) error {
	model := &models.AccountModel{}
	model.FromDomain(account)

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "code"}},
			DoNothing: true,
		}).
		Create(model)
	if res.Error != nil {
		return fmt.Errorf("create account %s: %w", account.Code, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	existing, err := r.FindByCode(ctx, account.TenantID, account.Code)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s vanished after conflict", ledger.ErrAccountNotFound, account.Code)
	}
	*account = *existing
	return nil
}

// ListByTenant returns the tenant's chart of accounts ordered by code.
func (r *GormAccountRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]ledger.Account, error) {
	var rows []models.AccountModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Order("code ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	accounts := make([]ledger.Account, len(rows))
	for i := range rows {
		accounts[i] = *rows[i].ToDomain()
	}
	return accounts, nil
}

// GormJournalRepository implements ledger.JournalRepository using GORM
type GormJournalRepository struct {
	db *gorm.DB
}

// NewGormJournalRepository creates a new GormJournalRepository
func NewGormJournalRepository(db *gorm.DB) *GormJournalRepository {
	return &GormJournalRepository{db: db}
}

// Create persists a posted entry with all of its lines.
func (r *GormJournalRepository) Create(ctx context.Context, entry *ledger.JournalEntry) error {
	if entry.Status != ledger.EntryStatusPosted {
		return fmt.Errorf("journal entry %s: refusing to store an unposted entry", entry.Source)
	}
	if !entry.IsBalanced() {
		return ledger.ErrUnbalancedEntry
	}
	model := &models.JournalEntryModel{}
	model.FromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicatePosting, entry.Source)
		}
		return err
	}
	return nil
}

// FindBySource returns the entry posted for source, or nil.
func (r *GormJournalRepository) FindBySource(ctx context.Context, tenantID uuid.UUID, source ledger.SourceRef) (*ledger.JournalEntry, error) {
	var model models.JournalEntryModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Where("source_kind = ? AND source_id = ?", source.Kind, source.ID).
		First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountBySource counts entries for source. Anything above one is a defect.
func (r *GormJournalRepository) CountBySource(ctx context.Context, tenantID uuid.UUID, source ledger.SourceRef) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.JournalEntryModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("source_kind = ? AND source_id = ?", source.Kind, source.ID).
		Count(&count).Error
	return count, err
}

type accountBalanceRow struct {
	AccountID   uuid.UUID
	AccountCode string
	AccountName string
	AccountType ledger.AccountType
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// TrialBalance aggregates posted lines per account up to and including asOf.
func (r *GormJournalRepository) TrialBalance(ctx context.Context, tenantID uuid.UUID, asOf time.Time) ([]ledger.AccountBalance, error) {
	var rows []accountBalanceRow
	err := r.db.WithContext(ctx).
		Table("journal_lines AS l").
		Select(`a.id AS account_id, a.code AS account_code, a.name AS account_name, a.type AS account_type,
			COALESCE(SUM(CASE WHEN l.type = ? THEN l.amount ELSE 0 END), 0) AS debit,
			COALESCE(SUM(CASE WHEN l.type = ? THEN l.amount ELSE 0 END), 0) AS credit`,
			ledger.LineTypeDebit, ledger.LineTypeCredit).
		Joins("JOIN journal_entries e ON e.id = l.entry_id").
		Joins("JOIN accounts a ON a.id = l.account_id").
		Scopes(tenant.ScopeFor("l", tenantID)).
		Where("e.status = ? AND e.entry_date <= ?", ledger.EntryStatusPosted, asOf).
		Group("a.id, a.code, a.name, a.type").
		Order("a.code ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	balances := make([]ledger.AccountBalance, len(rows))
	for i, row := range rows {
		balances[i] = ledger.AccountBalance(row)
	}
	return balances, nil
}

var (
	_ ledger.AccountRepository = (*GormAccountRepository)(nil)
	_ ledger.JournalRepository = (*GormJournalRepository)(nil)
)
