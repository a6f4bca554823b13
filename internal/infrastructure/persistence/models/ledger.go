package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// AccountModel is the persistence model for a chart-of-accounts entry.
type AccountModel struct {
	BaseModel
	TenantID uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_account_tenant_code,priority:1"`
	Code     string             `gorm:"type:varchar(20);not null;uniqueIndex:idx_account_tenant_code,priority:2"`
	Name     string             `gorm:"type:varchar(200);not null"`
	Type     ledger.AccountType `gorm:"type:varchar(20);not null"`
	ParentID *uuid.UUID         `gorm:"type:uuid"`
	IsSystem bool               `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account entity.
func (m *AccountModel) ToDomain() *ledger.Account {
	return &ledger.Account{
		BaseEntity: m.BaseModel.ToDomain(),
		TenantID:   m.TenantID,
		Code:       m.Code,
		Name:       m.Name,
		Type:       m.Type,
		ParentID:   m.ParentID,
		IsSystem:   m.IsSystem,
	}
}

// FromDomain populates the persistence model from a domain Account entity.
func (m *AccountModel) FromDomain(a *ledger.Account) {
	m.FromDomainBaseEntity(a.BaseEntity)
	m.TenantID = a.TenantID
	m.Code = a.Code
	m.Name = a.Name
	m.Type = a.Type
	m.ParentID = a.ParentID
	m.IsSystem = a.IsSystem
}

// JournalEntryModel is the persistence model for a posted journal entry.
// One entry per (tenant, source) is enforced by idx_journal_source.
type JournalEntryModel struct {
	AggregateModel
	TenantID    uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_journal_tenant_number,priority:1;uniqueIndex:idx_journal_source,priority:1"`
	EntryNumber string             `gorm:"type:varchar(50);not null;uniqueIndex:idx_journal_tenant_number,priority:2"`
	EntryDate   time.Time          `gorm:"type:date;not null;index"`
	SourceKind  ledger.SourceKind  `gorm:"type:varchar(30);not null;uniqueIndex:idx_journal_source,priority:2"`
	SourceID    uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_journal_source,priority:3"`
	Description string             `gorm:"type:varchar(500)"`
	Status      ledger.EntryStatus `gorm:"type:varchar(20);not null"`
	PostedAt    *time.Time
	Lines       []JournalLineModel `gorm:"foreignKey:EntryID;references:ID"`
}

// TableName returns the table name for GORM
func (JournalEntryModel) TableName() string {
	return "journal_entries"
}

// ToDomain converts the persistence model to a domain JournalEntry.
func (m *JournalEntryModel) ToDomain() *ledger.JournalEntry {
	e := &ledger.JournalEntry{
		EntryNumber: m.EntryNumber,
		EntryDate:   m.EntryDate,
		Source:      ledger.SourceRef{Kind: m.SourceKind, ID: m.SourceID},
		Description: m.Description,
		Status:      m.Status,
		PostedAt:    m.PostedAt,
		Lines:       make([]ledger.JournalLine, len(m.Lines)),
	}
	m.PopulateAggregateRoot(&e.BaseAggregateRoot)
	e.TenantID = m.TenantID
	for i := range m.Lines {
		e.Lines[i] = m.Lines[i].ToDomain()
	}
	return e
}

// FromDomain populates the persistence model from a domain JournalEntry.
func (m *JournalEntryModel) FromDomain(e *ledger.JournalEntry) {
	m.FromDomainAggregateRoot(e.BaseAggregateRoot)
	m.TenantID = e.TenantID
	m.EntryNumber = e.EntryNumber
	m.EntryDate = e.EntryDate
	m.SourceKind = e.Source.Kind
	m.SourceID = e.Source.ID
	m.Description = e.Description
	m.Status = e.Status
	m.PostedAt = e.PostedAt
	m.Lines = make([]JournalLineModel, len(e.Lines))
	for i, l := range e.Lines {
		m.Lines[i] = JournalLineModel{
			ID:          l.ID,
			TenantID:    e.TenantID,
			EntryID:     e.ID,
			LineNo:      l.LineNo,
			AccountID:   l.AccountID,
			AccountCode: l.AccountCode,
			Type:        l.Type,
			Amount:      l.Amount,
			Description: l.Description,
		}
	}
}

// JournalLineModel is one debit or credit line.
type JournalLineModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	EntryID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNo      int             `gorm:"not null"`
	AccountID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	AccountCode string          `gorm:"type:varchar(20);not null"`
	Type        ledger.LineType `gorm:"type:varchar(10);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Description string          `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (JournalLineModel) TableName() string {
	return "journal_lines"
}

// ToDomain converts the line model to a domain JournalLine.
func (m *JournalLineModel) ToDomain() ledger.JournalLine {
	return ledger.JournalLine{
		ID:          m.ID,
		LineNo:      m.LineNo,
		AccountID:   m.AccountID,
		AccountCode: m.AccountCode,
		Type:        m.Type,
		Amount:      m.Amount,
		Description: m.Description,
	}
}
