package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/shopspring/decimal"
)

// DocumentModel is the persistence model for invoices and bills.
type DocumentModel struct {
	AggregateModel
	TenantID         uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex:idx_document_tenant_number,priority:1;index:idx_document_tenant_kind,priority:1"`
	Kind             invoicing.DocumentKind   `gorm:"type:varchar(10);not null;index:idx_document_tenant_kind,priority:2"`
	Number           string                   `gorm:"type:varchar(50);not null;uniqueIndex:idx_document_tenant_number,priority:2"`
	CounterpartyRef  string                   `gorm:"type:varchar(100);index"`
	CounterpartyName string                   `gorm:"type:varchar(200);not null"`
	IssueDate        time.Time                `gorm:"type:date;not null"`
	DueDate          time.Time                `gorm:"type:date;not null;index"`
	Status           invoicing.DocumentStatus `gorm:"type:varchar(20);not null;default:'draft';index"`
	PaymentStatus    invoicing.PaymentStatus  `gorm:"type:varchar(20);not null;default:'unpaid'"`
	Subtotal         decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	TaxAmount        decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Total            decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Notes            string                   `gorm:"type:text"`
	IssuedAt         *time.Time
	PaidAt           *time.Time
	Items            []DocumentItemModel `gorm:"foreignKey:DocumentID;references:ID"`
}

// TableName returns the table name for GORM
func (DocumentModel) TableName() string {
	return "documents"
}

// ToDomain converts the persistence model to a domain Document.
func (m *DocumentModel) ToDomain() *invoicing.Document {
	d := &invoicing.Document{
		Kind:             m.Kind,
		Number:           m.Number,
		CounterpartyRef:  m.CounterpartyRef,
		CounterpartyName: m.CounterpartyName,
		IssueDate:        m.IssueDate,
		DueDate:          m.DueDate,
		Status:           m.Status,
		PaymentStatus:    m.PaymentStatus,
		Subtotal:         m.Subtotal,
		TaxAmount:        m.TaxAmount,
		Total:            m.Total,
		Notes:            m.Notes,
		IssuedAt:         m.IssuedAt,
		PaidAt:           m.PaidAt,
		Items:            make([]invoicing.LineItem, len(m.Items)),
	}
	m.PopulateAggregateRoot(&d.BaseAggregateRoot)
	d.TenantID = m.TenantID
	for i := range m.Items {
		d.Items[i] = m.Items[i].ToDomain()
	}
	return d
}

// FromDomain populates the persistence model from a domain Document.
func (m *DocumentModel) FromDomain(d *invoicing.Document) {
	m.FromDomainAggregateRoot(d.BaseAggregateRoot)
	m.TenantID = d.TenantID
	m.Kind = d.Kind
	m.Number = d.Number
	m.CounterpartyRef = d.CounterpartyRef
	m.CounterpartyName = d.CounterpartyName
	m.IssueDate = d.IssueDate
	m.DueDate = d.DueDate
	m.Status = d.Status
	m.PaymentStatus = d.PaymentStatus
	m.Subtotal = d.Subtotal
	m.TaxAmount = d.TaxAmount
	m.Total = d.Total
	m.Notes = d.Notes
	m.IssuedAt = d.IssuedAt
	m.PaidAt = d.PaidAt
	m.Items = make([]DocumentItemModel, len(d.Items))
	for i, item := range d.Items {
		m.Items[i].FromDomain(d, item)
	}
}

// DocumentItemModel is one line on an invoice or bill.
type DocumentItemModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	DocumentID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNo      int             `gorm:"not null"`
	Description string          `gorm:"type:varchar(500);not null"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxRate     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	AccountCode string          `gorm:"type:varchar(20)"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(18,2);not null"`
}

// TableName returns the table name for GORM
func (DocumentItemModel) TableName() string {
	return "document_items"
}

// ToDomain converts the item model to a domain LineItem.
func (m *DocumentItemModel) ToDomain() invoicing.LineItem {
	return invoicing.LineItem{
		ID:          m.ID,
		LineNo:      m.LineNo,
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		TaxRate:     m.TaxRate,
		AccountCode: m.AccountCode,
		Subtotal:    m.Subtotal,
		TaxAmount:   m.TaxAmount,
		LineTotal:   m.LineTotal,
	}
}

// FromDomain populates the item model from a domain LineItem on doc.
func (m *DocumentItemModel) FromDomain(doc *invoicing.Document, item invoicing.LineItem) {
	m.ID = item.ID
	m.TenantID = doc.TenantID
	m.DocumentID = doc.ID
	m.LineNo = item.LineNo
	m.Description = item.Description
	m.Quantity = item.Quantity
	m.UnitPrice = item.UnitPrice
	m.TaxRate = item.TaxRate
	m.AccountCode = item.AccountCode
	m.Subtotal = item.Subtotal
	m.TaxAmount = item.TaxAmount
	m.LineTotal = item.LineTotal
}
