package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"github.com/invoicer/backend/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDocumentRepository implements invoicing.DocumentRepository using GORM
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewGormDocumentRepository creates a new GormDocumentRepository
func NewGormDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") })
}

// FindByID finds a document by ID for a specific tenant
func (r *GormDocumentRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.Document, error) {
	return r.first(r.db.WithContext(ctx), tenantID, "id = ?", id)
}

// FindByIDForUpdate is FindByID holding a row lock on the document until the
// surrounding transaction ends.
func (r *GormDocumentRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.Document, error) {
	db := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.first(db, tenantID, "id = ?", id)
}

// FindByNumber finds a document by its formatted number
func (r *GormDocumentRepository) FindByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*invoicing.Document, error) {
	return r.first(r.db.WithContext(ctx), tenantID, "number = ?", number)
}

func (r *GormDocumentRepository) first(db *gorm.DB, tenantID uuid.UUID, query string, args ...any) (*invoicing.Document, error) {
	var model models.DocumentModel
	if err := db.Scopes(tenant.Scope(tenantID), preloadItems).
		Where(query, args...).
		First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a document with its line items.
func (r *GormDocumentRepository) Create(ctx context.Context, doc *invoicing.Document) error {
	model := &models.DocumentModel{}
	model.FromDomain(doc)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", invoicing.ErrDuplicateNumber, doc.Number)
		}
		return err
	}
	return nil
}

// Update saves the document header with optimistic locking on version.
// Line items are immutable once the document is created.
func (r *GormDocumentRepository) Update(ctx context.Context, doc *invoicing.Document) error {
	res := r.db.WithContext(ctx).
		Model(&models.DocumentModel{}).
		Scopes(tenant.Scope(doc.TenantID)).
		Where("id = ? AND version = ?", doc.ID, doc.Version).
		Updates(map[string]any{
			"status":         doc.Status,
			"payment_status": doc.PaymentStatus,
			"subtotal":       doc.Subtotal,
			"tax_amount":     doc.TaxAmount,
			"total":          doc.Total,
			"notes":          doc.Notes,
			"issued_at":      doc.IssuedAt,
			"paid_at":        doc.PaidAt,
			"updated_at":     doc.UpdatedAt,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	doc.IncrementVersion()
	return nil
}

// DocumentSortFields contains allowed sort fields for documents
var DocumentSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"number":     true,
	"issue_date": true,
	"due_date":   true,
	"total":      true,
	"status":     true,
}

// List returns one page of documents of a kind, plus the total count.
func (r *GormDocumentRepository) List(ctx context.Context, tenantID uuid.UUID, kind invoicing.DocumentKind, filter shared.Filter) ([]invoicing.Document, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.DocumentModel{}).Scopes(tenant.Scope(tenantID))
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if status, ok := filter.Filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("number LIKE ? OR counterparty_name LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, DocumentSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.DocumentModel
	if err := query.Scopes(preloadItems).
		Order(orderBy + " " + orderDir).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toDocuments(rows), total, nil
}

// FindOpenInvoices returns a customer's invoices that can still take money,
// oldest due date first.
func (r *GormDocumentRepository) FindOpenInvoices(ctx context.Context, tenantID uuid.UUID, counterpartyRef string) ([]invoicing.Document, error) {
	var rows []models.DocumentModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID), preloadItems).
		Where("kind = ? AND counterparty_ref = ?", invoicing.KindInvoice, counterpartyRef).
		Where("status IN ?", []invoicing.DocumentStatus{invoicing.StatusSent, invoicing.StatusOverdue}).
		Order("due_date ASC, issue_date ASC, number ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDocuments(rows), nil
}

// FindOverdue returns sent invoices, across tenants, whose due date is before asOf.
func (r *GormDocumentRepository) FindOverdue(ctx context.Context, asOf time.Time, limit int) ([]invoicing.Document, error) {
	var rows []models.DocumentModel
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND status = ? AND due_date < ?", invoicing.KindInvoice, invoicing.StatusSent, asOf).
		Order("due_date ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDocuments(rows), nil
}

func toDocuments(rows []models.DocumentModel) []invoicing.Document {
	docs := make([]invoicing.Document, len(rows))
	for i := range rows {
		docs[i] = *rows[i].ToDomain()
	}
	return docs
}

var _ invoicing.DocumentRepository = (*GormDocumentRepository)(nil)
