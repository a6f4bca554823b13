package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/sequence"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService manages the lifecycle of invoices and bills
type InvoiceService struct {
	scope          TransactionScope
	sequences      *SequenceGenerator
	poster         *LedgerPoster
	tenants        identity.TenantRepository
	eventPublisher shared.EventPublisher
	retry          shared.RetryPolicy
	logger         *zap.Logger
	now            func() time.Time
}

// InvoiceServiceConfig holds configuration for the invoice service
type InvoiceServiceConfig struct {
	Scope          TransactionScope
	Sequences      *SequenceGenerator
	Poster         *LedgerPoster
	Tenants        identity.TenantRepository
	EventPublisher shared.EventPublisher
	// Retry bounds attempts on a document number collision. Zero value
	// means three attempts without waiting.
	Retry  shared.RetryPolicy
	Logger *zap.Logger
	Now    func() time.Time
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(config InvoiceServiceConfig) *InvoiceService {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	retry := config.Retry
	if retry.MaxAttempts == 0 {
		retry = shared.NoWaitRetryPolicy(3)
	}
	return &InvoiceService{
		scope:          config.Scope,
		sequences:      config.Sequences,
		poster:         config.Poster,
		tenants:        config.Tenants,
		eventPublisher: config.EventPublisher,
		retry:          retry,
		logger:         logger,
		now:            now,
	}
}

// CreateInvoice creates a draft invoice numbered INV-YYYY-NNNN
func (s *InvoiceService) CreateInvoice(ctx context.Context, tenantID uuid.UUID, req CreateDocumentRequest) (*DocumentResponse, error) {
	return s.create(ctx, tenantID, invoicing.KindInvoice, sequence.DocumentTypeInvoice, req)
}

// CreateBill creates a draft bill numbered BILL-YYYY-NNNN
func (s *InvoiceService) CreateBill(ctx context.Context, tenantID uuid.UUID, req CreateDocumentRequest) (*DocumentResponse, error) {
	return s.create(ctx, tenantID, invoicing.KindBill, sequence.DocumentTypeBill, req)
}

func (s *InvoiceService) create(ctx context.Context, tenantID uuid.UUID, kind invoicing.DocumentKind, docType sequence.DocumentType, req CreateDocumentRequest) (*DocumentResponse, error) {
	if err := ensureTenantActive(ctx, s.tenants, tenantID); err != nil {
		return nil, err
	}

	items := make([]invoicing.LineItem, 0, len(req.Items))
	for _, in := range req.Items {
		item, err := invoicing.NewLineItem(in.Description, in.Quantity, in.UnitPrice, in.TaxRate, in.AccountCode)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	var doc *invoicing.Document
	err := s.retry.Do(ctx, isDuplicateNumber, func(attempt int) error {
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			number, err := s.sequences.GenerateInTx(ctx, repos, tenantID, docType, req.IssueDate.Year())
			if err != nil {
				return err
			}
			doc, err = invoicing.NewDocument(tenantID, kind, number, req.CounterpartyRef, req.CounterpartyName, req.IssueDate, req.DueDate, items)
			if err != nil {
				return err
			}
			doc.Notes = req.Notes
			if err := repos.Documents().Create(ctx, doc); err != nil {
				if isDuplicateNumber(err) {
					s.logger.Warn("Document number collided, retrying",
						zap.String("number", number),
						zap.Int("attempt", attempt))
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Document created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("kind", string(kind)),
		zap.String("number", doc.Number),
		zap.String("total", doc.Total.StringFixed(2)))
	resp := ToDocumentResponse(doc, decimal.Zero)
	return &resp, nil
}

// GetDocument returns a document with its outstanding balance recomputed
// from the allocation rows.
func (s *InvoiceService) GetDocument(ctx context.Context, tenantID, id uuid.UUID) (*DocumentResponse, error) {
	var resp DocumentResponse
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		doc, err := repos.Documents().FindByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return shared.ErrNotFound
		}
		allocated, err := repos.Allocations().SumByDocument(ctx, tenantID, id)
		if err != nil {
			return err
		}
		resp = ToDocumentResponse(doc, allocated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDocuments returns one page of documents of a kind
func (s *InvoiceService) ListDocuments(ctx context.Context, tenantID uuid.UUID, kind invoicing.DocumentKind, filter shared.Filter) (shared.Paginated[DocumentResponse], error) {
	var page shared.Paginated[DocumentResponse]
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		docs, total, err := repos.Documents().List(ctx, tenantID, kind, filter)
		if err != nil {
			return err
		}
		items := make([]DocumentResponse, len(docs))
		for i := range docs {
			allocated, err := repos.Allocations().SumByDocument(ctx, tenantID, docs[i].ID)
			if err != nil {
				return err
			}
			items[i] = ToDocumentResponse(&docs[i], allocated)
		}
		page = shared.NewPaginated(items, total, filter.Page, filter.Limit())
		return nil
	})
	return page, err
}

// SendInvoice issues a draft invoice and posts it to the ledger in the same
// transaction.
func (s *InvoiceService) SendInvoice(ctx context.Context, tenantID, id uuid.UUID) (*DocumentResponse, error) {
	return s.issue(ctx, tenantID, id, invoicing.KindInvoice)
}

// ReceiveBill records a draft bill as received and posts it to the ledger
// in the same transaction.
func (s *InvoiceService) ReceiveBill(ctx context.Context, tenantID, id uuid.UUID) (*DocumentResponse, error) {
	return s.issue(ctx, tenantID, id, invoicing.KindBill)
}

func (s *InvoiceService) issue(ctx context.Context, tenantID, id uuid.UUID, kind invoicing.DocumentKind) (*DocumentResponse, error) {
	if err := ensureTenantActive(ctx, s.tenants, tenantID); err != nil {
		return nil, err
	}

	var (
		doc    *invoicing.Document
		events eventBatch
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		doc, err = s.lockDocument(ctx, repos, tenantID, id, kind)
		if err != nil {
			return err
		}
		if err := doc.Issue(s.now()); err != nil {
			return err
		}
		if err := repos.Documents().Update(ctx, doc); err != nil {
			return err
		}

		if kind == invoicing.KindInvoice {
			_, err = s.poster.PostInvoice(ctx, repos, doc)
		} else {
			_, err = s.poster.PostBill(ctx, repos, doc)
		}
		if err != nil {
			return err
		}
		events.collect(doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.publish(ctx, s.eventPublisher, s.logger)
	s.logger.Info("Document issued",
		zap.String("tenant_id", tenantID.String()),
		zap.String("number", doc.Number),
		zap.String("status", string(doc.Status)))
	resp := ToDocumentResponse(doc, decimal.Zero)
	return &resp, nil
}

// CancelDocument voids a draft document
func (s *InvoiceService) CancelDocument(ctx context.Context, tenantID, id uuid.UUID) (*DocumentResponse, error) {
	if err := ensureTenantActive(ctx, s.tenants, tenantID); err != nil {
		return nil, err
	}

	var doc *invoicing.Document
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		doc, err = s.lockDocument(ctx, repos, tenantID, id, "")
		if err != nil {
			return err
		}
		if err := doc.Cancel(s.now()); err != nil {
			return err
		}
		return repos.Documents().Update(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	resp := ToDocumentResponse(doc, decimal.Zero)
	return &resp, nil
}

// MarkOverdue flags sent invoices past their due date that still have a
// balance, across all tenants. It returns how many were flagged. A failure
// on one invoice is logged and does not stop the batch.
func (s *InvoiceService) MarkOverdue(ctx context.Context, asOf time.Time, limit int) (int, error) {
	var candidates []invoicing.Document
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		candidates, err = repos.Documents().FindOverdue(ctx, asOf, limit)
		return err
	})
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, c := range candidates {
		err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			doc, err := repos.Documents().FindByIDForUpdate(ctx, c.TenantID, c.ID)
			if err != nil || doc == nil || doc.Status != invoicing.StatusSent {
				return err
			}
			allocated, err := repos.Allocations().SumByDocument(ctx, doc.TenantID, doc.ID)
			if err != nil {
				return err
			}
			if !doc.OutstandingBalance(allocated).IsPositive() {
				return nil
			}
			if err := doc.MarkOverdue(asOf); err != nil {
				return err
			}
			if err := repos.Documents().Update(ctx, doc); err != nil {
				return err
			}
			flagged++
			return nil
		})
		if err != nil {
			s.logger.Warn("Failed to mark invoice overdue",
				zap.String("tenant_id", c.TenantID.String()),
				zap.String("number", c.Number),
				zap.Error(err))
		}
	}
	return flagged, nil
}

func (s *InvoiceService) lockDocument(ctx context.Context, repos TransactionalRepositories, tenantID, id uuid.UUID, kind invoicing.DocumentKind) (*invoicing.Document, error) {
	doc, err := repos.Documents().FindByIDForUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || (kind != "" && doc.Kind != kind) {
		return nil, fmt.Errorf("document %s: %w", id, shared.ErrNotFound)
	}
	return doc, nil
}

func isDuplicateNumber(err error) bool {
	return errors.Is(err, invoicing.ErrDuplicateNumber)
}
