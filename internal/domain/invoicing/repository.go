package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/shared"
)

// DocumentRepository persists invoices and bills. Find methods return
// nil, nil when nothing matches.
type DocumentRepository interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Document, error)
	// FindByIDForUpdate loads the document holding a row lock until the
	// surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Document, error)
	FindByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*Document, error)
	// Create returns ErrDuplicateNumber on a number collision.
	Create(ctx context.Context, doc *Document) error
	// Update saves header fields. Returns shared.ErrConcurrencyConflict if
	// the stored version moved on.
	Update(ctx context.Context, doc *Document) error
	List(ctx context.Context, tenantID uuid.UUID, kind DocumentKind, filter shared.Filter) ([]Document, int64, error)
	// FindOpenInvoices returns payable invoices for a counterparty ordered by
	// due date then creation time.
	FindOpenInvoices(ctx context.Context, tenantID uuid.UUID, counterpartyRef string) ([]Document, error)
	// FindOverdue returns sent invoices due before asOf across tenants.
	FindOverdue(ctx context.Context, asOf time.Time, limit int) ([]Document, error)
}
