package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/sequence"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService records payments received outside the gateway flow and
// applies unallocated credit later on.
type PaymentService struct {
	scope          TransactionScope
	sequences      *SequenceGenerator
	poster         *LedgerPoster
	allocator      *PaymentAllocator
	tenants        identity.TenantRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// PaymentServiceConfig holds configuration for the payment service
type PaymentServiceConfig struct {
	Scope          TransactionScope
	Sequences      *SequenceGenerator
	Poster         *LedgerPoster
	Allocator      *PaymentAllocator
	Tenants        identity.TenantRepository
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(config PaymentServiceConfig) *PaymentService {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &PaymentService{
		scope:          config.Scope,
		sequences:      config.Sequences,
		poster:         config.Poster,
		allocator:      config.Allocator,
		tenants:        config.Tenants,
		eventPublisher: config.EventPublisher,
		logger:         logger,
		now:            now,
	}
}

// RecordPayment stores a completed payment numbered PAY-YYYY-NNNN, applies
// it to the requested documents (or oldest open invoices of the
// counterparty when none are given) and posts the cash-side entry. The
// whole operation is one transaction.
func (s *PaymentService) RecordPayment(ctx context.Context, tenantID uuid.UUID, req RecordPaymentRequest) (*PaymentResponse, error) {
	if err := ensureTenantActive(ctx, s.tenants, tenantID); err != nil {
		return nil, err
	}

	receivedAt := s.now()
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}

	var (
		resp   PaymentResponse
		events eventBatch
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		number, err := s.sequences.GenerateInTx(ctx, repos, tenantID, sequence.DocumentTypePayment, receivedAt.Year())
		if err != nil {
			return err
		}
		p, err := payment.NewManualPayment(tenantID, number, payment.Method(req.Method), req.Amount, req.Reference, req.CounterpartyRef, receivedAt)
		if err != nil {
			return err
		}
		if err := repos.Payments().Create(ctx, p); err != nil {
			return err
		}

		targets := req.Targets
		if len(targets) == 0 && req.CounterpartyRef != "" {
			targets, err = s.planOldestFirst(ctx, repos, tenantID, req.CounterpartyRef, p.Amount)
			if err != nil {
				return err
			}
		}

		var allocations []payment.Allocation
		if len(targets) > 0 {
			result, err := s.allocator.AllocateInTx(ctx, repos, p, targets)
			if err != nil {
				return err
			}
			allocations = result.Allocations
			for _, doc := range result.Documents {
				events.collect(doc)
			}
		}

		entry, err := s.poster.PostPayment(ctx, repos, p, allocations)
		if err != nil {
			return err
		}
		events.collect(p)
		resp = ToPaymentResponse(p, allocations, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.publish(ctx, s.eventPublisher, s.logger)
	s.logger.Info("Payment recorded",
		zap.String("tenant_id", tenantID.String()),
		zap.String("number", resp.Number),
		zap.String("amount", resp.Amount.StringFixed(2)),
		zap.Int("allocations", len(resp.Allocations)))
	return &resp, nil
}

// ApplyUnappliedCredit allocates what is left of an earlier payment to
// invoices and reclassifies it from unapplied credit to receivables.
func (s *PaymentService) ApplyUnappliedCredit(ctx context.Context, tenantID, paymentID uuid.UUID, req ApplyCreditRequest) (*PaymentResponse, error) {
	if _, err := s.allocator.Allocate(ctx, tenantID, paymentID, req.Targets); err != nil {
		return nil, err
	}
	return s.GetPayment(ctx, tenantID, paymentID)
}

// GetPayment returns a payment with its allocations and cash-side entry
func (s *PaymentService) GetPayment(ctx context.Context, tenantID, id uuid.UUID) (*PaymentResponse, error) {
	var resp PaymentResponse
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		p, err := repos.Payments().FindByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if p == nil {
			return payment.ErrNotFound
		}
		allocations, err := repos.Allocations().ListByPayment(ctx, tenantID, id)
		if err != nil {
			return err
		}
		entry, err := repos.Journals().FindBySource(ctx, tenantID, ledger.PaymentSource(id))
		if err != nil {
			return err
		}
		resp = ToPaymentResponse(p, allocations, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *PaymentService) planOldestFirst(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, counterpartyRef string, amount decimal.Decimal) ([]AllocationTarget, error) {
	docs, err := repos.Documents().FindOpenInvoices(ctx, tenantID, counterpartyRef)
	if err != nil {
		return nil, err
	}
	outstanding := make(map[uuid.UUID]decimal.Decimal, len(docs))
	for i := range docs {
		allocated, err := repos.Allocations().SumByDocument(ctx, tenantID, docs[i].ID)
		if err != nil {
			return nil, err
		}
		outstanding[docs[i].ID] = docs[i].OutstandingBalance(allocated)
	}
	return PlanFIFO(docs, outstanding, amount), nil
}
