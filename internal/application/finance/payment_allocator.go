package finance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocationTarget asks for amount of a payment to be applied to a document.
type AllocationTarget struct {
	DocumentID uuid.UUID       `json:"document_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
}

// AllocationResult is what one allocation call wrote.
type AllocationResult struct {
	BatchID     uuid.UUID
	Allocations []payment.Allocation
	Documents   []*invoicing.Document
	// Unallocated is what is left of the payment after this call.
	Unallocated decimal.Decimal
}

// PaymentAllocator applies payments to invoices. Each document is locked
// and its outstanding balance recomputed from the allocation rows before
// anything is written, so concurrent allocations can never push a document
// past its total.
type PaymentAllocator struct {
	scope          TransactionScope
	poster         *LedgerPoster
	tenants        identity.TenantRepository
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// PaymentAllocatorConfig holds configuration for the payment allocator
type PaymentAllocatorConfig struct {
	Scope          TransactionScope
	Poster         *LedgerPoster
	Tenants        identity.TenantRepository
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewPaymentAllocator creates a new PaymentAllocator
func NewPaymentAllocator(config PaymentAllocatorConfig) *PaymentAllocator {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &PaymentAllocator{
		scope:          config.Scope,
		poster:         config.Poster,
		tenants:        config.Tenants,
		eventPublisher: config.EventPublisher,
		logger:         logger,
		now:            now,
	}
}

// Allocate applies a completed, already posted payment to documents in its
// own transaction and posts the matching credit application entry.
func (a *PaymentAllocator) Allocate(ctx context.Context, tenantID, paymentID uuid.UUID, targets []AllocationTarget) (*AllocationResult, error) {
	if err := ensureTenantActive(ctx, a.tenants, tenantID); err != nil {
		return nil, err
	}

	var (
		result *AllocationResult
		events eventBatch
	)
	err := a.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		p, err := repos.Payments().FindByIDForUpdate(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return payment.ErrNotFound
		}

		result, err = a.AllocateInTx(ctx, repos, p, targets)
		if err != nil {
			return err
		}
		if _, err := a.poster.PostCreditApplication(ctx, repos, p, result.BatchID, result.Allocations); err != nil {
			return err
		}
		for _, doc := range result.Documents {
			events.collect(doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.publish(ctx, a.eventPublisher, a.logger)
	return result, nil
}

// AllocateInTx validates and writes allocations inside the caller's
// transaction. p must already be locked by the caller. Documents are locked
// in id order so two allocations touching the same documents cannot
// deadlock. Journal posting is left to the caller.
func (a *PaymentAllocator) AllocateInTx(ctx context.Context, repos TransactionalRepositories, p *payment.Payment, targets []AllocationTarget) (*AllocationResult, error) {
	if !p.IsAllocatable() {
		return nil, payment.ErrNotAllocatable
	}
	targets, err := mergeTargets(targets)
	if err != nil {
		return nil, err
	}

	allocated, err := repos.Allocations().SumByPayment(ctx, p.TenantID, p.ID)
	if err != nil {
		return nil, err
	}
	remaining := payment.Unallocated(p.Amount, allocated)

	now := a.now()
	result := &AllocationResult{BatchID: uuid.New()}
	var rows []*payment.Allocation

	for _, t := range targets {
		if t.Amount.GreaterThan(remaining) {
			return nil, fmt.Errorf("%w: payment %s has %s unallocated, requested %s",
				payment.ErrOverAllocation, p.ID, remaining.StringFixed(2), t.Amount.StringFixed(2))
		}

		doc, err := repos.Documents().FindByIDForUpdate(ctx, p.TenantID, t.DocumentID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("document %s: %w", t.DocumentID, shared.ErrNotFound)
		}
		if err := doc.AcceptsPayment(); err != nil {
			return nil, err
		}

		// Outstanding balance always comes from the allocation rows
		docAllocated, err := repos.Allocations().SumByDocument(ctx, p.TenantID, doc.ID)
		if err != nil {
			return nil, err
		}
		outstanding := doc.OutstandingBalance(docAllocated)
		if t.Amount.GreaterThan(outstanding) {
			return nil, fmt.Errorf("%w: document %s has %s outstanding, requested %s",
				payment.ErrOverAllocation, doc.Number, outstanding.StringFixed(2), t.Amount.StringFixed(2))
		}

		row, err := payment.NewAllocation(p, result.BatchID, doc.ID, doc.Number, t.Amount, now)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		remaining = remaining.Sub(t.Amount)

		doc.ApplyAllocations(docAllocated.Add(t.Amount), now)
		if err := repos.Documents().Update(ctx, doc); err != nil {
			return nil, err
		}
		result.Documents = append(result.Documents, doc)
	}

	if err := repos.Allocations().CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result.Allocations = append(result.Allocations, *row)
	}
	result.Unallocated = remaining

	a.logger.Info("Payment allocated",
		zap.String("tenant_id", p.TenantID.String()),
		zap.String("payment_id", p.ID.String()),
		zap.Int("documents", len(rows)),
		zap.String("unallocated", remaining.StringFixed(2)))
	return result, nil
}

// PlanFIFO spreads amount over open invoices in the order given, filling the
// oldest first. outstanding holds each document's current balance by id.
func PlanFIFO(docs []invoicing.Document, outstanding map[uuid.UUID]decimal.Decimal, amount decimal.Decimal) []AllocationTarget {
	var targets []AllocationTarget
	left := amount
	for _, doc := range docs {
		if !left.IsPositive() {
			break
		}
		due := outstanding[doc.ID]
		if !due.IsPositive() {
			continue
		}
		take := decimal.Min(due, left)
		targets = append(targets, AllocationTarget{DocumentID: doc.ID, Amount: take})
		left = left.Sub(take)
	}
	return targets
}

// mergeTargets validates amounts, folds repeated documents into one target
// and orders the result by document id.
func mergeTargets(targets []AllocationTarget) ([]AllocationTarget, error) {
	if len(targets) == 0 {
		return nil, shared.NewDomainError("NO_TARGETS", "At least one allocation target is required")
	}
	byDoc := make(map[uuid.UUID]decimal.Decimal, len(targets))
	for _, t := range targets {
		if t.DocumentID == uuid.Nil {
			return nil, payment.ErrInvalidTarget
		}
		if !t.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: %s for document %s", payment.ErrInvalidAmount, t.Amount, t.DocumentID)
		}
		byDoc[t.DocumentID] = byDoc[t.DocumentID].Add(t.Amount.Round(2))
	}
	out := make([]AllocationTarget, 0, len(byDoc))
	for id, amount := range byDoc {
		out = append(out, AllocationTarget{DocumentID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DocumentID.String() < out[j].DocumentID.String()
	})
	return out, nil
}
