package finance

import (
	"context"

	"github.com/invoicer/backend/internal/domain/billing"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/sequence"
)

// TransactionScope runs a unit of work atomically. Every repository handed
// to fn shares the same database transaction: if fn returns an error the
// whole unit is rolled back, including any sequence number it consumed.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes the repositories bound to one transaction.
type TransactionalRepositories interface {
	Sequences() sequence.CounterRepository
	Accounts() ledger.AccountRepository
	Journals() ledger.JournalRepository
	Documents() invoicing.DocumentRepository
	Payments() payment.PaymentRepository
	Allocations() payment.AllocationRepository
	GatewayEvents() payment.GatewayEventRepository
	Plans() billing.PlanRepository
	Subscriptions() billing.SubscriptionRepository
}
