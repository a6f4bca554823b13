package persistence

import (
	"context"

	appfin "github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/billing"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/sequence"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn within a database transaction. A returned error rolls the
// transaction back; otherwise it is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appfin.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) Sequences() sequence.CounterRepository {
	return NewGormSequenceRepository(r.tx)
}

func (r *gormTransactionalRepositories) Accounts() ledger.AccountRepository {
	return NewGormAccountRepository(r.tx)
}

func (r *gormTransactionalRepositories) Journals() ledger.JournalRepository {
	return NewGormJournalRepository(r.tx)
}

func (r *gormTransactionalRepositories) Documents() invoicing.DocumentRepository {
	return NewGormDocumentRepository(r.tx)
}

func (r *gormTransactionalRepositories) Payments() payment.PaymentRepository {
	return NewGormPaymentRepository(r.tx)
}

func (r *gormTransactionalRepositories) Allocations() payment.AllocationRepository {
	return NewGormAllocationRepository(r.tx)
}

func (r *gormTransactionalRepositories) GatewayEvents() payment.GatewayEventRepository {
	return NewGormGatewayEventRepository(r.tx)
}

func (r *gormTransactionalRepositories) Plans() billing.PlanRepository {
	return NewGormPlanRepository(r.tx)
}

func (r *gormTransactionalRepositories) Subscriptions() billing.SubscriptionRepository {
	return NewGormSubscriptionRepository(r.tx)
}

var (
	_ appfin.TransactionScope          = (*GormTransactionScope)(nil)
	_ appfin.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
)
