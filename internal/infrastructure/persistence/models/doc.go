// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Every model exposes ToDomain and FromDomain so repositories never hand GORM
// structs to the application layer.
//
// Structure:
//   - base.go: shared columns (BaseModel, AggregateModel, TenantAggregateModel)
//   - tenant.go: tenants
//   - sequence.go: per-tenant document number counters
//   - ledger.go: chart of accounts, journal entries and lines
//   - document.go: invoices, bills and their line items
//   - payment.go: payments, allocations and the gateway event audit trail
//   - billing.go: plans and subscriptions
package models

// AllModels lists every model for AutoMigrate in tests and local tooling.
func AllModels() []any {
	return []any{
		&TenantModel{},
		&SequenceCounterModel{},
		&AccountModel{},
		&JournalEntryModel{},
		&JournalLineModel{},
		&DocumentModel{},
		&DocumentItemModel{},
		&PaymentModel{},
		&PaymentAllocationModel{},
		&GatewayEventModel{},
		&PlanModel{},
		&SubscriptionModel{},
	}
}
