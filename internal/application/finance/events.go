package finance

import (
	"context"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/shared"
	"go.uber.org/zap"
)

type eventSource interface {
	GetDomainEvents() []shared.DomainEvent
	ClearDomainEvents()
}

// eventBatch collects domain events raised inside a transaction so they can
// be published once it has committed.
type eventBatch []shared.DomainEvent

func (b *eventBatch) collect(sources ...eventSource) {
	for _, s := range sources {
		*b = append(*b, s.GetDomainEvents()...)
		s.ClearDomainEvents()
	}
}

// publish hands the events to the publisher. Failures are logged only: the
// financial transaction has already committed and must stand.
func (b eventBatch) publish(ctx context.Context, publisher shared.EventPublisher, logger *zap.Logger) {
	if publisher == nil || len(b) == 0 {
		return
	}
	if err := publisher.Publish(ctx, b...); err != nil {
		logger.Error("Failed to publish domain events",
			zap.Int("count", len(b)),
			zap.Error(err))
	}
}

// ensureTenantActive rejects writes for suspended tenants. A nil repository
// disables the check.
func ensureTenantActive(ctx context.Context, tenants identity.TenantRepository, tenantID uuid.UUID) error {
	if tenants == nil {
		return nil
	}
	t, err := tenants.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	return t.EnsureActive()
}
