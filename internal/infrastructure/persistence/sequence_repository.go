package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/invoicer/backend/internal/domain/sequence"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSequenceRepository implements sequence.CounterRepository on the
// sequence_counters table. NextValue must be called with a *gorm.DB that is
// already inside a transaction; the row lock is held until that transaction ends.
type GormSequenceRepository struct {
	db *gorm.DB
}

// NewGormSequenceRepository creates a new GormSequenceRepository
func NewGormSequenceRepository(db *gorm.DB) *GormSequenceRepository {
	return &GormSequenceRepository{db: db}
}

// NextValue locks the counter row for key, increments it and returns the new value.
//
// When the row does not exist yet a fresh counter at 1 is inserted inside a
// savepoint. Losing that insert to a concurrent writer rolls back only the
// savepoint; the loop then locks the row the winner created and increments it.
func (r *GormSequenceRepository) NextValue(ctx context.Context, key sequence.Key) (int64, error) {
	db := r.db.WithContext(ctx)

	for attempt := 0; attempt < 2; attempt++ {
		var counter models.SequenceCounterModel
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND document_type = ? AND year = ?", key.TenantID, key.DocumentType, key.Year).
			Take(&counter).Error
		if err == nil {
			next := counter.LastValue + 1
			if err := db.Model(&models.SequenceCounterModel{}).
				Where("id = ?", counter.ID).
				Updates(map[string]any{"last_value": next, "updated_at": time.Now()}).Error; err != nil {
				return 0, fmt.Errorf("increment sequence %s: %w", key, err)
			}
			return next, nil
		}
		if !isNotFound(err) {
			return 0, fmt.Errorf("lock sequence %s: %w", key, err)
		}

		row := models.NewSequenceCounterModel(key, time.Now())
		err = db.Transaction(func(sp *gorm.DB) error {
			return sp.Create(row).Error
		})
		if err == nil {
			return row.LastValue, nil
		}
		if !isUniqueViolation(err) {
			return 0, fmt.Errorf("create sequence %s: %w", key, err)
		}
	}
	return 0, fmt.Errorf("%w: %s", sequence.ErrSequenceConflict, key)
}

// Current returns the last issued value for key, or 0 if nothing was issued yet.
func (r *GormSequenceRepository) Current(ctx context.Context, key sequence.Key) (int64, error) {
	var counter models.SequenceCounterModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND document_type = ? AND year = ?", key.TenantID, key.DocumentType, key.Year).
		Take(&counter).Error
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return counter.LastValue, nil
}

var _ sequence.CounterRepository = (*GormSequenceRepository)(nil)
