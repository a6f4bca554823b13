package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/sequence"
)

// SequenceCounterModel holds the last number issued for one (tenant, type, year) key.
// The unique index is what arbitrates concurrent first-use inserts.
type SequenceCounterModel struct {
	ID           uuid.UUID             `gorm:"type:uuid;primary_key"`
	TenantID     uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_sequence_key,priority:1"`
	DocumentType sequence.DocumentType `gorm:"type:varchar(20);not null;uniqueIndex:idx_sequence_key,priority:2"`
	Year         int                   `gorm:"not null;uniqueIndex:idx_sequence_key,priority:3"`
	LastValue    int64                 `gorm:"not null"`
	CreatedAt    time.Time             `gorm:"not null"`
	UpdatedAt    time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SequenceCounterModel) TableName() string {
	return "sequence_counters"
}

// NewSequenceCounterModel builds the first row for a key, already holding value 1.
func NewSequenceCounterModel(key sequence.Key, now time.Time) *SequenceCounterModel {
	return &SequenceCounterModel{
		ID:           uuid.New(),
		TenantID:     key.TenantID,
		DocumentType: key.DocumentType,
		Year:         key.Year,
		LastValue:    1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
