package invoicing

import (
	"errors"

	"github.com/invoicer/backend/internal/domain/shared"
)

var (
	ErrInvalidLineItem = errors.New("invoicing: invalid line item")
	ErrNoLineItems     = shared.NewDomainError("NO_LINE_ITEMS", "Document needs at least one line item")
	ErrNotEditable     = shared.NewDomainError("INVALID_STATE", "Only draft documents can be edited")
	ErrNotPayable      = shared.NewDomainError("NOT_PAYABLE", "Document cannot receive payments in its current state")
	// ErrDuplicateNumber is returned by repositories when the document
	// number unique index rejects an insert.
	ErrDuplicateNumber = errors.New("invoicing: duplicate document number")
)
