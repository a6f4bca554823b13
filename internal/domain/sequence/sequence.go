// Package sequence models tenant and year scoped document numbering.
package sequence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DocumentType identifies a numbered document family
type DocumentType string

const (
	DocumentTypeInvoice DocumentType = "invoice"
	DocumentTypeBill    DocumentType = "bill"
	DocumentTypePayment DocumentType = "payment"
	DocumentTypeJournal DocumentType = "journal"
)

var prefixes = map[DocumentType]string{
	DocumentTypeInvoice: "INV",
	DocumentTypeBill:    "BILL",
	DocumentTypePayment: "PAY",
	DocumentTypeJournal: "JE",
}

// IsValid reports whether t is a known document type
func (t DocumentType) IsValid() bool {
	_, ok := prefixes[t]
	return ok
}

// Prefix returns the number prefix for the document type
func (t DocumentType) Prefix() string {
	return prefixes[t]
}

var (
	ErrInvalidKey = errors.New("sequence: invalid key")
	// ErrSequenceConflict reports a lost race on the counter row. It is
	// recoverable by retrying the enclosing transaction.
	ErrSequenceConflict = errors.New("sequence: conflicting counter update")
	// ErrSequenceExhausted is returned once the bounded retries are used up.
	ErrSequenceExhausted = errors.New("sequence: could not issue number after retries")
	ErrInvalidNumber     = errors.New("sequence: malformed document number")
)

// Key is the composite identity of one counter.
type Key struct {
	TenantID     uuid.UUID
	DocumentType DocumentType
	Year         int
}

// NewKey validates and builds a counter key.
func NewKey(tenantID uuid.UUID, docType DocumentType, year int) (Key, error) {
	if tenantID == uuid.Nil {
		return Key{}, fmt.Errorf("%w: tenant id is required", ErrInvalidKey)
	}
	if !docType.IsValid() {
		return Key{}, fmt.Errorf("%w: unknown document type %q", ErrInvalidKey, docType)
	}
	if year < 1970 || year > 9999 {
		return Key{}, fmt.Errorf("%w: year %d out of range", ErrInvalidKey, year)
	}
	return Key{TenantID: tenantID, DocumentType: docType, Year: year}, nil
}

// String renders the key for logs and lock names.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.TenantID, k.DocumentType, k.Year)
}

// Format renders value as {PREFIX}-{YEAR}-{SEQ}, with SEQ zero-padded to four
// digits. Values past 9999 keep all of their digits.
func (k Key) Format(value int64) string {
	return fmt.Sprintf("%s-%d-%04d", k.DocumentType.Prefix(), k.Year, value)
}

// Number is a parsed document number.
type Number struct {
	Prefix string
	Year   int
	Value  int64
}

// ParseNumber splits a formatted number back into its parts.
func ParseNumber(s string) (Number, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] == "" {
		return Number{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 4 {
		return Number{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if len(parts[2]) < 4 {
		return Number{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	value, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || value < 1 {
		return Number{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return Number{Prefix: parts[0], Year: year, Value: value}, nil
}
