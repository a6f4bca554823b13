package ledger

import "errors"

var (
	// ErrUnbalancedEntry means debits and credits differ. It indicates a
	// defect in the posting rules and must never be swallowed.
	ErrUnbalancedEntry = errors.New("ledger: journal entry is not balanced")
	// ErrAccountNotFound is returned for an unknown, non-standard code.
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrInvalidAccount    = errors.New("ledger: invalid account")
	ErrEmptyEntry        = errors.New("ledger: journal entry has no lines")
	ErrNonPositiveAmount = errors.New("ledger: line amount must be positive")
	ErrInvalidLineType   = errors.New("ledger: invalid line type")
	ErrAlreadyPosted     = errors.New("ledger: journal entry already posted")
	ErrInvalidSource     = errors.New("ledger: invalid source reference")
	// ErrDuplicatePosting is returned when the source already has an entry.
	ErrDuplicatePosting = errors.New("ledger: source already posted")
)
