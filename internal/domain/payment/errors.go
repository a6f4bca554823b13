package payment

import (
	"errors"

	"github.com/invoicer/backend/internal/domain/shared"
)

// Payment Errors
var (
	ErrInvalidAmount = errors.New("payment: invalid payment amount")
	ErrInvalidMethod = errors.New("payment: invalid payment method")
	ErrInvalidTarget = errors.New("payment: invalid payment target")
	ErrInvalidPhone  = errors.New("payment: invalid phone number")
	ErrInvalidToken  = errors.New("payment: invalid client token")
	ErrNotFound      = shared.NewDomainError("PAYMENT_NOT_FOUND", "Payment not found")

	// ErrAlreadyProcessed reports an idempotent replay against a payment
	// that has already reached a terminal state. Callers treat it as success.
	ErrAlreadyProcessed = errors.New("payment: already processed")
	// ErrInvalidTransition is returned for moves the state machine forbids,
	// such as resurrecting a failed payment.
	ErrInvalidTransition = shared.NewDomainError("INVALID_STATE", "Payment cannot change to the requested status")
	// ErrUnknownCorrelation is returned once both the correlation id lookup
	// and the phone and amount fallback found nothing.
	ErrUnknownCorrelation = errors.New("payment: no payment matches the callback")

	// ErrOverAllocation means an allocation exceeded the document's
	// outstanding balance or the payment's unallocated remainder.
	ErrOverAllocation = shared.NewDomainError("OVER_ALLOCATION", "Allocation exceeds the outstanding balance")
	ErrNotAllocatable = shared.NewDomainError("NOT_ALLOCATABLE", "Only completed payments can be allocated")
)

// Gateway Errors
var (
	ErrGatewayNotConfigured   = errors.New("payment: gateway not configured")
	ErrGatewayUnavailable     = errors.New("payment: gateway temporarily unavailable")
	ErrGatewayRequestFailed   = errors.New("payment: gateway request failed")
	ErrGatewayInvalidResponse = errors.New("payment: invalid gateway response")
	ErrMalformedCallback      = errors.New("payment: malformed gateway callback")
)
