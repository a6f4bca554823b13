package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Well-known gateway result codes
const (
	ResultCodeSuccess         = 0
	ResultCodeInsufficient    = 1
	ResultCodeCancelledByUser = 1032
	ResultCodeTimeout         = 1037
)

// PushRequest asks the gateway to prompt the customer's phone for payment
type PushRequest struct {
	Amount           decimal.Decimal
	Phone            string
	AccountReference string
	Description      string
	CallbackURL      string
}

// PushResponse carries the correlation pair returned on initiation
type PushResponse struct {
	CheckoutRequestID   string
	MerchantRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// QueryState is the coarse result of a status query
type QueryState string

const (
	QueryPending   QueryState = "pending"
	QuerySucceeded QueryState = "succeeded"
	QueryFailed    QueryState = "failed"
	QueryCancelled QueryState = "cancelled"
)

// QueryResult is the normalized answer of a transaction-status query
type QueryResult struct {
	State      QueryState
	ResultCode int
	ResultDesc string
	Raw        []byte
}

// Gateway is the outbound mobile-money API
type Gateway interface {
	InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error)
}

// StateForResultCode maps a gateway result code to a query state
func StateForResultCode(code int) QueryState {
	switch code {
	case ResultCodeSuccess:
		return QuerySucceeded
	case ResultCodeCancelledByUser:
		return QueryCancelled
	default:
		return QueryFailed
	}
}
