package payment

import (
	"context"

	"github.com/invoicer/backend/internal/domain/payment"
)

// UnconfiguredGateway stands in when no gateway credentials are set. Cash
// and bank payments keep working; every push is refused.
type UnconfiguredGateway struct{}

var _ payment.Gateway = UnconfiguredGateway{}

// InitiatePush always fails with payment.ErrGatewayNotConfigured
func (UnconfiguredGateway) InitiatePush(context.Context, payment.PushRequest) (*payment.PushResponse, error) {
	return nil, payment.ErrGatewayNotConfigured
}

// QueryStatus always fails with payment.ErrGatewayNotConfigured
func (UnconfiguredGateway) QueryStatus(context.Context, string) (*payment.QueryResult, error) {
	return nil, payment.ErrGatewayNotConfigured
}
