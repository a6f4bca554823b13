package finance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockNotifier is a mock implementation of finance.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n finance.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func completedPayment(t *testing.T) *payment.Payment {
	t.Helper()
	p, err := payment.NewManualPayment(uuid.New(), "PAY-2024-0007", payment.MethodMpesaManual,
		decimal.NewFromInt(250), "QKL7XYZ123", "C-1", time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return p
}

func TestNotificationHandler_EventTypes(t *testing.T) {
	handler := finance.NewNotificationHandler(nil, nil)
	assert.ElementsMatch(t, []string{
		payment.EventTypePaymentCompleted,
		payment.EventTypePaymentFailed,
		invoicing.EventTypeInvoicePaid,
	}, handler.EventTypes())
}

func TestNotificationHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("payment completed", func(t *testing.T) {
		notifier := new(MockNotifier)
		handler := finance.NewNotificationHandler(notifier, nil)
		p := completedPayment(t)

		notifier.On("Notify", ctx, mock.MatchedBy(func(n finance.Notification) bool {
			return n.Kind == "payment_received" &&
				n.Reference == "PAY-2024-0007" &&
				n.Amount == "250.00" &&
				n.TenantID == p.TenantID.String()
		})).Return(nil).Once()

		require.NoError(t, handler.Handle(ctx, payment.NewPaymentCompletedEvent(p)))
		notifier.AssertExpectations(t)
	})

	t.Run("payment failed", func(t *testing.T) {
		notifier := new(MockNotifier)
		handler := finance.NewNotificationHandler(notifier, nil)
		p, err := payment.NewGatewayPayment(uuid.New(), decimal.NewFromInt(90), customerPhone, payment.Target{}, "chk_01h455vb4pex5vsknk084sn02q")
		require.NoError(t, err)
		require.NoError(t, p.MarkPending("ws_CO_1", "m-1", time.Now()))
		require.NoError(t, p.Fail(payment.Outcome{
			ResultCode: payment.ResultCodeTimeout,
			ResultDesc: "DS timeout user cannot be reached",
			Origin:     payment.OriginWebhook,
			At:         time.Now(),
		}, false))

		notifier.On("Notify", ctx, mock.MatchedBy(func(n finance.Notification) bool {
			return n.Kind == "payment_failed" && n.Phone == customerPhone && n.Amount == "90.00"
		})).Return(nil).Once()

		require.NoError(t, handler.Handle(ctx, payment.NewPaymentFailedEvent(p)))
		notifier.AssertExpectations(t)
	})

	t.Run("delivery failure is swallowed", func(t *testing.T) {
		notifier := new(MockNotifier)
		handler := finance.NewNotificationHandler(notifier, nil)
		notifier.On("Notify", ctx, mock.Anything).Return(errors.New("sms provider down")).Once()

		assert.NoError(t, handler.Handle(ctx, payment.NewPaymentCompletedEvent(completedPayment(t))))
		notifier.AssertExpectations(t)
	})

	t.Run("unknown event type", func(t *testing.T) {
		handler := finance.NewNotificationHandler(new(MockNotifier), nil)
		event := shared.NewBaseDomainEvent("SomethingElse", "Thing", uuid.New(), uuid.New())
		assert.Error(t, handler.Handle(ctx, &event))
	})
}
