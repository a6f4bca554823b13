package finance

import (
	"context"
	"fmt"

	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Notification is a message for a customer or tenant operator about money
// movement. Delivery channels are up to the Notifier.
type Notification struct {
	TenantID  string `json:"tenant_id"`
	Kind      string `json:"kind"` // "payment_received", "payment_failed", "invoice_paid"
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Phone     string `json:"phone,omitempty"`
	Message   string `json:"message"`
}

// Notifier delivers notifications (SMS, email, in-app)
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationHandler turns payment and invoice events into notifications
type NotificationHandler struct {
	notifier Notifier
	logger   *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(notifier Notifier, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{notifier: notifier, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *NotificationHandler) EventTypes() []string {
	return []string{
		payment.EventTypePaymentCompleted,
		payment.EventTypePaymentFailed,
		invoicing.EventTypeInvoicePaid,
	}
}

// Handle builds the notification for event and sends it. Delivery failures
// are logged and swallowed: the money has moved whether or not anyone was
// told.
func (h *NotificationHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	var n Notification
	switch e := event.(type) {
	case *payment.PaymentCompletedEvent:
		n = Notification{
			Kind:      "payment_received",
			Reference: e.Number,
			Amount:    e.Amount.StringFixed(2),
			Phone:     e.Phone,
			Message:   fmt.Sprintf("Payment %s of %s received", e.Number, e.Amount.StringFixed(2)),
		}
	case *payment.PaymentFailedEvent:
		n = Notification{
			Kind:    "payment_failed",
			Amount:  e.Amount.StringFixed(2),
			Phone:   e.Phone,
			Message: fmt.Sprintf("Payment of %s was not completed: %s", e.Amount.StringFixed(2), e.ResultDesc),
		}
	case *invoicing.InvoicePaidEvent:
		n = Notification{
			Kind:      "invoice_paid",
			Reference: e.Number,
			Amount:    e.Total.StringFixed(2),
			Message:   fmt.Sprintf("Invoice %s for %s is fully paid", e.Number, e.CounterpartyName),
		}
	default:
		h.logger.Error("unexpected event type", zap.String("actual", event.EventType()))
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}
	n.TenantID = event.TenantID().String()

	if h.notifier == nil {
		return nil
	}
	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Error("failed to send notification",
			zap.String("kind", n.Kind),
			zap.String("reference", n.Reference),
			zap.Error(err))
		return nil
	}
	h.logger.Debug("notification sent", zap.String("kind", n.Kind), zap.String("reference", n.Reference))
	return nil
}

var _ shared.EventHandler = (*NotificationHandler)(nil)

// LoggingNotifier writes notifications to the log. It stands in until a
// delivery channel is configured.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier creates a new logging notifier
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// Notify logs the notification
func (n *LoggingNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.Info("NOTIFICATION",
		zap.String("tenant_id", notification.TenantID),
		zap.String("kind", notification.Kind),
		zap.String("reference", notification.Reference),
		zap.String("amount", notification.Amount),
		zap.String("message", notification.Message))
	return nil
}
