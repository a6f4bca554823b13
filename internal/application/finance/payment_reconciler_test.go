package finance_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/billing"
	"github.com/invoicer/backend/internal/domain/identity"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const customerPhone = "254712345678"

// stkCallback builds a webhook body the way the gateway sends it. Metadata
// is only attached when amount is set.
func stkCallback(checkoutID string, code int, desc, amount, receipt string) []byte {
	cb := map[string]any{
		"MerchantRequestID": "29115-34620561-1",
		"CheckoutRequestID": checkoutID,
		"ResultCode":        code,
		"ResultDesc":        desc,
	}
	if amount != "" {
		cb["CallbackMetadata"] = map[string]any{
			"Item": []map[string]any{
				{"Name": "Amount", "Value": json.Number(amount)},
				{"Name": "MpesaReceiptNumber", "Value": receipt},
				{"Name": "TransactionDate", "Value": json.Number("20240315143022")},
				{"Name": "PhoneNumber", "Value": json.Number(customerPhone)},
			},
		}
	}
	body, _ := json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": cb}})
	return body
}

func successCallback(checkoutID, amount string) []byte {
	return stkCallback(checkoutID, 0, "The service request is processed successfully.", amount, "QKL7XYZ123")
}

// initiate pushes a payment for the invoice and returns the reconciler's
// response. checkoutID is what the mocked gateway answers with.
func (h *harness) initiate(doc *finance.DocumentResponse, checkoutID string) *finance.InitiatePaymentResponse {
	h.t.Helper()
	h.gateway.On("InitiatePush", mock.Anything, mock.MatchedBy(func(req payment.PushRequest) bool {
		return req.AccountReference == doc.Number
	})).Return(&payment.PushResponse{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: "29115-34620561-1",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil).Once()

	id := doc.ID
	resp, err := h.reconciler.Initiate(h.ctx, h.tenant.ID, finance.InitiatePaymentRequest{
		Phone:      "0712345678",
		TargetKind: string(payment.TargetDocument),
		TargetID:   &id,
	})
	require.NoError(h.t, err)
	return resp
}

func TestPaymentReconciler_Initiate(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))

	h.gateway.On("InitiatePush", mock.Anything, mock.MatchedBy(func(req payment.PushRequest) bool {
		return req.Phone == customerPhone &&
			req.Amount.Equal(dec("116")) &&
			req.AccountReference == inv.Number &&
			req.CallbackURL == callbackBase+"/"+h.tenant.ID.String()
	})).Return(&payment.PushResponse{
		CheckoutRequestID: "ws_CO_1",
		MerchantRequestID: "m-1",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil).Once()

	id := inv.ID
	resp, err := h.reconciler.Initiate(h.ctx, h.tenant.ID, finance.InitiatePaymentRequest{
		Phone:      "0712345678",
		TargetKind: "document",
		TargetID:   &id,
	})
	require.NoError(t, err)
	h.gateway.AssertExpectations(t)

	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)
	assert.True(t, strings.HasPrefix(resp.ClientToken, payment.ClientTokenPrefix+"_"))
	assert.NotContains(t, resp.ClientToken, "ws_CO_1")

	p := h.payment(resp.PaymentID)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, payment.MethodMpesaSTK, p.Method)
	assert.Empty(t, p.Number, "numbers are assigned once money arrives")
	assert.Equal(t, customerPhone, p.Phone)
}

func TestPaymentReconciler_Initiate_Rejections(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	draft, err := h.invoices.CreateInvoice(h.ctx, h.tenant.ID, invoiceRequest("C-1", "10", day(2024, 3, 1)))
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     finance.InitiatePaymentRequest
		wantErr error
	}{
		{"invalid phone", finance.InitiatePaymentRequest{Phone: "12", TargetKind: "document", TargetID: &inv.ID}, payment.ErrInvalidPhone},
		{"more than outstanding", finance.InitiatePaymentRequest{Phone: "0712345678", Amount: dec("500"), TargetKind: "document", TargetID: &inv.ID}, payment.ErrOverAllocation},
		{"draft invoice", finance.InitiatePaymentRequest{Phone: "0712345678", TargetKind: "document", TargetID: &draft.ID}, invoicing.ErrNotPayable},
		{"target without id", finance.InitiatePaymentRequest{Phone: "0712345678", TargetKind: "document"}, payment.ErrInvalidTarget},
		{"no target and no amount", finance.InitiatePaymentRequest{Phone: "0712345678"}, payment.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.reconciler.Initiate(h.ctx, h.tenant.ID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	h.gateway.AssertNotCalled(t, "InitiatePush", mock.Anything, mock.Anything)
	assert.Zero(t, h.countRows(&models.PaymentModel{}, "tenant_id = ?", h.tenant.ID))

	t.Run("suspended tenant", func(t *testing.T) {
		require.NoError(t, h.tenant.Suspend())
		require.NoError(t, h.tenants.Save(h.ctx, h.tenant))
		_, err := h.reconciler.Initiate(h.ctx, h.tenant.ID, finance.InitiatePaymentRequest{Phone: "0712345678", Amount: dec("10")})
		assert.ErrorIs(t, err, identity.ErrTenantSuspended)
	})
}

func TestPaymentReconciler_Initiate_PushFailure(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	pushErr := errors.New("connection reset")
	h.gateway.On("InitiatePush", mock.Anything, mock.Anything).Return(nil, pushErr).Once()

	id := inv.ID
	_, err := h.reconciler.Initiate(h.ctx, h.tenant.ID, finance.InitiatePaymentRequest{
		Phone: "0712345678", TargetKind: "document", TargetID: &id,
	})
	require.ErrorIs(t, err, pushErr)

	assert.Equal(t, int64(1), h.countRows(&models.PaymentModel{}, "tenant_id = ? AND status = ?", h.tenant.ID, payment.StatusFailed))
	assert.Equal(t, "unpaid", h.document(inv.ID).PaymentStatus)

	var row models.PaymentModel
	require.NoError(t, h.db.Where("tenant_id = ? AND status = ?", h.tenant.ID, payment.StatusFailed).First(&row).Error)
	failed := row.ToDomain()
	assert.Equal(t, payment.OriginInitiate, failed.PayloadOrigin)
	assert.Empty(t, failed.RawPayload)
}

func TestPaymentReconciler_HandleCallback_Success(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_1", "116"))
	require.NoError(t, err)
	assert.Equal(t, finance.CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}, ack)

	p := h.payment(init.PaymentID)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, "QKL7XYZ123", p.Reference)
	assert.Equal(t, payment.OriginWebhook, p.PayloadOrigin)
	assert.Equal(t, "PAY-"+strconv.Itoa(h.clock.Now().Year())+"-0001", p.Number)
	require.NotNil(t, p.ResultCode)
	assert.Equal(t, 0, *p.ResultCode)

	doc := h.document(inv.ID)
	assert.Equal(t, "paid", doc.Status)
	assert.True(t, doc.OutstandingBalance.IsZero())

	entry := h.entryFor(ledger.PaymentSource(p.ID))
	require.NotNil(t, entry)
	assert.True(t, dec("116").Equal(entry.AmountFor(ledger.CodeMobileMoney, ledger.LineTypeDebit)))
	assert.True(t, dec("116").Equal(entry.AmountFor(ledger.CodeAccountsReceivable, ledger.LineTypeCredit)))

	assert.Equal(t, int64(1), h.countRows(&models.GatewayEventModel{}, "external_id = ? AND status = ?", "ws_CO_1", payment.EventProcessed))
	assert.Contains(t, h.publisher.types(), payment.EventTypePaymentCompleted)
	assert.Contains(t, h.publisher.types(), invoicing.EventTypeInvoicePaid)

	status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
	require.NoError(t, err)
	assert.Equal(t, finance.PollStatusSuccess, status.Status)
	assert.True(t, status.StopPolling)
	assert.Equal(t, p.Number, status.Number)
	assert.Equal(t, returnBase+"/documents/"+inv.ID.String(), status.Redirect)
}

func TestPaymentReconciler_HandleCallback_Duplicate(t *testing.T) {
	for _, tc := range []struct {
		name       string
		opts       []harnessOption
		wantEvents int64
	}{
		{name: "idempotency store short-circuits", wantEvents: 1},
		{name: "row state alone", opts: []harnessOption{withoutIdempotencyStore()}, wantEvents: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts...)
			inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
			init := h.initiate(inv, "ws_CO_1")

			body := successCallback("ws_CO_1", "116")
			for i := 0; i < 2; i++ {
				ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, body)
				require.NoError(t, err)
				assert.Equal(t, 0, ack.ResultCode)
			}

			assert.Equal(t, int64(1), h.entryCount(ledger.PaymentSource(init.PaymentID)))
			assert.Equal(t, int64(1), h.countRows(&models.PaymentAllocationModel{}, "payment_id = ?", init.PaymentID))
			assert.Equal(t, tc.wantEvents, h.countRows(&models.GatewayEventModel{}, "external_id = ?", "ws_CO_1"))
			assert.Equal(t, int64(1), h.countRows(&models.GatewayEventModel{}, "external_id = ? AND status = ?", "ws_CO_1", payment.EventProcessed))

			completed := 0
			for _, typ := range h.publisher.types() {
				if typ == payment.EventTypePaymentCompleted {
					completed++
				}
			}
			assert.Equal(t, 1, completed)
		})
	}
}

func TestPaymentReconciler_HandleCallback_FallbackMatch(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_unknown", "116"))
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)

	p := h.payment(init.PaymentID)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, "ws_CO_1", p.CheckoutRequestID)

	// a late callback under the original id is a replay
	ack, err = h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_1", "116"))
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)
	assert.Equal(t, int64(1), h.entryCount(ledger.PaymentSource(p.ID)))
}

func TestPaymentReconciler_HandleCallback_FallbackPicksMostRecent(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	first := h.initiate(inv, "ws_CO_1")
	h.clock.Advance(time.Minute)
	second := h.initiate(inv, "ws_CO_2")

	ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("", "116"))
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)

	assert.Equal(t, payment.StatusPending, h.payment(first.PaymentID).Status)
	assert.Equal(t, payment.StatusCompleted, h.payment(second.PaymentID).Status)
	assert.Equal(t, int64(1), h.entryCount(ledger.PaymentSource(second.PaymentID)))
	assert.Zero(t, h.entryCount(ledger.PaymentSource(first.PaymentID)))
}

func TestPaymentReconciler_HandleCallback_Unmatched(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_other", "999"))
	require.ErrorIs(t, err, payment.ErrUnknownCorrelation)
	assert.Equal(t, finance.CallbackAck{ResultCode: 1, ResultDesc: "Unknown transaction"}, ack)

	assert.Equal(t, int64(1), h.countRows(&models.GatewayEventModel{}, "external_id = ? AND status = ?", "ws_CO_other", payment.EventUnmatched))
	assert.Equal(t, payment.StatusPending, h.payment(init.PaymentID).Status)

	t.Run("fallback ignores payments outside the window", func(t *testing.T) {
		h.clock.Advance(11 * time.Minute)
		_, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_late", "116"))
		require.ErrorIs(t, err, payment.ErrUnknownCorrelation)
		assert.Equal(t, payment.StatusPending, h.payment(init.PaymentID).Status)
	})

	t.Run("another tenant's callback cannot settle the payment", func(t *testing.T) {
		_, err := h.reconciler.HandleCallback(h.ctx, uuid.New(), successCallback("ws_CO_1", "116"))
		require.ErrorIs(t, err, payment.ErrUnknownCorrelation)
		assert.Equal(t, payment.StatusPending, h.payment(init.PaymentID).Status)
	})
}

func TestPaymentReconciler_HandleCallback_Malformed(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{`not json`, `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`} {
		ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, []byte(body))
		require.ErrorIs(t, err, payment.ErrMalformedCallback)
		assert.Equal(t, 1, ack.ResultCode)
	}
	assert.Equal(t, int64(2), h.countRows(&models.GatewayEventModel{}, "tenant_id = ? AND status = ?", h.tenant.ID, payment.EventRejected))
}

func TestPaymentReconciler_HandleCallback_Cancelled(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID,
		stkCallback("ws_CO_1", payment.ResultCodeCancelledByUser, "Request cancelled by user", "", ""))
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)

	p := h.payment(init.PaymentID)
	assert.Equal(t, payment.StatusCancelled, p.Status)
	assert.Empty(t, p.Number)
	assert.Nil(t, h.entryFor(ledger.PaymentSource(p.ID)))
	assert.Equal(t, "unpaid", h.document(inv.ID).PaymentStatus)
	assert.Contains(t, h.publisher.types(), payment.EventTypePaymentFailed)

	t.Run("a later success cannot resurrect it", func(t *testing.T) {
		ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_1", "116"))
		require.NoError(t, err)
		assert.Equal(t, 0, ack.ResultCode)
		assert.Equal(t, payment.StatusCancelled, h.payment(init.PaymentID).Status)
	})

	status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
	require.NoError(t, err)
	assert.Equal(t, finance.PollStatusFailed, status.Status)
	assert.True(t, status.StopPolling)
	assert.Empty(t, status.Redirect)
}

func TestPaymentReconciler_PollStatus(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	t.Run("waits for the webhook first", func(t *testing.T) {
		status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
		require.NoError(t, err)
		assert.Equal(t, "pending", status.Status)
		assert.False(t, status.StopPolling)
		h.gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
	})

	t.Run("queries the gateway after the window", func(t *testing.T) {
		h.gateway.On("QueryStatus", mock.Anything, "ws_CO_1").
			Return(&payment.QueryResult{State: payment.QueryPending, ResultCode: -1, ResultDesc: "still processing"}, nil).Once()
		h.clock.Advance(31 * time.Second)

		status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
		require.NoError(t, err)
		assert.Equal(t, "pending", status.Status)
		assert.NotNil(t, h.payment(init.PaymentID).LastQueriedAt)

		// the next poll is inside the query interval
		_, err = h.reconciler.PollStatus(h.ctx, init.ClientToken)
		require.NoError(t, err)
		h.gateway.AssertNumberOfCalls(t, "QueryStatus", 1)
	})

	t.Run("applies a terminal query result", func(t *testing.T) {
		h.gateway.On("QueryStatus", mock.Anything, "ws_CO_1").
			Return(&payment.QueryResult{State: payment.QuerySucceeded, ResultCode: 0, ResultDesc: "The service request is processed successfully."}, nil).Once()
		h.clock.Advance(31 * time.Second)

		status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
		require.NoError(t, err)
		assert.Equal(t, finance.PollStatusSuccess, status.Status)
		assert.True(t, status.StopPolling)
		assert.Equal(t, "paid", h.document(inv.ID).Status)
		assert.Equal(t, payment.OriginGatewayQuery, h.payment(init.PaymentID).PayloadOrigin)
	})

	t.Run("the webhook arriving afterwards is a duplicate", func(t *testing.T) {
		ack, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_1", "116"))
		require.NoError(t, err)
		assert.Equal(t, 0, ack.ResultCode)
		assert.Equal(t, int64(1), h.entryCount(ledger.PaymentSource(init.PaymentID)))
	})

	t.Run("rejects malformed tokens", func(t *testing.T) {
		_, err := h.reconciler.PollStatus(h.ctx, "ws_CO_1")
		assert.ErrorIs(t, err, payment.ErrInvalidToken)
	})
}

func TestPaymentReconciler_PollStatus_Cap(t *testing.T) {
	settings := finance.DefaultReconciliationSettings()
	settings.MaxPolls = 3
	h := newHarness(t, withSettings(settings))
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	for i := 1; i <= 3; i++ {
		status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
		require.NoError(t, err)
		assert.Equal(t, "pending", status.Status)
		assert.Equal(t, i == 3, status.StopPolling, "poll %d", i)
	}
	assert.Equal(t, 3, h.payment(init.PaymentID).PollCount)
	h.gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
}

func TestPaymentReconciler_PollStatus_QueryErrorKeepsPolling(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	h.gateway.On("QueryStatus", mock.Anything, "ws_CO_1").Return(nil, payment.ErrGatewayUnavailable).Once()
	h.clock.Advance(31 * time.Second)

	status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
	assert.False(t, status.StopPolling)
}

func TestPaymentReconciler_PollStatus_FailureHidesGatewayDetail(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	_, err := h.reconciler.HandleCallback(h.ctx, h.tenant.ID,
		stkCallback("ws_CO_1", 1037, "DS timeout user cannot be reached", "", ""))
	require.NoError(t, err)

	p := h.payment(init.PaymentID)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, "DS timeout user cannot be reached", p.ResultDesc)

	status, err := h.reconciler.PollStatus(h.ctx, init.ClientToken)
	require.NoError(t, err)
	assert.Equal(t, finance.PollStatusFailed, status.Status)
	assert.Equal(t, "Payment could not be completed", status.Message)
	assert.NotContains(t, status.Message, "DS timeout")
	assert.True(t, status.StopPolling)

	status, err = h.reconciler.QueryStatus(h.ctx, h.tenant.ID, init.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "failed", status.Status)
	assert.NotContains(t, status.Message, "DS timeout")
}

func TestPaymentReconciler_QueryStatus(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	h.gateway.On("QueryStatus", mock.Anything, "ws_CO_1").
		Return(&payment.QueryResult{State: payment.QueryCancelled, ResultCode: payment.ResultCodeCancelledByUser, ResultDesc: "Request cancelled by user"}, nil).Once()

	status, err := h.reconciler.QueryStatus(h.ctx, h.tenant.ID, init.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status.Status)
	assert.Equal(t, int64(1), h.countRows(&models.GatewayEventModel{}, "external_id = ? AND origin = ?", "ws_CO_1", payment.OriginGatewayQuery))

	// terminal payments are not queried again
	status, err = h.reconciler.QueryStatus(h.ctx, h.tenant.ID, init.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status.Status)
	h.gateway.AssertNumberOfCalls(t, "QueryStatus", 1)

	_, err = h.reconciler.QueryStatus(h.ctx, h.tenant.ID, uuid.New())
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

type recordingLocker struct {
	busy     bool
	keys     []string
	released int
}

func (l *recordingLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.keys = append(l.keys, key)
	if l.busy {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestPaymentReconciler_QueryStatus_Locker(t *testing.T) {
	locker := &recordingLocker{busy: true}
	h := newHarness(t, withLocker(locker))
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	init := h.initiate(inv, "ws_CO_1")

	status, err := h.reconciler.QueryStatus(h.ctx, h.tenant.ID, init.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
	assert.Equal(t, []string{"mpesa:query:" + init.PaymentID.String()}, locker.keys)
	h.gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)

	locker.busy = false
	h.gateway.On("QueryStatus", mock.Anything, "ws_CO_1").
		Return(&payment.QueryResult{State: payment.QuerySucceeded}, nil).Once()
	status, err = h.reconciler.QueryStatus(h.ctx, h.tenant.ID, init.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 1, locker.released)
}

func TestPaymentReconciler_SweepStale(t *testing.T) {
	h := newHarness(t)
	first := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	second := h.sentInvoice("C-2", "50", day(2024, 3, 1))
	a := h.initiate(first, "ws_CO_1")
	b := h.initiate(second, "ws_CO_2")

	t.Run("fresh payments are left to the webhook", func(t *testing.T) {
		resolved, err := h.reconciler.SweepStale(h.ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, resolved)
	})

	h.gateway.On("QueryStatus", mock.Anything, "ws_CO_1").
		Return(&payment.QueryResult{State: payment.QueryFailed, ResultCode: payment.ResultCodeTimeout, ResultDesc: "DS timeout user cannot be reached"}, nil).Once()
	h.gateway.On("QueryStatus", mock.Anything, "ws_CO_2").
		Return(&payment.QueryResult{State: payment.QueryPending, ResultCode: -1}, nil).Once()
	h.clock.Advance(time.Minute)

	resolved, err := h.reconciler.SweepStale(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	assert.Equal(t, payment.StatusFailed, h.payment(a.PaymentID).Status)
	assert.Equal(t, payment.StatusPending, h.payment(b.PaymentID).Status)
	h.gateway.AssertExpectations(t)
}

func TestPaymentReconciler_SubscriptionPayment(t *testing.T) {
	h := newHarness(t)

	var sub *billing.Subscription
	require.NoError(t, h.scope.Execute(h.ctx, func(repos finance.TransactionalRepositories) error {
		plan, err := billing.NewPlan(h.tenant.ID, "pro", "Pro", billing.IntervalMonthly, dec("1500"))
		require.NoError(t, err)
		require.NoError(t, repos.Plans().Create(h.ctx, plan))
		sub, err = billing.NewSubscription(h.tenant.ID, "C-1", plan)
		require.NoError(t, err)
		return repos.Subscriptions().Create(h.ctx, sub)
	}))

	h.gateway.On("InitiatePush", mock.Anything, mock.MatchedBy(func(req payment.PushRequest) bool {
		return req.Amount.Equal(dec("1500")) && strings.HasPrefix(req.AccountReference, "SUB-")
	})).Return(&payment.PushResponse{CheckoutRequestID: "ws_CO_sub"}, nil).Once()

	init, err := h.reconciler.Initiate(h.ctx, h.tenant.ID, finance.InitiatePaymentRequest{
		Phone:      "0712345678",
		TargetKind: "subscription",
		TargetID:   &sub.ID,
	})
	require.NoError(t, err)

	_, err = h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_sub", "1500"))
	require.NoError(t, err)

	require.NoError(t, h.scope.Execute(h.ctx, func(repos finance.TransactionalRepositories) error {
		stored, err := repos.Subscriptions().FindByID(h.ctx, h.tenant.ID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.SubscriptionActive, stored.Status)
		require.NotNil(t, stored.LastPaymentID)
		assert.Equal(t, init.PaymentID, *stored.LastPaymentID)
		assert.NotNil(t, stored.CurrentPeriodEnd)
		return nil
	}))

	entry := h.entryFor(ledger.PaymentSource(init.PaymentID))
	require.NotNil(t, entry)
	assert.True(t, dec("1500").Equal(entry.AmountFor(ledger.CodeMobileMoney, ledger.LineTypeDebit)))
	assert.True(t, dec("1500").Equal(entry.AmountFor(ledger.CodeUnappliedCredit, ledger.LineTypeCredit)))
}

func TestReportService_TrialBalance(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	_, err := h.invoices.CreateBill(h.ctx, h.tenant.ID, invoiceRequest("S-1", "40", day(2024, 3, 2)))
	require.NoError(t, err)
	h.initiate(inv, "ws_CO_1")
	_, err = h.reconciler.HandleCallback(h.ctx, h.tenant.ID, successCallback("ws_CO_1", "116"))
	require.NoError(t, err)

	tb, err := h.reports.TrialBalance(h.ctx, h.tenant.ID, h.clock.Now().AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.True(t, dec("232").Equal(tb.TotalDebit), tb.TotalDebit.String())

	byCode := map[string]finance.TrialBalanceLine{}
	for _, l := range tb.Lines {
		byCode[l.AccountCode] = l
	}
	assert.True(t, byCode[ledger.CodeAccountsReceivable].Balance.IsZero())
	assert.True(t, dec("116").Equal(byCode[ledger.CodeMobileMoney].Balance))
	assert.True(t, dec("100").Equal(byCode[ledger.CodeSalesRevenue].Balance))
	assert.True(t, dec("16").Equal(byCode[ledger.CodeTaxPayable].Balance))

	t.Run("entries after asOf are excluded", func(t *testing.T) {
		tb, err := h.reports.TrialBalance(h.ctx, h.tenant.ID, day(2024, 3, 1).Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, tb.IsBalanced)
		assert.True(t, dec("116").Equal(tb.TotalDebit), tb.TotalDebit.String())
	})

	t.Run("another tenant sees nothing", func(t *testing.T) {
		tb, err := h.reports.TrialBalance(h.ctx, uuid.New(), h.clock.Now())
		require.NoError(t, err)
		assert.Empty(t, tb.Lines)
		assert.True(t, tb.IsBalanced)
		assert.True(t, decimal.Zero.Equal(tb.TotalDebit))
	})
}

