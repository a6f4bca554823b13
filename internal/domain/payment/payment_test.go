package payment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewGatewayPayment(uuid.New(), decimal.NewFromInt(1460), "254712345678",
		Target{Kind: TargetDocument, ID: uuid.New()}, "chk_01h455vb4pex5vsknk084sn02q")
	require.NoError(t, err)
	require.NoError(t, p.MarkPending("ws_CO_1", "29115-1", time.Now()))
	return p
}

func TestNewGatewayPayment(t *testing.T) {
	p, err := NewGatewayPayment(uuid.New(), decimal.RequireFromString("10.005"), "254712345678", Target{}, "chk_x")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, p.Status)
	assert.Equal(t, MethodMpesaSTK, p.Method)
	assert.Equal(t, "10.01", p.Amount.StringFixed(2))

	_, err = NewGatewayPayment(uuid.New(), decimal.Zero, "254712345678", Target{}, "chk_x")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = NewGatewayPayment(uuid.New(), decimal.NewFromInt(1), "254712345678", Target{Kind: TargetDocument}, "chk_x")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = NewGatewayPayment(uuid.New(), decimal.NewFromInt(1), "", Target{}, "chk_x")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestPayment_MarkPending(t *testing.T) {
	p := newPendingPayment(t)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "ws_CO_1", p.CheckoutRequestID)
	assert.ErrorIs(t, p.MarkPending("ws_CO_2", "", time.Now()), ErrInvalidTransition)
}

func TestPayment_CompleteIsSticky(t *testing.T) {
	p := newPendingPayment(t)
	at := time.Now()

	err := p.Complete("PAY-2024-0001", Outcome{ResultCode: 0, ResultDesc: "ok", Receipt: "NLJ7RT61SV", Raw: []byte(`{}`), Origin: OriginWebhook, At: at})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "NLJ7RT61SV", p.Reference)
	assert.Equal(t, "PAY-2024-0001", p.Number)
	assert.Equal(t, OriginWebhook, p.PayloadOrigin)
	assert.True(t, p.IsAllocatable())
	require.Len(t, p.GetDomainEvents(), 1)

	assert.ErrorIs(t, p.Complete("PAY-2024-0002", Outcome{At: at}), ErrAlreadyProcessed)
	assert.ErrorIs(t, p.Fail(Outcome{ResultCode: 1}, false), ErrAlreadyProcessed)
	assert.Equal(t, "PAY-2024-0001", p.Number)
	assert.Len(t, p.GetDomainEvents(), 1)
}

func TestPayment_FailedCannotBeResurrected(t *testing.T) {
	p := newPendingPayment(t)

	require.NoError(t, p.Fail(Outcome{ResultCode: ResultCodeInsufficient, ResultDesc: "insufficient funds", At: time.Now()}, false))
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, ResultCodeInsufficient, *p.ResultCode)
	assert.False(t, p.IsAllocatable())

	assert.ErrorIs(t, p.Complete("PAY-2024-0001", Outcome{At: time.Now()}), ErrAlreadyProcessed)
	assert.Equal(t, StatusFailed, p.Status)
}

func TestPayment_CancelledByUser(t *testing.T) {
	p := newPendingPayment(t)
	require.NoError(t, p.Fail(Outcome{ResultCode: ResultCodeCancelledByUser, At: time.Now()}, true))
	assert.Equal(t, StatusCancelled, p.Status)
	assert.True(t, p.Status.IsTerminal())
}

func TestPayment_CompleteRequiresPending(t *testing.T) {
	p, err := NewGatewayPayment(uuid.New(), decimal.NewFromInt(5), "254712345678", Target{}, "chk_x")
	require.NoError(t, err)
	assert.ErrorIs(t, p.Complete("PAY-2024-0001", Outcome{}), ErrInvalidTransition)
}

func TestNewManualPayment(t *testing.T) {
	p, err := NewManualPayment(uuid.New(), "PAY-2024-0003", MethodCash, decimal.NewFromInt(2000), "RCPT-1", "cust-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, OriginManual, p.PayloadOrigin)

	_, err = NewManualPayment(uuid.New(), "PAY-2024-0004", MethodMpesaSTK, decimal.NewFromInt(1), "", "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestNewAllocation(t *testing.T) {
	p := newPendingPayment(t)
	_, err := NewAllocation(p, uuid.New(), uuid.New(), "INV-2024-0001", decimal.NewFromInt(1), time.Now())
	assert.ErrorIs(t, err, ErrNotAllocatable)

	require.NoError(t, p.Complete("PAY-2024-0001", Outcome{At: time.Now()}))
	a, err := NewAllocation(p, uuid.New(), uuid.New(), "INV-2024-0001", decimal.NewFromInt(1460), time.Now())
	require.NoError(t, err)
	assert.Equal(t, p.ID, a.PaymentID)
	assert.Equal(t, p.TenantID, a.TenantID)

	_, err = NewAllocation(p, uuid.New(), uuid.New(), "INV-2024-0001", decimal.Zero, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.True(t, Unallocated(decimal.NewFromInt(2000), decimal.NewFromInt(1460)).Equal(decimal.NewFromInt(540)))
	assert.True(t, Unallocated(decimal.NewFromInt(10), decimal.NewFromInt(20)).IsZero())
}

func TestStateForResultCode(t *testing.T) {
	assert.Equal(t, QuerySucceeded, StateForResultCode(0))
	assert.Equal(t, QueryCancelled, StateForResultCode(1032))
	assert.Equal(t, QueryFailed, StateForResultCode(1037))
	assert.Equal(t, QueryFailed, StateForResultCode(2001))
}

func TestPayment_PollAndQueryBookkeeping(t *testing.T) {
	p := newPendingPayment(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	p.RecordPoll(at)
	p.RecordPoll(at.Add(time.Second))
	assert.Equal(t, 2, p.PollCount)
	assert.Nil(t, p.LastQueriedAt)

	p.RecordGatewayQuery(at.Add(time.Minute))
	assert.Equal(t, 2, p.PollCount)
	require.NotNil(t, p.LastQueriedAt)
	assert.Equal(t, at.Add(time.Minute), *p.LastQueriedAt)
}
