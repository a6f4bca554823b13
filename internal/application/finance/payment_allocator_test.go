package finance_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/invoicing"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cashPayment(amount string, targets ...finance.AllocationTarget) finance.RecordPaymentRequest {
	receivedAt := day(2024, 3, 15)
	return finance.RecordPaymentRequest{
		Method:     "cash",
		Amount:     dec(amount),
		Reference:  "RCPT-1",
		ReceivedAt: &receivedAt,
		Targets:    targets,
	}
}

func TestPaymentService_RecordPayment_Partial(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))

	resp, err := h.payments.RecordPayment(h.ctx, h.tenant.ID, cashPayment("50",
		finance.AllocationTarget{DocumentID: inv.ID, Amount: dec("50")}))
	require.NoError(t, err)

	assert.Equal(t, "PAY-2024-0001", resp.Number)
	assert.Equal(t, "completed", resp.Status)
	require.Len(t, resp.Allocations, 1)
	assert.Equal(t, inv.Number, resp.Allocations[0].DocumentNumber)
	assert.True(t, resp.Unallocated.IsZero())
	assert.NotEmpty(t, resp.EntryNumber)

	doc := h.document(inv.ID)
	assert.Equal(t, "sent", doc.Status)
	assert.Equal(t, "partial", doc.PaymentStatus)
	assert.True(t, dec("66").Equal(doc.OutstandingBalance), doc.OutstandingBalance.String())

	entry := h.entryFor(ledger.PaymentSource(resp.ID))
	require.NotNil(t, entry)
	assert.True(t, entry.IsBalanced())
	assert.True(t, dec("50").Equal(entry.AmountFor(ledger.CodeCash, ledger.LineTypeDebit)))
	assert.True(t, dec("50").Equal(entry.AmountFor(ledger.CodeAccountsReceivable, ledger.LineTypeCredit)))
	assert.True(t, entry.AmountFor(ledger.CodeUnappliedCredit, ledger.LineTypeCredit).IsZero())

	assert.Contains(t, h.publisher.types(), payment.EventTypePaymentCompleted)
	assert.NotContains(t, h.publisher.types(), invoicing.EventTypeInvoicePaid)
}

func TestPaymentService_RecordPayment_OverAllocationRollsBack(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))

	_, err := h.payments.RecordPayment(h.ctx, h.tenant.ID, cashPayment("200",
		finance.AllocationTarget{DocumentID: inv.ID, Amount: dec("150")}))
	require.ErrorIs(t, err, payment.ErrOverAllocation)

	assert.Zero(t, h.countRows(&models.PaymentModel{}, "tenant_id = ?", h.tenant.ID))
	assert.Zero(t, h.countRows(&models.PaymentAllocationModel{}, "tenant_id = ?", h.tenant.ID))
	doc := h.document(inv.ID)
	assert.Equal(t, "unpaid", doc.PaymentStatus)
	assert.True(t, dec("116").Equal(doc.OutstandingBalance))

	// the payment number was not consumed
	resp, err := h.payments.RecordPayment(h.ctx, h.tenant.ID, cashPayment("116",
		finance.AllocationTarget{DocumentID: inv.ID, Amount: dec("116")}))
	require.NoError(t, err)
	assert.Equal(t, "PAY-2024-0001", resp.Number)
	assert.Equal(t, "paid", h.document(inv.ID).Status)
	assert.Contains(t, h.publisher.types(), invoicing.EventTypeInvoicePaid)
}

func TestPaymentService_RecordPayment_Rejections(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	draft, err := h.invoices.CreateInvoice(h.ctx, h.tenant.ID, invoiceRequest("C-1", "10", day(2024, 3, 1)))
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     finance.RecordPaymentRequest
		wantErr error
	}{
		{
			name:    "draft invoice",
			req:     cashPayment("10", finance.AllocationTarget{DocumentID: draft.ID, Amount: dec("10")}),
			wantErr: invoicing.ErrNotPayable,
		},
		{
			name:    "targets exceed the payment",
			req:     cashPayment("20", finance.AllocationTarget{DocumentID: inv.ID, Amount: dec("30")}),
			wantErr: payment.ErrOverAllocation,
		},
		{
			name:    "zero target amount",
			req:     cashPayment("20", finance.AllocationTarget{DocumentID: inv.ID, Amount: decimal.Zero}),
			wantErr: payment.ErrInvalidAmount,
		},
		{
			name:    "gateway method recorded by hand",
			req:     finance.RecordPaymentRequest{Method: "mpesa_stk", Amount: dec("10")},
			wantErr: payment.ErrInvalidMethod,
		},
		{
			name:    "non-positive amount",
			req:     cashPayment("0"),
			wantErr: payment.ErrInvalidAmount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.payments.RecordPayment(h.ctx, h.tenant.ID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, h.countRows(&models.PaymentModel{}, "tenant_id = ?", h.tenant.ID))
}

func TestPaymentService_DuplicateTargetsAreMerged(t *testing.T) {
	h := newHarness(t)
	inv := h.sentInvoice("C-1", "100", day(2024, 3, 1))

	resp, err := h.payments.RecordPayment(h.ctx, h.tenant.ID, cashPayment("100",
		finance.AllocationTarget{DocumentID: inv.ID, Amount: dec("50")},
		finance.AllocationTarget{DocumentID: inv.ID, Amount: dec("50")}))
	require.NoError(t, err)

	require.Len(t, resp.Allocations, 1)
	assert.True(t, dec("100").Equal(resp.Allocations[0].Amount))
	assert.True(t, dec("16").Equal(h.document(inv.ID).OutstandingBalance))
}

func TestPaymentService_OldestInvoiceFirst(t *testing.T) {
	h := newHarness(t)
	newer := h.sentInvoice("C-1", "100", day(2024, 2, 1))
	older := h.sentInvoice("C-1", "100", day(2024, 1, 1))
	other := h.sentInvoice("C-2", "100", day(2023, 12, 1))

	req := cashPayment("150")
	req.CounterpartyRef = "C-1"
	resp, err := h.payments.RecordPayment(h.ctx, h.tenant.ID, req)
	require.NoError(t, err)
	require.Len(t, resp.Allocations, 2)
	assert.True(t, resp.Unallocated.IsZero())

	assert.Equal(t, "paid", h.document(older.ID).Status)
	assert.True(t, dec("82").Equal(h.document(newer.ID).OutstandingBalance))
	assert.True(t, dec("116").Equal(h.document(other.ID).OutstandingBalance))
}

func TestPaymentService_UnappliedCredit(t *testing.T) {
	h := newHarness(t)
	first := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	second := h.sentInvoice("C-1", "50", day(2024, 3, 2))

	req := cashPayment("200", finance.AllocationTarget{DocumentID: first.ID, Amount: dec("116")})
	req.Method = "bank_transfer"
	resp, err := h.payments.RecordPayment(h.ctx, h.tenant.ID, req)
	require.NoError(t, err)
	assert.True(t, dec("84").Equal(resp.Unallocated))

	entry := h.entryFor(ledger.PaymentSource(resp.ID))
	require.NotNil(t, entry)
	assert.True(t, dec("200").Equal(entry.AmountFor(ledger.CodeBank, ledger.LineTypeDebit)))
	assert.True(t, dec("116").Equal(entry.AmountFor(ledger.CodeAccountsReceivable, ledger.LineTypeCredit)))
	assert.True(t, dec("84").Equal(entry.AmountFor(ledger.CodeUnappliedCredit, ledger.LineTypeCredit)))

	t.Run("apply part of the credit", func(t *testing.T) {
		applied, err := h.payments.ApplyUnappliedCredit(h.ctx, h.tenant.ID, resp.ID, finance.ApplyCreditRequest{
			Targets: []finance.AllocationTarget{{DocumentID: second.ID, Amount: dec("58")}},
		})
		require.NoError(t, err)
		assert.True(t, dec("26").Equal(applied.Unallocated), applied.Unallocated.String())
		assert.Len(t, applied.Allocations, 2)
		assert.Equal(t, "paid", h.document(second.ID).Status)
		assert.Equal(t, int64(1), h.countRows(&models.JournalEntryModel{}, "tenant_id = ? AND source_kind = ?", h.tenant.ID, ledger.SourceCreditApplication))
	})

	t.Run("cannot apply more than is left", func(t *testing.T) {
		third := h.sentInvoice("C-1", "100", day(2024, 3, 3))
		_, err := h.payments.ApplyUnappliedCredit(h.ctx, h.tenant.ID, resp.ID, finance.ApplyCreditRequest{
			Targets: []finance.AllocationTarget{{DocumentID: third.ID, Amount: dec("30")}},
		})
		require.ErrorIs(t, err, payment.ErrOverAllocation)
		assert.True(t, dec("116").Equal(h.document(third.ID).OutstandingBalance))
	})

	t.Run("ledger still balances", func(t *testing.T) {
		tb, err := h.reports.TrialBalance(h.ctx, h.tenant.ID, day(2030, 1, 1))
		require.NoError(t, err)
		assert.True(t, tb.IsBalanced)
	})
}

func TestPaymentAllocator_Allocate_UnknownPayment(t *testing.T) {
	h := newHarness(t)
	_, err := h.allocator.Allocate(h.ctx, h.tenant.ID, uuid.New(), []finance.AllocationTarget{{DocumentID: uuid.New(), Amount: dec("1")}})
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestPlanFIFO(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	docs := []invoicing.Document{{}, {}, {}}
	docs[0].ID, docs[1].ID, docs[2].ID = a, b, c

	outstanding := map[uuid.UUID]decimal.Decimal{
		a: dec("100"),
		b: decimal.Zero,
		c: dec("80"),
	}

	tests := []struct {
		name   string
		amount string
		want   []finance.AllocationTarget
	}{
		{"fills oldest first", "50", []finance.AllocationTarget{{DocumentID: a, Amount: dec("50")}}},
		{"skips settled documents", "130", []finance.AllocationTarget{
			{DocumentID: a, Amount: dec("100")},
			{DocumentID: c, Amount: dec("30")},
		}},
		{"leaves the surplus unplanned", "500", []finance.AllocationTarget{
			{DocumentID: a, Amount: dec("100")},
			{DocumentID: c, Amount: dec("80")},
		}},
		{"nothing to spread", "0", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := finance.PlanFIFO(docs, outstanding, dec(tt.amount))
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].DocumentID, got[i].DocumentID)
				assert.True(t, tt.want[i].Amount.Equal(got[i].Amount), got[i].Amount.String())
			}
		})
	}
}
