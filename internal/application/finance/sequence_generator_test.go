package finance_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/ledger"
	"github.com/invoicer/backend/internal/domain/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceGenerator_Generate(t *testing.T) {
	h := newHarness(t)

	t.Run("numbers are consecutive per type and year", func(t *testing.T) {
		for _, want := range []string{"INV-2024-0001", "INV-2024-0002", "INV-2024-0003"} {
			got, err := h.sequences.Generate(h.ctx, h.tenant.ID, sequence.DocumentTypeInvoice, 2024)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("each type and year has its own counter", func(t *testing.T) {
		got, err := h.sequences.Generate(h.ctx, h.tenant.ID, sequence.DocumentTypeInvoice, 2025)
		require.NoError(t, err)
		assert.Equal(t, "INV-2025-0001", got)

		got, err = h.sequences.Generate(h.ctx, h.tenant.ID, sequence.DocumentTypeBill, 2024)
		require.NoError(t, err)
		assert.Equal(t, "BILL-2024-0001", got)

		got, err = h.sequences.Generate(h.ctx, h.tenant.ID, sequence.DocumentTypePayment, 2024)
		require.NoError(t, err)
		assert.Equal(t, "PAY-2024-0001", got)
	})

	t.Run("tenants do not share counters", func(t *testing.T) {
		other := uuid.New()
		got, err := h.sequences.Generate(h.ctx, other, sequence.DocumentTypeInvoice, 2024)
		require.NoError(t, err)
		assert.Equal(t, "INV-2024-0001", got)
	})

	t.Run("rejects an unknown type", func(t *testing.T) {
		_, err := h.sequences.Generate(h.ctx, h.tenant.ID, sequence.DocumentType("quote"), 2024)
		assert.Error(t, err)
	})
}

func TestSequenceGenerator_GenerateInTx_RollbackLeavesNoGap(t *testing.T) {
	h := newHarness(t)
	errAbort := errors.New("abort")

	err := h.scope.Execute(h.ctx, func(repos finance.TransactionalRepositories) error {
		n, err := h.sequences.GenerateInTx(h.ctx, repos, h.tenant.ID, sequence.DocumentTypeJournal, 2024)
		require.NoError(t, err)
		assert.Equal(t, "JE-2024-0001", n)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := h.sequences.Generate(h.ctx, h.tenant.ID, sequence.DocumentTypeJournal, 2024)
	require.NoError(t, err)
	assert.Equal(t, "JE-2024-0001", got)
}

func TestSequenceGenerator_FailedPostingReleasesEntryNumber(t *testing.T) {
	h := newHarness(t)

	req := invoiceRequest("C-1", "100", day(2024, 3, 1))
	req.Items[0].AccountCode = "9999"
	bad, err := h.invoices.CreateInvoice(h.ctx, h.tenant.ID, req)
	require.NoError(t, err)

	_, err = h.invoices.SendInvoice(h.ctx, h.tenant.ID, bad.ID)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, "draft", h.document(bad.ID).Status)

	good := h.sentInvoice("C-1", "100", day(2024, 3, 1))
	assert.Equal(t, "INV-2024-0002", good.Number)
	entry := h.entryFor(ledger.InvoiceSource(good.ID))
	require.NotNil(t, entry)
	assert.Equal(t, "JE-2024-0001", entry.EntryNumber)
}
