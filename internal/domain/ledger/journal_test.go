package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAccount(t *testing.T, tenantID uuid.UUID, code string) *Account {
	t.Helper()
	acc, err := NewStandardAccount(tenantID, code)
	require.NoError(t, err)
	return acc
}

func TestJournalEntry_PostBalanced(t *testing.T) {
	tenantID := uuid.New()
	entry, err := NewJournalEntry(tenantID, InvoiceSource(uuid.New()), time.Now(), "invoice")
	require.NoError(t, err)

	require.NoError(t, entry.AddLine(mustAccount(t, tenantID, CodeAccountsReceivable), LineTypeDebit, decimal.NewFromInt(1460), ""))
	require.NoError(t, entry.AddLine(mustAccount(t, tenantID, CodeSalesRevenue), LineTypeCredit, decimal.NewFromInt(1300), ""))
	require.NoError(t, entry.AddLine(mustAccount(t, tenantID, CodeTaxPayable), LineTypeCredit, decimal.NewFromInt(160), ""))

	require.NoError(t, entry.Post("JE-2024-0001", time.Now()))
	assert.Equal(t, EntryStatusPosted, entry.Status)
	assert.Equal(t, "JE-2024-0001", entry.EntryNumber)
	assert.NotNil(t, entry.PostedAt)
	assert.Equal(t, []int{1, 2, 3}, []int{entry.Lines[0].LineNo, entry.Lines[1].LineNo, entry.Lines[2].LineNo})

	assert.ErrorIs(t, entry.Post("JE-2024-0002", time.Now()), ErrAlreadyPosted)
	assert.ErrorIs(t, entry.AddLine(mustAccount(t, tenantID, CodeCash), LineTypeDebit, decimal.NewFromInt(1), ""), ErrAlreadyPosted)
}

func TestJournalEntry_UnbalancedIsRejected(t *testing.T) {
	tenantID := uuid.New()
	entry, err := NewJournalEntry(tenantID, PaymentSource(uuid.New()), time.Now(), "")
	require.NoError(t, err)

	require.NoError(t, entry.AddLine(mustAccount(t, tenantID, CodeCash), LineTypeDebit, decimal.NewFromInt(100), ""))
	require.NoError(t, entry.AddLine(mustAccount(t, tenantID, CodeAccountsReceivable), LineTypeCredit, decimal.NewFromInt(99), ""))

	err = entry.Post("JE-2024-0001", time.Now())
	assert.ErrorIs(t, err, ErrUnbalancedEntry)
	assert.Equal(t, EntryStatusDraft, entry.Status)
	assert.Empty(t, entry.EntryNumber)
}

func TestJournalEntry_AddLineValidation(t *testing.T) {
	tenantID := uuid.New()
	entry, err := NewJournalEntry(tenantID, InvoiceSource(uuid.New()), time.Now(), "")
	require.NoError(t, err)
	cash := mustAccount(t, tenantID, CodeCash)

	assert.ErrorIs(t, entry.AddLine(cash, LineTypeDebit, decimal.Zero, ""), ErrNonPositiveAmount)
	assert.ErrorIs(t, entry.AddLine(cash, LineTypeDebit, decimal.NewFromInt(-5), ""), ErrNonPositiveAmount)
	assert.ErrorIs(t, entry.AddLine(cash, LineType("sideways"), decimal.NewFromInt(5), ""), ErrInvalidLineType)
	assert.ErrorIs(t, entry.AddLine(nil, LineTypeDebit, decimal.NewFromInt(5), ""), ErrAccountNotFound)
	assert.ErrorIs(t, entry.AddLine(mustAccount(t, uuid.New(), CodeCash), LineTypeDebit, decimal.NewFromInt(5), ""), ErrInvalidAccount)

	assert.ErrorIs(t, entry.Post("JE-2024-0001", time.Now()), ErrEmptyEntry)
}

func TestSourceRef_Validate(t *testing.T) {
	assert.NoError(t, InvoiceSource(uuid.New()).Validate())
	assert.NoError(t, CreditApplicationSource(uuid.New()).Validate())
	assert.ErrorIs(t, SourceRef{Kind: "order", ID: uuid.New()}.Validate(), ErrInvalidSource)
	assert.ErrorIs(t, PaymentSource(uuid.Nil).Validate(), ErrInvalidSource)

	_, err := NewJournalEntry(uuid.New(), SourceRef{}, time.Now(), "")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestNewAccount(t *testing.T) {
	tenantID := uuid.New()

	acc, err := NewAccount(tenantID, " 4010 ", "Consulting", AccountTypeRevenue, nil)
	require.NoError(t, err)
	assert.Equal(t, "4010", acc.Code)
	assert.False(t, acc.IsSystem)

	_, err = NewAccount(tenantID, "", "x", AccountTypeAsset, nil)
	assert.ErrorIs(t, err, ErrInvalidAccount)
	_, err = NewAccount(tenantID, "1", "x", AccountType("other"), nil)
	assert.ErrorIs(t, err, ErrInvalidAccount)

	_, err = NewStandardAccount(tenantID, "9999")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	std, err := NewStandardAccount(tenantID, CodeUnappliedCredit)
	require.NoError(t, err)
	assert.True(t, std.IsSystem)
	assert.Equal(t, AccountTypeLiability, std.Type)
}

func TestAccountBalance_Balance(t *testing.T) {
	ar := AccountBalance{AccountType: AccountTypeAsset, Debit: decimal.NewFromInt(1460), Credit: decimal.NewFromInt(1460)}
	assert.True(t, ar.Balance().IsZero())

	unapplied := AccountBalance{AccountType: AccountTypeLiability, Credit: decimal.NewFromInt(540)}
	assert.True(t, unapplied.Balance().Equal(decimal.NewFromInt(540)))
}
