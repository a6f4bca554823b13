package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/invoicer/backend/internal/domain/shared"
)

// AccountType classifies a chart-of-accounts entry
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// IsValid reports whether t is a known account type
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide is the side on which the account type increases.
func (t AccountType) NormalSide() LineType {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return LineTypeDebit
	default:
		return LineTypeCredit
	}
}

// Well-known account codes. Missing ones are provisioned on first use.
const (
	CodeCash               = "1000"
	CodeBank               = "1010"
	CodeMobileMoney        = "1020"
	CodeAccountsReceivable = "1200"
	CodeInputTax           = "1300"
	CodeAccountsPayable    = "2000"
	CodeTaxPayable         = "2100"
	CodeUnappliedCredit    = "2300"
	CodeSalesRevenue       = "4000"
	CodePurchases          = "5000"
)

// StandardAccount describes a well-known account template
type StandardAccount struct {
	Code string
	Name string
	Type AccountType
}

var standardAccounts = map[string]StandardAccount{
	CodeCash:               {CodeCash, "Cash on Hand", AccountTypeAsset},
	CodeBank:               {CodeBank, "Bank", AccountTypeAsset},
	CodeMobileMoney:        {CodeMobileMoney, "M-Pesa Clearing", AccountTypeAsset},
	CodeAccountsReceivable: {CodeAccountsReceivable, "Accounts Receivable", AccountTypeAsset},
	CodeInputTax:           {CodeInputTax, "Input Tax Recoverable", AccountTypeAsset},
	CodeAccountsPayable:    {CodeAccountsPayable, "Accounts Payable", AccountTypeLiability},
	CodeTaxPayable:         {CodeTaxPayable, "Tax Payable", AccountTypeLiability},
	CodeUnappliedCredit:    {CodeUnappliedCredit, "Unapplied Customer Credit", AccountTypeLiability},
	CodeSalesRevenue:       {CodeSalesRevenue, "Sales Revenue", AccountTypeRevenue},
	CodePurchases:          {CodePurchases, "Purchases and Expenses", AccountTypeExpense},
}

// LookupStandardAccount returns the template for a well-known code
func LookupStandardAccount(code string) (StandardAccount, bool) {
	sa, ok := standardAccounts[code]
	return sa, ok
}

// Account is one entry in a tenant's chart of accounts
type Account struct {
	shared.BaseEntity
	TenantID uuid.UUID
	Code     string
	Name     string
	Type     AccountType
	ParentID *uuid.UUID
	IsSystem bool
}

// NewAccount creates a tenant account
func NewAccount(tenantID uuid.UUID, code, name string, accountType AccountType, parentID *uuid.UUID) (*Account, error) {
	code = strings.TrimSpace(code)
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidAccount)
	}
	if code == "" || len(code) > 20 {
		return nil, fmt.Errorf("%w: code must be 1-20 characters", ErrInvalidAccount)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAccount)
	}
	if !accountType.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, accountType)
	}
	return &Account{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Code:       code,
		Name:       strings.TrimSpace(name),
		Type:       accountType,
		ParentID:   parentID,
	}, nil
}

// NewStandardAccount provisions a well-known account for a tenant
func NewStandardAccount(tenantID uuid.UUID, code string) (*Account, error) {
	sa, ok := LookupStandardAccount(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	acc, err := NewAccount(tenantID, sa.Code, sa.Name, sa.Type, nil)
	if err != nil {
		return nil, err
	}
	acc.IsSystem = true
	return acc, nil
}
