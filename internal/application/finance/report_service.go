package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReportService exposes raw ledger aggregations
type ReportService struct {
	scope TransactionScope
}

// NewReportService creates a new ReportService
func NewReportService(scope TransactionScope) *ReportService {
	return &ReportService{scope: scope}
}

// TrialBalance totals posted debits and credits per account up to asOf and
// checks that the ledger as a whole balances.
func (s *ReportService) TrialBalance(ctx context.Context, tenantID uuid.UUID, asOf time.Time) (*TrialBalanceResponse, error) {
	resp := &TrialBalanceResponse{
		AsOf:        asOf,
		Lines:       []TrialBalanceLine{},
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		balances, err := repos.Journals().TrialBalance(ctx, tenantID, asOf)
		if err != nil {
			return err
		}
		for _, b := range balances {
			resp.Lines = append(resp.Lines, TrialBalanceLine{
				AccountCode: b.AccountCode,
				AccountName: b.AccountName,
				AccountType: string(b.AccountType),
				Debit:       b.Debit,
				Credit:      b.Credit,
				Balance:     b.Balance(),
			})
			resp.TotalDebit = resp.TotalDebit.Add(b.Debit)
			resp.TotalCredit = resp.TotalCredit.Add(b.Credit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.IsBalanced = resp.TotalDebit.Equal(resp.TotalCredit)
	return resp, nil
}
