package services

import (
	"context"
	"time"

	"fintrack/internal/money"

	"github.com/shopspring/decimal"
)

// DashboardService aggregates settled activity for the overview screens. It
// only reads; balances are whatever the coordinator last committed.
type DashboardService struct {
	accounts     AccountStore
	transactions TransactionStore
}

func NewDashboardService(accounts AccountStore, transactions TransactionStore) *DashboardService {
	return &DashboardService{accounts: accounts, transactions: transactions}
}

type PeriodTotals struct {
	Income  string
	Expense string
	Net     string
}

type MonthSummary struct {
	CurrentMonth        PeriodTotals
	PreviousMonth       PeriodTotals
	IncomeVariationPct  string
	ExpenseVariationPct string
	TotalBalance        string
	TotalActiveAccounts int
}

// MonthSummary reports settled totals for the month containing now, the
// month before it, percentage variation between the two, and the combined
// balance of the user's active accounts.
func (s *DashboardService) MonthSummary(ctx context.Context, userID string, now time.Time) (MonthSummary, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	nextMonthStart := monthStart.AddDate(0, 1, 0)
	previousMonthStart := monthStart.AddDate(0, -1, 0)

	incomeMinor, expenseMinor, err := s.transactions.SumSettledByPeriod(ctx, userID, monthStart, nextMonthStart)
	if err != nil {
		return MonthSummary{}, mapStoreErr(err)
	}
	prevIncomeMinor, prevExpenseMinor, err := s.transactions.SumSettledByPeriod(ctx, userID, previousMonthStart, monthStart)
	if err != nil {
		return MonthSummary{}, mapStoreErr(err)
	}
	accountCount, totalMinor, err := s.accounts.SummaryByUser(ctx, userID)
	if err != nil {
		return MonthSummary{}, mapStoreErr(err)
	}

	return MonthSummary{
		CurrentMonth: PeriodTotals{
			Income:  money.FormatMinor(incomeMinor),
			Expense: money.FormatMinor(expenseMinor),
			Net:     money.FormatMinor(incomeMinor - expenseMinor),
		},
		PreviousMonth: PeriodTotals{
			Income:  money.FormatMinor(prevIncomeMinor),
			Expense: money.FormatMinor(prevExpenseMinor),
			Net:     money.FormatMinor(prevIncomeMinor - prevExpenseMinor),
		},
		IncomeVariationPct:  variationPct(incomeMinor, prevIncomeMinor),
		ExpenseVariationPct: variationPct(expenseMinor, prevExpenseMinor),
		TotalBalance:        money.FormatMinor(totalMinor),
		TotalActiveAccounts: accountCount,
	}, nil
}

// variationPct is ((current-previous)/previous)*100, or "0.00" when there is
// no previous activity to compare against.
func variationPct(currentMinor, previousMinor int64) string {
	if previousMinor <= 0 {
		return "0.00"
	}
	current := money.DecimalFromMinor(currentMinor)
	previous := money.DecimalFromMinor(previousMinor)
	return current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).StringFixed(2)
}
