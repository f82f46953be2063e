package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/shopspring/decimal"
)

// AllocationLine records how much of a payroll deduction landed on one loan
type AllocationLine struct {
	LoanID  string          `json:"loan_id"`
	Applied decimal.Decimal `json:"applied"`
}

// DeductionResult summarizes a payroll deduction run. TotalApplied plus
// Unapplied always equals the requested amount.
type DeductionResult struct {
	Applied      []AllocationLine `json:"applied"`
	TotalApplied decimal.Decimal  `json:"total_applied"`
	Unapplied    decimal.Decimal  `json:"unapplied"`
}

// PayrollService settles loan balances out of milk payment runs. A deduction
// is split across the borrower's active loans oldest-disbursed first, each
// slice recorded as a payroll-sourced repayment through the normal repayment
// path so the ledger and concurrency guarantees hold.
type PayrollService struct {
	loans *LoanService
}

// NewPayrollService creates a new payroll service
func NewPayrollService(loans *LoanService) *PayrollService {
	return &PayrollService{loans: loans}
}

// ResolveLenderAccount validates the lender account for a deduction the same
// way the loan endpoints do: an explicit account id must be one the caller
// has active access to, otherwise the caller's default account is used.
func (s *PayrollService) ResolveLenderAccount(ctx context.Context, userID, explicitID, defaultID string) (string, error) {
	return s.loans.ResolveLenderAccount(ctx, userID, explicitID, defaultID)
}

// ApplyDeduction allocates amount across the borrower's outstanding loans.
// If a slice fails mid-run the partial result is returned alongside the
// error so the caller knows exactly what was withheld.
func (s *PayrollService) ApplyDeduction(ctx context.Context, actor Actor, lenderAccountID, borrowerAccountID string, amount decimal.Decimal, deductionDate time.Time, reference string) (DeductionResult, error) {
	result := DeductionResult{
		Applied:      []AllocationLine{},
		TotalApplied: decimal.Zero,
		Unapplied:    amount,
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return result, fmt.Errorf("%w: deduction amount must be greater than zero", ErrInvalidInput)
	}
	if deductionDate.IsZero() {
		deductionDate = time.Now()
	}

	summaries, err := s.loans.ActiveLoansForBorrower(ctx, lenderAccountID, borrowerAccountID)
	if err != nil {
		return result, err
	}

	remaining := amount
	for _, summary := range summaries {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		slice := decimal.Min(summary.Outstanding, remaining)
		notes := reference
		if notes == "" {
			notes = "Payroll deduction"
		}

		_, err := s.loans.RecordRepayment(ctx, actor, RecordRepaymentRequest{
			LoanID:          summary.LoanID,
			LenderAccountID: lenderAccountID,
			Amount:          slice,
			RepaymentDate:   deductionDate,
			Notes:           &notes,
			Source:          models.RepaymentSourcePayroll,
		})
		if err != nil {
			result.Unapplied = amount.Sub(result.TotalApplied)
			return result, fmt.Errorf("deduction stopped at loan %s: %w", summary.LoanID, err)
		}

		result.Applied = append(result.Applied, AllocationLine{LoanID: summary.LoanID, Applied: slice})
		result.TotalApplied = result.TotalApplied.Add(slice)
		remaining = remaining.Sub(slice)
	}

	result.Unapplied = amount.Sub(result.TotalApplied)
	return result, nil
}
