package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrStaleLoan is returned when an optimistic update finds the loan row
// changed since it was read. Callers reload and retry.
var ErrStaleLoan = errors.New("loan was modified concurrently")

// LoanRepository defines the interface for loan data access
type LoanRepository interface {
	Create(ctx context.Context, loan *models.Loan) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id, lenderAccountID string) (*models.Loan, error)
	FindByIDWithRepayments(ctx context.Context, id, lenderAccountID string) (*models.Loan, error)
	List(ctx context.Context, query *LoanQuery) ([]models.Loan, int64, error)
	ApplyRepaid(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error
	UpdateEditable(ctx context.Context, loan *models.Loan) error
	FindActiveByBorrower(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error)
	FindOverdue(ctx context.Context, asOf time.Time) ([]models.Loan, error)
}

// LoanQuery extends ListQuery with loan-specific filters
type LoanQuery struct {
	*ListQuery
	LenderAccountID string
	BorrowerType    string
	Status          string
	DateFrom        *time.Time
	DateTo          *time.Time
}

type loanRepository struct {
	db *gorm.DB
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

// Delete hard-deletes a loan row. Only used as the compensating rollback of
// a disbursement whose ledger write failed.
func (r *loanRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.Loan{}, "id = ?", id).Error
}

func (r *loanRepository) FindByID(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Preload("BorrowerAccount").
		Where("id = ? AND lender_account_id = ?", id, lenderAccountID).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) FindByIDWithRepayments(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Preload("BorrowerAccount").
		Preload("Repayments", func(db *gorm.DB) *gorm.DB {
			return db.Order("repayment_date DESC, created_at DESC")
		}).
		Where("id = ? AND lender_account_id = ?", id, lenderAccountID).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) List(ctx context.Context, query *LoanQuery) ([]models.Loan, int64, error) {
	var loans []models.Loan
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("loans.lender_account_id = ?", query.LenderAccountID)

	if query.BorrowerType != "" {
		db = db.Where("loans.borrower_type = ?", query.BorrowerType)
	}
	if query.Status != "" {
		db = db.Where("loans.status = ?", query.Status)
	}
	if query.DateFrom != nil {
		db = db.Where("loans.disbursement_date >= ?", *query.DateFrom)
	}
	if query.DateTo != nil {
		// Inclusive upper bound: extend to end of day
		db = db.Where("loans.disbursement_date < ?", query.DateTo.AddDate(0, 0, 1))
	}

	if search := strings.TrimSpace(query.Search); search != "" {
		term := "%" + search + "%"
		db = db.Joins("LEFT JOIN accounts ON accounts.id = loans.borrower_account_id").
			Where("loans.borrower_name ILIKE ? OR loans.notes ILIKE ? OR accounts.name ILIKE ? OR accounts.code ILIKE ?",
				term, term, term, term)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (query.Page - 1) * query.PerPage
	err := db.
		Preload("BorrowerAccount").
		Order("loans.created_at DESC").
		Limit(query.PerPage).
		Offset(offset).
		Find(&loans).Error
	return loans, total, err
}

// ApplyRepaid updates amount_repaid and status with an optimistic row check:
// the update only lands if amount_repaid still holds the value the caller
// read. A zero-row result means a concurrent repayment won and the caller
// must reload. The same compare-and-swap is used to revert a repayment when
// the paired ledger write fails.
func (r *loanRepository) ApplyRepaid(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
	res := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("id = ? AND amount_repaid = ?", id, expectedRepaid).
		Updates(map[string]interface{}{
			"amount_repaid": newRepaid,
			"status":        newStatus,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleLoan
	}
	return nil
}

// UpdateEditable persists the administratively editable fields only.
// Principal, borrower and currency never leave this column list.
func (r *loanRepository) UpdateEditable(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Model(loan).
		Select("status", "due_date", "notes").
		Updates(map[string]interface{}{
			"status":   loan.Status,
			"due_date": loan.DueDate,
			"notes":    loan.Notes,
		}).Error
}

// FindActiveByBorrower returns a borrower's active loans oldest-disbursed
// first, for payroll allocation.
func (r *loanRepository) FindActiveByBorrower(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
	var loans []models.Loan
	err := r.db.WithContext(ctx).
		Where("lender_account_id = ? AND borrower_account_id = ? AND status = ?",
			lenderAccountID, borrowerAccountID, models.LoanStatusActive).
		Order("disbursement_date ASC").
		Find(&loans).Error
	return loans, err
}

// FindOverdue returns active loans whose due date has passed
func (r *loanRepository) FindOverdue(ctx context.Context, asOf time.Time) ([]models.Loan, error) {
	var loans []models.Loan
	err := r.db.WithContext(ctx).
		Preload("BorrowerAccount").
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?", models.LoanStatusActive, asOf).
		Find(&loans).Error
	return loans, err
}
