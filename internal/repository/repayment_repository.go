package repository

import (
	"context"

	"github.com/dairylink/dairylink-api/internal/models"
	"gorm.io/gorm"
)

// RepaymentRepository defines the interface for loan repayment data access
type RepaymentRepository interface {
	Create(ctx context.Context, repayment *models.LoanRepayment) error
	Delete(ctx context.Context, id string) error
	FindByLoan(ctx context.Context, loanID string) ([]models.LoanRepayment, error)
}

type repaymentRepository struct {
	db *gorm.DB
}

// NewRepaymentRepository creates a new repayment repository
func NewRepaymentRepository(db *gorm.DB) RepaymentRepository {
	return &repaymentRepository{db: db}
}

func (r *repaymentRepository) Create(ctx context.Context, repayment *models.LoanRepayment) error {
	return r.db.WithContext(ctx).Create(repayment).Error
}

// Delete hard-deletes a repayment row. Only used as the compensating
// rollback of a repayment whose ledger write failed.
func (r *repaymentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.LoanRepayment{}, "id = ?", id).Error
}

// FindByLoan retrieves all repayments for a loan, newest first
func (r *repaymentRepository) FindByLoan(ctx context.Context, loanID string) ([]models.LoanRepayment, error) {
	var repayments []models.LoanRepayment
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("repayment_date DESC, created_at DESC").
		Find(&repayments).Error
	return repayments, err
}
