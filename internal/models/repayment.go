package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LoanRepayment records a single repayment against a loan. The sum of a
// loan's repayment amounts always equals its amount_repaid; a repayment row
// is deleted only as the compensating rollback of a ledger write failure.
type LoanRepayment struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	LoanID        string          `gorm:"type:uuid;not null;index" json:"loan_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	RepaymentDate time.Time       `gorm:"not null;index" json:"repayment_date"`
	Notes         *string         `gorm:"type:text" json:"notes"`
	Source        string          `gorm:"size:20;not null;default:direct" json:"source"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName specifies the table name for GORM
func (LoanRepayment) TableName() string {
	return "loan_repayments"
}

// Repayment source constants
const (
	RepaymentSourceDirect  = "direct"
	RepaymentSourcePayroll = "payroll"
)

// BeforeCreate assigns a UUID primary key
func (r *LoanRepayment) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// LoanRepaymentResponse is the JSON response format for repayments
type LoanRepaymentResponse struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	RepaymentDate time.Time       `json:"repayment_date"`
	Notes         *string         `json:"notes"`
	Source        string          `json:"source"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToResponse converts LoanRepayment to LoanRepaymentResponse
func (r *LoanRepayment) ToResponse() LoanRepaymentResponse {
	return LoanRepaymentResponse{
		ID:            r.ID,
		Amount:        r.Amount,
		RepaymentDate: r.RepaymentDate,
		Notes:         r.Notes,
		Source:        r.Source,
		CreatedAt:     r.CreatedAt,
	}
}
