package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Loan represents money lent from a tenant account to a borrower.
// Principal, borrower and currency are immutable after creation; the row is
// only mutated by repayments (amount_repaid, status) or administrative edits
// (status, due_date, notes). A loan row is hard-deleted only as the
// compensating rollback of a disbursement whose ledger write failed.
type Loan struct {
	ID                string          `gorm:"type:uuid;primaryKey" json:"id"`
	LenderAccountID   string          `gorm:"type:uuid;not null;index" json:"lender_account_id"`
	BorrowerType      string          `gorm:"size:20;not null;index" json:"borrower_type"`
	BorrowerAccountID *string         `gorm:"type:uuid;index" json:"borrower_account_id"`
	BorrowerName      *string         `gorm:"size:255" json:"borrower_name"`
	Principal         decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"principal"`
	AmountRepaid      decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"amount_repaid"`
	Currency          string          `gorm:"size:3;not null" json:"currency"`
	Status            string          `gorm:"size:20;not null;index" json:"status"`
	DisbursementDate  time.Time       `gorm:"not null;index" json:"disbursement_date"`
	DueDate           *time.Time      `json:"due_date"`
	Notes             *string         `gorm:"type:text" json:"notes"`
	CreatedBy         string          `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Associations
	BorrowerAccount *Account        `gorm:"foreignKey:BorrowerAccountID" json:"borrower_account,omitempty"`
	Repayments      []LoanRepayment `gorm:"foreignKey:LoanID" json:"repayments,omitempty"`
}

// TableName specifies the table name for GORM
func (Loan) TableName() string {
	return "loans"
}

// Borrower type constants
const (
	BorrowerTypeSupplier = "supplier"
	BorrowerTypeCustomer = "customer"
	BorrowerTypeOther    = "other"
)

// Loan status constants
const (
	LoanStatusActive = "active"
	LoanStatusClosed = "closed"
)

// BeforeCreate assigns a UUID primary key
func (l *Loan) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Outstanding returns principal minus cumulative repayments
func (l *Loan) Outstanding() decimal.Decimal {
	return l.Principal.Sub(l.AmountRepaid)
}

// IsClosed returns true once the loan is fully repaid
func (l *Loan) IsClosed() bool {
	return l.Status == LoanStatusClosed
}

// MayClose reports whether the loan can transition to closed.
// A loan closes only when fully repaid; reopening is not supported.
func (l *Loan) MayClose() bool {
	return l.Status == LoanStatusActive && l.AmountRepaid.GreaterThanOrEqual(l.Principal)
}

// BorrowerLabel returns the display name for the borrower: account name,
// then explicit borrower name, then account code.
func (l *Loan) BorrowerLabel() string {
	if l.BorrowerAccount != nil && l.BorrowerAccount.Name != "" {
		return l.BorrowerAccount.Name
	}
	if l.BorrowerName != nil && *l.BorrowerName != "" {
		return *l.BorrowerName
	}
	if l.BorrowerAccount != nil && l.BorrowerAccount.Code != "" {
		return l.BorrowerAccount.Code
	}
	return "Borrower"
}

// ShortRef returns the first 8 characters of the loan id, used in ledger memos
func (l *Loan) ShortRef() string {
	if len(l.ID) < 8 {
		return l.ID
	}
	return l.ID[:8]
}

// LoanResponse is the JSON response format for loans
type LoanResponse struct {
	ID                string                  `json:"id"`
	LenderAccountID   string                  `json:"lender_account_id"`
	BorrowerType      string                  `json:"borrower_type"`
	BorrowerAccountID *string                 `json:"borrower_account_id"`
	BorrowerAccount   *AccountRef             `json:"borrower_account,omitempty"`
	BorrowerName      *string                 `json:"borrower_name"`
	BorrowerLabel     string                  `json:"borrower_label"`
	Principal         decimal.Decimal         `json:"principal"`
	AmountRepaid      decimal.Decimal         `json:"amount_repaid"`
	Outstanding       decimal.Decimal         `json:"outstanding"`
	Currency          string                  `json:"currency"`
	Status            string                  `json:"status"`
	DisbursementDate  time.Time               `json:"disbursement_date"`
	DueDate           *time.Time              `json:"due_date"`
	Notes             *string                 `json:"notes"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
	Repayments        []LoanRepaymentResponse `json:"repayments,omitempty"`
}

// ToResponse converts Loan to LoanResponse
func (l *Loan) ToResponse() LoanResponse {
	resp := LoanResponse{
		ID:                l.ID,
		LenderAccountID:   l.LenderAccountID,
		BorrowerType:      l.BorrowerType,
		BorrowerAccountID: l.BorrowerAccountID,
		BorrowerName:      l.BorrowerName,
		BorrowerLabel:     l.BorrowerLabel(),
		Principal:         l.Principal,
		AmountRepaid:      l.AmountRepaid,
		Outstanding:       l.Outstanding(),
		Currency:          l.Currency,
		Status:            l.Status,
		DisbursementDate:  l.DisbursementDate,
		DueDate:           l.DueDate,
		Notes:             l.Notes,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
	if l.BorrowerAccount != nil {
		ref := l.BorrowerAccount.ToRef()
		resp.BorrowerAccount = &ref
	}
	for _, r := range l.Repayments {
		resp.Repayments = append(resp.Repayments, r.ToResponse())
	}
	return resp
}
