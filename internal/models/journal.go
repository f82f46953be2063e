package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JournalEntry is a balanced double-entry record owned by the accounting
// subsystem. Loan code never reads or joins these tables; it only writes
// through the ledger gateway, which creates entry and lines atomically.
type JournalEntry struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID  string    `gorm:"type:uuid;not null;index" json:"account_id"`
	Memo       string    `gorm:"size:255;not null" json:"memo"`
	SourceType string    `gorm:"size:30;not null;index" json:"source_type"`
	EntryDate  time.Time `gorm:"not null;index" json:"entry_date"`
	CreatedBy  string    `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`

	// Associations
	Lines []JournalLine `gorm:"foreignKey:EntryID" json:"lines"`
}

// TableName specifies the table name for GORM
func (JournalEntry) TableName() string {
	return "journal_entries"
}

// Journal source type constants
const (
	JournalSourceLoanDisbursement = "loan_disbursement"
	JournalSourceLoanRepayment    = "loan_repayment"
)

// Ledger account codes touched by loan movements
const (
	LedgerAccountLoansReceivable = "loans_receivable"
	LedgerAccountCash            = "cash"
)

// BeforeCreate assigns a UUID primary key
func (e *JournalEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Balanced reports whether total debits equal total credits
func (e *JournalEntry) Balanced() bool {
	debit := decimal.Zero
	credit := decimal.Zero
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit.Equal(credit)
}

// JournalLine is one side of a journal entry
type JournalLine struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	EntryID       string          `gorm:"type:uuid;not null;index" json:"entry_id"`
	LedgerAccount string          `gorm:"size:40;not null;index" json:"ledger_account"`
	Debit         decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"debit"`
	Credit        decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"credit"`
}

// TableName specifies the table name for GORM
func (JournalLine) TableName() string {
	return "journal_lines"
}

// BeforeCreate assigns a UUID primary key
func (l *JournalLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
