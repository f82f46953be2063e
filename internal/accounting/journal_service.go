package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JournalService owns the double-entry journal tables. Loan code writes
// through it and never reads the journal back; each call commits exactly
// one balanced entry or nothing.
type JournalService struct {
	db *gorm.DB
}

// NewJournalService creates a new journal service
func NewJournalService(db *gorm.DB) *JournalService {
	return &JournalService{db: db}
}

// RecordDisbursement books a loan disbursement: debit loans receivable,
// credit cash.
func (s *JournalService) RecordDisbursement(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
	entry, err := buildEntry(actorID, accountID, memo, models.JournalSourceLoanDisbursement, date,
		models.LedgerAccountLoansReceivable, models.LedgerAccountCash, amount)
	if err != nil {
		return err
	}
	return s.write(ctx, entry)
}

// RecordRepayment books a loan repayment: debit cash, credit loans
// receivable.
func (s *JournalService) RecordRepayment(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
	entry, err := buildEntry(actorID, accountID, memo, models.JournalSourceLoanRepayment, date,
		models.LedgerAccountCash, models.LedgerAccountLoansReceivable, amount)
	if err != nil {
		return err
	}
	return s.write(ctx, entry)
}

// buildEntry assembles one balanced two-line journal entry debiting
// debitAccount and crediting creditAccount for the same amount.
func buildEntry(actorID, accountID, memo, sourceType string, date time.Time, debitAccount, creditAccount string, amount decimal.Decimal) (*models.JournalEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("journal amount must be positive, got %s", amount)
	}

	entry := &models.JournalEntry{
		AccountID:  accountID,
		Memo:       memo,
		SourceType: sourceType,
		EntryDate:  date,
		CreatedBy:  actorID,
		Lines: []models.JournalLine{
			{LedgerAccount: debitAccount, Debit: amount, Credit: decimal.Zero},
			{LedgerAccount: creditAccount, Debit: decimal.Zero, Credit: amount},
		},
	}

	if !entry.Balanced() {
		return nil, fmt.Errorf("journal entry is not balanced")
	}
	return entry, nil
}

// write persists the entry and its lines in one transaction
func (s *JournalService) write(ctx context.Context, entry *models.JournalEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to write journal entry: %w", err)
		}
		return nil
	})
}
