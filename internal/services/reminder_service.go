package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/internal/repository"
	"github.com/dairylink/dairylink-api/pkg/logger"
)

// ReminderService sends the daily overdue-loan reminder emails, one email
// per loan officer covering all their overdue loans.
type ReminderService struct {
	loans    repository.LoanRepository
	accounts repository.AccountRepository
	email    *EmailService
}

// NewReminderService creates a new reminder service
func NewReminderService(loans repository.LoanRepository, accounts repository.AccountRepository, email *EmailService) *ReminderService {
	return &ReminderService{loans: loans, accounts: accounts, email: email}
}

// SendOverdueLoanEmails groups overdue loans by the user who created them
// and emails each a summary. Failures are logged per user so one bad address
// does not block the rest.
func (s *ReminderService) SendOverdueLoanEmails(ctx context.Context) error {
	loans, err := s.loans.FindOverdue(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to find overdue loans: %w", err)
	}
	if len(loans) == 0 {
		return nil
	}

	byCreator := make(map[string][]models.Loan)
	for _, loan := range loans {
		byCreator[loan.CreatedBy] = append(byCreator[loan.CreatedBy], loan)
	}

	for creatorID, creatorLoans := range byCreator {
		user, err := s.accounts.FindUserByID(ctx, creatorID)
		if err != nil {
			logger.Error(fmt.Sprintf("[Reminder] Failed to load user %s: %v", creatorID, err))
			continue
		}
		if err := s.email.SendOverdueLoans(ctx, user, creatorLoans); err != nil {
			logger.Error(fmt.Sprintf("[Reminder] Failed to email user %s: %v", creatorID, err))
		}
	}

	logger.Info(fmt.Sprintf("[Reminder] Processed %d overdue loans for %d users", len(loans), len(byCreator)))
	return nil
}
