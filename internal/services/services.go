package services

import (
	"github.com/dairylink/dairylink-api/internal/accounting"
	"github.com/dairylink/dairylink-api/internal/config"
	"github.com/dairylink/dairylink-api/internal/jobs"
	"github.com/dairylink/dairylink-api/internal/repository"
	"gorm.io/gorm"
)

// Services holds all service instances
type Services struct {
	Loan         *LoanService
	Payroll      *PayrollService
	Notification *NotificationService
	Audit        *AuditService
	Email        *EmailService
	Export       *ExportService
	Report       *ReportService
	Reminder     *ReminderService
}

// NewServices creates all service instances
func NewServices(repos *repository.Repositories, worker *jobs.Worker, cfg *config.Config, db *gorm.DB) *Services {
	notificationSvc := NewNotificationService(db)
	emailSvc := NewEmailService(cfg)
	auditSvc := NewAuditService(db)
	journalSvc := accounting.NewJournalService(db)

	resolver := NewBorrowerResolver(repos.Account, cfg.BaseCurrency)
	loanSvc := NewLoanService(repos.Loan, repos.Repayment, repos.Account, resolver, journalSvc, auditSvc, notificationSvc, worker, cfg.BaseCurrency)

	return &Services{
		Loan:         loanSvc,
		Payroll:      NewPayrollService(loanSvc),
		Notification: notificationSvc,
		Audit:        auditSvc,
		Email:        emailSvc,
		Export:       NewExportService(loanSvc),
		Report:       NewReportService(loanSvc, repos.Account),
		Reminder:     NewReminderService(repos.Loan, repos.Account, emailSvc),
	}
}
