package handlers

import (
	"github.com/dairylink/dairylink-api/internal/jobs"
	"github.com/dairylink/dairylink-api/internal/services"
)

// Handlers holds all handler instances
type Handlers struct {
	Health       *HealthHandler
	Loan         *LoanHandler
	Payroll      *PayrollHandler
	Notification *NotificationHandler
	Audit        *AuditHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services, worker *jobs.Worker) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(worker),
		Loan:         NewLoanHandler(svcs.Loan, svcs.Export, svcs.Report),
		Payroll:      NewPayrollHandler(svcs.Payroll),
		Notification: NewNotificationHandler(svcs.Notification),
		Audit:        NewAuditHandler(svcs.Audit),
	}
}
