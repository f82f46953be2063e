package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dairylink/dairylink-api/internal/jobs"
	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/internal/repository"
	"github.com/dairylink/dairylink-api/internal/statemachine"
	"github.com/dairylink/dairylink-api/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// repaymentRetries bounds the optimistic-concurrency retry loop when two
// repayments race on the same loan.
const repaymentRetries = 3

// Actor identifies the authenticated user performing an operation, with the
// request metadata the audit trail wants.
type Actor struct {
	UserID    string
	IP        string
	UserAgent string
}

// CreateLoanRequest carries everything needed to disburse a loan
type CreateLoanRequest struct {
	LenderAccountID  string
	Borrower         Borrower
	Principal        decimal.Decimal
	Currency         string
	DisbursementDate time.Time
	DueDate          *time.Time
	Notes            *string
}

// RecordRepaymentRequest carries a single repayment against a loan
type RecordRepaymentRequest struct {
	LoanID          string
	LenderAccountID string
	Amount          decimal.Decimal
	RepaymentDate   time.Time
	Notes           *string
	Source          string
}

// UpdateLoanRequest carries the administratively editable loan fields.
// DueDateSet distinguishes "clear the due date" from "leave it alone".
type UpdateLoanRequest struct {
	LoanID          string
	LenderAccountID string
	Status          *string
	DueDate         *time.Time
	DueDateSet      bool
	Notes           *string
}

// LoanSummary is the slim projection used by payroll and balance lookups
type LoanSummary struct {
	LoanID       string          `json:"loan_id"`
	Principal    decimal.Decimal `json:"principal"`
	AmountRepaid decimal.Decimal `json:"amount_repaid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

// RowError reports a failed row in a bulk upload. Row is 1-based and counts
// data rows, not the header.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// BulkResult summarizes a bulk loan upload
type BulkResult struct {
	Success int        `json:"success"`
	Failed  int        `json:"failed"`
	Errors  []RowError `json:"errors"`
}

// LoanService orchestrates the loan lifecycle: disbursement, repayment,
// administrative edits and queries. Writes that span the loan tables and the
// accounting journal are not transactional across the boundary; instead the
// loan-side write is compensated (deleted or reverted) when the journal write
// fails, so the two systems converge on the same totals.
type LoanService struct {
	loans        repository.LoanRepository
	repayments   repository.RepaymentRepository
	accounts     repository.AccountRepository
	resolver     *BorrowerResolver
	ledger       LedgerGateway
	audit        AuditLogger
	notifier     Notifier
	worker       *jobs.Worker
	baseCurrency string
}

// NewLoanService creates a new loan service
func NewLoanService(
	loans repository.LoanRepository,
	repayments repository.RepaymentRepository,
	accounts repository.AccountRepository,
	resolver *BorrowerResolver,
	ledger LedgerGateway,
	audit AuditLogger,
	notifier Notifier,
	worker *jobs.Worker,
	baseCurrency string,
) *LoanService {
	return &LoanService{
		loans:        loans,
		repayments:   repayments,
		accounts:     accounts,
		resolver:     resolver,
		ledger:       ledger,
		audit:        audit,
		notifier:     notifier,
		worker:       worker,
		baseCurrency: baseCurrency,
	}
}

// ResolveLenderAccount picks the lender account for an operation: the
// explicitly requested account (verified against the user's active
// memberships) or the user's default account.
func (s *LoanService) ResolveLenderAccount(ctx context.Context, userID, explicitID, defaultID string) (string, error) {
	if explicitID != "" {
		ok, err := s.accounts.HasActiveAccess(ctx, userID, explicitID)
		if err != nil {
			return "", fmt.Errorf("failed to verify account access: %w", err)
		}
		if !ok {
			return "", ErrNoAccount
		}
		return explicitID, nil
	}
	if defaultID == "" {
		return "", ErrNoAccount
	}
	return defaultID, nil
}

// Create disburses a new loan. The loan row is written first, then the
// disbursement is booked in the accounting journal; if the journal write
// fails the loan row is deleted and ErrLedgerFailure returned, so a loan
// never exists without its journal entry.
func (s *LoanService) Create(ctx context.Context, actor Actor, req CreateLoanRequest) (*models.Loan, error) {
	if err := req.Borrower.Validate(); err != nil {
		return nil, err
	}
	if req.Principal.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: principal must be greater than zero", ErrInvalidInput)
	}
	if req.DisbursementDate.IsZero() {
		return nil, fmt.Errorf("%w: disbursement date is required", ErrInvalidInput)
	}
	if req.LenderAccountID == "" {
		return nil, ErrNoAccount
	}

	currency := req.Currency
	if currency == "" {
		currency = s.baseCurrency
	}

	loan := &models.Loan{
		LenderAccountID:  req.LenderAccountID,
		BorrowerType:     req.Borrower.Type,
		Principal:        req.Principal,
		AmountRepaid:     decimal.Zero,
		Currency:         currency,
		Status:           models.LoanStatusActive,
		DisbursementDate: req.DisbursementDate,
		DueDate:          req.DueDate,
		Notes:            req.Notes,
		CreatedBy:        actor.UserID,
	}

	switch req.Borrower.Type {
	case models.BorrowerTypeSupplier, models.BorrowerTypeCustomer:
		accountID := req.Borrower.AccountID
		loan.BorrowerAccountID = &accountID
	case models.BorrowerTypeOther:
		accountID, err := s.resolver.Resolve(ctx, actor.UserID, req.Borrower.Phone, req.Borrower.Name)
		if err != nil {
			return nil, err
		}
		loan.BorrowerAccountID = &accountID
		name := strings.TrimSpace(req.Borrower.Name)
		if name == "" {
			name = "Other borrower"
		}
		loan.BorrowerName = &name
	}

	if err := s.loans.Create(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}

	memo := fmt.Sprintf("Loan to %s (%s)", s.borrowerLabel(ctx, loan), loan.ShortRef())
	if err := s.ledger.RecordDisbursement(ctx, actor.UserID, loan.LenderAccountID, loan.Principal, memo, loan.DisbursementDate); err != nil {
		if delErr := s.loans.Delete(ctx, loan.ID); delErr != nil {
			logger.Error(fmt.Sprintf("[LoanService] Failed to roll back loan %s after ledger error: %v", loan.ID, delErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerFailure, err)
	}

	s.auditAsync(actor, "create", "loan", loan.ID,
		fmt.Sprintf("Disbursed %s %s to %s", loan.Principal, loan.Currency, s.borrowerLabel(ctx, loan)))
	s.notifyAsync(actor.UserID, "Loan created",
		fmt.Sprintf("Loan of %s %s disbursed", loan.Principal, loan.Currency), models.NotificationTypeLoanCreated)

	created, err := s.loans.FindByID(ctx, loan.ID, loan.LenderAccountID)
	if err != nil {
		// The loan exists; return what we have rather than failing the call
		return loan, nil
	}
	return created, nil
}

// RecordRepayment applies a repayment to a loan. The loan's running total is
// advanced with an optimistic compare-and-swap so concurrent repayments can
// never push amount_repaid past the principal; a stale swap reloads and
// retries. After the loan and repayment rows land, the repayment is booked in
// the accounting journal; a journal failure deletes the repayment row and
// reverts the loan total with the same compare-and-swap.
func (s *LoanService) RecordRepayment(ctx context.Context, actor Actor, req RecordRepaymentRequest) (*models.Loan, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: repayment amount must be greater than zero", ErrInvalidInput)
	}
	if req.RepaymentDate.IsZero() {
		return nil, fmt.Errorf("%w: repayment date is required", ErrInvalidInput)
	}
	source := req.Source
	if source == "" {
		source = models.RepaymentSourceDirect
	}

	var lastErr error
	for attempt := 0; attempt < repaymentRetries; attempt++ {
		loan, err := s.loans.FindByID(ctx, req.LoanID, req.LenderAccountID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to load loan: %w", err)
		}

		if req.Amount.GreaterThan(loan.Outstanding()) {
			return nil, fmt.Errorf("%w: outstanding balance is %s", ErrOverRepayment, loan.Outstanding())
		}

		newRepaid := loan.AmountRepaid.Add(req.Amount)
		newStatus := loan.Status
		if newRepaid.GreaterThanOrEqual(loan.Principal) {
			machine := statemachine.NewLoanFSM(&models.Loan{
				Status:       loan.Status,
				Principal:    loan.Principal,
				AmountRepaid: newRepaid,
			})
			if err := machine.Close(ctx); err != nil {
				return nil, err
			}
			newStatus = machine.Current()
		}

		if err := s.loans.ApplyRepaid(ctx, loan.ID, loan.AmountRepaid, newRepaid, newStatus); err != nil {
			if errors.Is(err, repository.ErrStaleLoan) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to apply repayment: %w", err)
		}

		repayment := &models.LoanRepayment{
			LoanID:        loan.ID,
			Amount:        req.Amount,
			RepaymentDate: req.RepaymentDate,
			Notes:         req.Notes,
			Source:        source,
		}
		if err := s.repayments.Create(ctx, repayment); err != nil {
			s.revertRepaid(ctx, loan.ID, newRepaid, loan.AmountRepaid, loan.Status)
			return nil, fmt.Errorf("failed to record repayment: %w", err)
		}

		memo := fmt.Sprintf("Loan repayment from %s (%s)", s.borrowerLabel(ctx, loan), loan.ShortRef())
		if req.Notes != nil && *req.Notes != "" {
			memo = fmt.Sprintf("%s - %s", memo, *req.Notes)
		}
		if err := s.ledger.RecordRepayment(ctx, actor.UserID, loan.LenderAccountID, req.Amount, memo, req.RepaymentDate); err != nil {
			if delErr := s.repayments.Delete(ctx, repayment.ID); delErr != nil {
				logger.Error(fmt.Sprintf("[LoanService] Failed to roll back repayment %s after ledger error: %v", repayment.ID, delErr))
			}
			s.revertRepaid(ctx, loan.ID, newRepaid, loan.AmountRepaid, loan.Status)
			return nil, fmt.Errorf("%w: %v", ErrLedgerFailure, err)
		}

		s.auditAsync(actor, "repayment", "loan", loan.ID,
			fmt.Sprintf("Repayment of %s %s recorded", req.Amount, loan.Currency))
		s.notifyAsync(loan.CreatedBy, "Repayment recorded",
			fmt.Sprintf("Repayment of %s %s received", req.Amount, loan.Currency), models.NotificationTypeRepaymentRecorded)
		if newStatus == models.LoanStatusClosed {
			s.notifyAsync(loan.CreatedBy, "Loan closed",
				fmt.Sprintf("Loan %s is fully repaid", loan.ShortRef()), models.NotificationTypeLoanClosed)
		}

		updated, err := s.loans.FindByIDWithRepayments(ctx, loan.ID, loan.LenderAccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload loan: %w", err)
		}
		return updated, nil
	}

	return nil, fmt.Errorf("repayment conflicted with concurrent updates, please retry: %w", lastErr)
}

// revertRepaid undoes a just-applied repayment total. It uses the same
// compare-and-swap as the forward path; if another writer has already moved
// the row the revert is logged rather than forced, to avoid clobbering their
// update.
func (s *LoanService) revertRepaid(ctx context.Context, loanID string, fromRepaid, toRepaid decimal.Decimal, toStatus string) {
	if err := s.loans.ApplyRepaid(ctx, loanID, fromRepaid, toRepaid, toStatus); err != nil {
		logger.Error(fmt.Sprintf("[LoanService] Failed to revert loan %s to amount_repaid=%s: %v", loanID, toRepaid, err))
	}
}

// Update edits a loan's status, due date and notes. Status changes go
// through the state machine, which rejects closing a loan that is not fully
// repaid; reopening a closed loan is not supported.
func (s *LoanService) Update(ctx context.Context, actor Actor, req UpdateLoanRequest) (*models.Loan, error) {
	loan, err := s.loans.FindByID(ctx, req.LoanID, req.LenderAccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}

	if req.Status != nil && *req.Status != loan.Status {
		switch *req.Status {
		case models.LoanStatusClosed:
			machine := statemachine.NewLoanFSM(loan)
			if err := machine.Close(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
		case models.LoanStatusActive:
			return nil, fmt.Errorf("%w: a closed loan cannot be reopened", ErrInvalidInput)
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *req.Status)
		}
	}

	if req.DueDateSet {
		loan.DueDate = req.DueDate
	}
	if req.Notes != nil {
		loan.Notes = req.Notes
	}

	if err := s.loans.UpdateEditable(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	s.auditAsync(actor, "update", "loan", loan.ID, "Loan details updated")

	return s.loans.FindByID(ctx, loan.ID, loan.LenderAccountID)
}

// GetByID returns a loan with its repayment history, scoped to the lender
// account.
func (s *LoanService) GetByID(ctx context.Context, loanID, lenderAccountID string) (*models.Loan, error) {
	loan, err := s.loans.FindByIDWithRepayments(ctx, loanID, lenderAccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}
	return loan, nil
}

// List returns a page of the lender account's loans
func (s *LoanService) List(ctx context.Context, query *repository.LoanQuery) ([]models.Loan, int64, error) {
	return s.loans.List(ctx, query)
}

// ActiveLoansForBorrower returns the borrower's active loans that still have
// an outstanding balance, oldest disbursement first.
func (s *LoanService) ActiveLoansForBorrower(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]LoanSummary, error) {
	loans, err := s.loans.FindActiveByBorrower(ctx, lenderAccountID, borrowerAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active loans: %w", err)
	}

	summaries := make([]LoanSummary, 0, len(loans))
	for i := range loans {
		if loans[i].Outstanding().LessThanOrEqual(decimal.Zero) {
			continue
		}
		summaries = append(summaries, LoanSummary{
			LoanID:       loans[i].ID,
			Principal:    loans[i].Principal,
			AmountRepaid: loans[i].AmountRepaid,
			Outstanding:  loans[i].Outstanding(),
		})
	}
	return summaries, nil
}

// OutstandingBalanceForBorrower sums the outstanding balances of a
// borrower's active loans.
func (s *LoanService) OutstandingBalanceForBorrower(ctx context.Context, lenderAccountID, borrowerAccountID string) (decimal.Decimal, error) {
	summaries, err := s.ActiveLoansForBorrower(ctx, lenderAccountID, borrowerAccountID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, s := range summaries {
		total = total.Add(s.Outstanding)
	}
	return total, nil
}

// BulkCreate disburses a batch of loans, one row at a time. Rows are
// independent: a failed row is reported with its 1-based position and does
// not stop the rest of the batch.
func (s *LoanService) BulkCreate(ctx context.Context, actor Actor, reqs []CreateLoanRequest) BulkResult {
	result := BulkResult{Errors: []RowError{}}
	for i, req := range reqs {
		if _, err := s.Create(ctx, actor, req); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{Row: i + 1, Message: err.Error()})
			continue
		}
		result.Success++
	}
	return result
}

// BulkCreateCSV parses an uploaded CSV (matching TemplateCSV's layout) and
// disburses one loan per data row. Parse failures and disbursement failures
// are reported the same way, keyed by the row's position.
func (s *LoanService) BulkCreateCSV(ctx context.Context, actor Actor, lenderAccountID string, r io.Reader) (BulkResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return BulkResult{}, fmt.Errorf("%w: file is empty or not valid CSV", ErrInvalidInput)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	if _, ok := col["borrower_type"]; !ok {
		return BulkResult{}, fmt.Errorf("%w: missing borrower_type column", ErrInvalidInput)
	}

	result := BulkResult{Errors: []RowError{}}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{Row: row, Message: err.Error()})
			continue
		}

		req, err := parseLoanRow(col, record, lenderAccountID)
		if err == nil {
			_, err = s.Create(ctx, actor, req)
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{Row: row, Message: err.Error()})
			continue
		}
		result.Success++
	}
	return result, nil
}

// parseLoanRow maps one CSV record onto a create request
func parseLoanRow(col map[string]int, record []string, lenderAccountID string) (CreateLoanRequest, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var borrower Borrower
	switch strings.ToLower(field("borrower_type")) {
	case models.BorrowerTypeSupplier:
		borrower = SupplierBorrower(field("borrower_account_id"))
	case models.BorrowerTypeCustomer:
		borrower = CustomerBorrower(field("borrower_account_id"))
	case models.BorrowerTypeOther:
		borrower = OtherBorrower(field("borrower_name"), field("borrower_phone"))
	default:
		return CreateLoanRequest{}, fmt.Errorf("%w: unknown borrower type %q", ErrInvalidInput, field("borrower_type"))
	}

	principal, err := decimal.NewFromString(field("principal"))
	if err != nil {
		return CreateLoanRequest{}, fmt.Errorf("%w: invalid principal %q", ErrInvalidInput, field("principal"))
	}

	disbursementDate, err := time.Parse("2006-01-02", field("disbursement_date"))
	if err != nil {
		return CreateLoanRequest{}, fmt.Errorf("%w: invalid disbursement_date %q", ErrInvalidInput, field("disbursement_date"))
	}

	req := CreateLoanRequest{
		LenderAccountID:  lenderAccountID,
		Borrower:         borrower,
		Principal:        principal,
		Currency:         field("currency"),
		DisbursementDate: disbursementDate,
	}

	if raw := field("due_date"); raw != "" {
		dueDate, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return CreateLoanRequest{}, fmt.Errorf("%w: invalid due_date %q", ErrInvalidInput, raw)
		}
		req.DueDate = &dueDate
	}
	if notes := field("notes"); notes != "" {
		req.Notes = &notes
	}

	return req, nil
}

// TemplateCSV returns the bulk upload template
func (s *LoanService) TemplateCSV() string {
	return "borrower_type,borrower_account_id,borrower_name,borrower_phone,principal,currency,disbursement_date,due_date,notes\n" +
		"supplier,ACCOUNT_UUID,,,50000,RWF,2025-01-15,2025-03-15,Feed advance\n" +
		"other,,Jean Mukiza,0788123456,25000,RWF,2025-01-20,,Cash loan\n"
}

// CheckOverdueLoans notifies loan creators about active loans past their due
// date. Wired as a recurring background job.
func (s *LoanService) CheckOverdueLoans(ctx context.Context) error {
	loans, err := s.loans.FindOverdue(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to find overdue loans: %w", err)
	}

	for i := range loans {
		loan := &loans[i]
		message := fmt.Sprintf("Loan %s to %s is overdue: %s %s outstanding (due %s)",
			loan.ShortRef(), loan.BorrowerLabel(), loan.Outstanding(), loan.Currency,
			loan.DueDate.Format("2006-01-02"))
		if err := s.notifier.NotifyUser(ctx, loan.CreatedBy, "Loan overdue", message, models.NotificationTypeLoanOverdue); err != nil {
			logger.Error(fmt.Sprintf("[LoanService] Failed to notify overdue loan %s: %v", loan.ID, err))
		}
	}

	if len(loans) > 0 {
		logger.Info(fmt.Sprintf("[LoanService] Flagged %d overdue loans", len(loans)))
	}
	return nil
}

// borrowerLabel resolves a display name for ledger memos. Best effort: a
// lookup failure falls back to whatever the loan row carries.
func (s *LoanService) borrowerLabel(ctx context.Context, loan *models.Loan) string {
	if loan.BorrowerAccount == nil && loan.BorrowerAccountID != nil {
		if account, err := s.accounts.FindAccountByID(ctx, *loan.BorrowerAccountID); err == nil {
			loan.BorrowerAccount = account
		}
	}
	return loan.BorrowerLabel()
}

func (s *LoanService) auditAsync(actor Actor, action, entity, entityID, details string) {
	if s.audit == nil || s.worker == nil {
		return
	}
	s.worker.EnqueueAsync(func(ctx context.Context) error {
		return s.audit.Log(ctx, actor.UserID, action, entity, entityID, details, actor.IP, actor.UserAgent)
	})
}

func (s *LoanService) notifyAsync(userID, title, message, notificationType string) {
	if s.notifier == nil || s.worker == nil {
		return
	}
	s.worker.EnqueueAsync(func(ctx context.Context) error {
		return s.notifier.NotifyUser(ctx, userID, title, message, notificationType)
	})
}
