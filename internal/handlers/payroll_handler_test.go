package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/internal/repository"
	"github.com/dairylink/dairylink-api/internal/services"
	"github.com/dairylink/dairylink-api/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Setup("test")
	os.Exit(m.Run())
}

type payrollLoanRepo struct {
	repository.LoanRepository
	mockFindActiveByBorrower func(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error)
	mockFindByID             func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error)
	mockApplyRepaid          func(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error
}

func (m *payrollLoanRepo) FindActiveByBorrower(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
	return m.mockFindActiveByBorrower(ctx, lenderAccountID, borrowerAccountID)
}

func (m *payrollLoanRepo) FindByID(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
	return m.mockFindByID(ctx, id, lenderAccountID)
}

func (m *payrollLoanRepo) FindByIDWithRepayments(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
	return m.mockFindByID(ctx, id, lenderAccountID)
}

func (m *payrollLoanRepo) ApplyRepaid(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
	if m.mockApplyRepaid != nil {
		return m.mockApplyRepaid(ctx, id, expectedRepaid, newRepaid, newStatus)
	}
	return nil
}

type payrollRepaymentRepo struct {
	repository.RepaymentRepository
}

func (m *payrollRepaymentRepo) Create(ctx context.Context, repayment *models.LoanRepayment) error {
	repayment.ID = "rep-1"
	return nil
}

func (m *payrollRepaymentRepo) Delete(ctx context.Context, id string) error { return nil }

type payrollAccountRepo struct {
	repository.AccountRepository
	mockHasActiveAccess func(ctx context.Context, userID, accountID string) (bool, error)
}

func (m *payrollAccountRepo) HasActiveAccess(ctx context.Context, userID, accountID string) (bool, error) {
	return m.mockHasActiveAccess(ctx, userID, accountID)
}

func (m *payrollAccountRepo) FindAccountByID(ctx context.Context, id string) (*models.Account, error) {
	return &models.Account{ID: id, Name: "Lender"}, nil
}

type payrollLedger struct {
	mockRecordRepayment func(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error
}

func (m *payrollLedger) RecordDisbursement(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
	return nil
}

func (m *payrollLedger) RecordRepayment(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
	if m.mockRecordRepayment != nil {
		return m.mockRecordRepayment(ctx, actorID, accountID, amount, memo, date)
	}
	return nil
}

func newPayrollHandler(loans *payrollLoanRepo, accounts *payrollAccountRepo, ledger *payrollLedger) *PayrollHandler {
	resolver := services.NewBorrowerResolver(accounts, "RWF")
	loanSvc := services.NewLoanService(loans, &payrollRepaymentRepo{}, accounts, resolver, ledger, nil, nil, nil, "RWF")
	return NewPayrollHandler(services.NewPayrollService(loanSvc))
}

func postDeduction(h *PayrollHandler, userID, defaultAccountID string, body map[string]interface{}) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/payroll/deductions", func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("defaultAccountID", defaultAccountID)
		h.ApplyDeduction(c)
	})

	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/payroll/deductions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPayrollHandler_RejectsForeignLenderAccount(t *testing.T) {
	accessChecks := 0
	accounts := &payrollAccountRepo{
		mockHasActiveAccess: func(ctx context.Context, userID, accountID string) (bool, error) {
			accessChecks++
			assert.Equal(t, "attacker-user", userID)
			assert.Equal(t, "victim-account", accountID)
			return false, nil
		},
	}
	loans := &payrollLoanRepo{
		mockFindActiveByBorrower: func(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
			t.Fatal("deduction must not reach the loan book for an account the caller has no access to")
			return nil, nil
		},
	}

	h := newPayrollHandler(loans, accounts, &payrollLedger{})
	w := postDeduction(h, "attacker-user", "attacker-account", map[string]interface{}{
		"lender_account_id":   "victim-account",
		"borrower_account_id": "borrower-1",
		"amount":              "30000",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, accessChecks, "the explicit account id must be checked against the caller's memberships")
	assert.Contains(t, w.Body.String(), services.ErrNoAccount.Error())
}

func TestPayrollHandler_AllowsAccessibleExplicitAccount(t *testing.T) {
	accounts := &payrollAccountRepo{
		mockHasActiveAccess: func(ctx context.Context, userID, accountID string) (bool, error) {
			return accountID == "shared-account", nil
		},
	}
	var queriedLender string
	loans := &payrollLoanRepo{
		mockFindActiveByBorrower: func(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
			queriedLender = lenderAccountID
			return nil, nil
		},
	}

	h := newPayrollHandler(loans, accounts, &payrollLedger{})
	w := postDeduction(h, "user-1", "", map[string]interface{}{
		"lender_account_id":   "shared-account",
		"borrower_account_id": "borrower-1",
		"amount":              "30000",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shared-account", queriedLender)
}

func TestPayrollHandler_InvalidAmountMapsToBadRequest(t *testing.T) {
	accounts := &payrollAccountRepo{
		mockHasActiveAccess: func(ctx context.Context, userID, accountID string) (bool, error) {
			return true, nil
		},
	}
	loans := &payrollLoanRepo{
		mockFindActiveByBorrower: func(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
			return nil, nil
		},
	}

	h := newPayrollHandler(loans, accounts, &payrollLedger{})
	w := postDeduction(h, "user-1", "default-account", map[string]interface{}{
		"borrower_account_id": "borrower-1",
		"amount":              "0",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), services.ErrInvalidInput.Error())
}

func TestPayrollHandler_MidRunFailureReturnsPartialResult(t *testing.T) {
	first := models.Loan{
		ID:               "loan-old",
		LenderAccountID:  "default-account",
		BorrowerType:     models.BorrowerTypeSupplier,
		Principal:        decimal.NewFromInt(30000),
		AmountRepaid:     decimal.Zero,
		Currency:         "RWF",
		Status:           models.LoanStatusActive,
		DisbursementDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		CreatedBy:        "user-1",
	}
	second := first
	second.ID = "loan-new"
	second.Principal = decimal.NewFromInt(50000)
	second.DisbursementDate = time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	book := map[string]models.Loan{first.ID: first, second.ID: second}
	loans := &payrollLoanRepo{
		mockFindActiveByBorrower: func(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
			return []models.Loan{first, second}, nil
		},
		mockFindByID: func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
			loan := book[id]
			return &loan, nil
		},
	}
	accounts := &payrollAccountRepo{
		mockHasActiveAccess: func(ctx context.Context, userID, accountID string) (bool, error) {
			return true, nil
		},
	}

	// First slice settles the old loan, the second slice hits a ledger outage
	ledgerCalls := 0
	ledger := &payrollLedger{
		mockRecordRepayment: func(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
			ledgerCalls++
			if ledgerCalls > 1 {
				return errors.New("journal unavailable")
			}
			return nil
		},
	}

	h := newPayrollHandler(loans, accounts, ledger)
	w := postDeduction(h, "user-1", "default-account", map[string]interface{}{
		"borrower_account_id": "borrower-1",
		"amount":              "45000",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Error  string                   `json:"error"`
		Result services.DeductionResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Result.Applied, 1)
	assert.Equal(t, "loan-old", body.Result.Applied[0].LoanID)
	assert.True(t, body.Result.TotalApplied.Equal(decimal.NewFromInt(30000)))
	assert.True(t, body.Result.Unapplied.Equal(decimal.NewFromInt(15000)))
}
