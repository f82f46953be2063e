package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/internal/repository"
	"github.com/dairylink/dairylink-api/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Setup("test")
	os.Exit(m.Run())
}

type mockLoanRepo struct {
	repository.LoanRepository
	mockCreate                 func(ctx context.Context, loan *models.Loan) error
	mockDelete                 func(ctx context.Context, id string) error
	mockFindByID               func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error)
	mockFindByIDWithRepayments func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error)
	mockApplyRepaid            func(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error
	mockUpdateEditable         func(ctx context.Context, loan *models.Loan) error
	mockFindActiveByBorrower   func(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error)
	mockFindOverdue            func(ctx context.Context, asOf time.Time) ([]models.Loan, error)
}

func (m *mockLoanRepo) Create(ctx context.Context, loan *models.Loan) error {
	return m.mockCreate(ctx, loan)
}

func (m *mockLoanRepo) Delete(ctx context.Context, id string) error {
	if m.mockDelete != nil {
		return m.mockDelete(ctx, id)
	}
	return nil
}

func (m *mockLoanRepo) FindByID(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
	return m.mockFindByID(ctx, id, lenderAccountID)
}

func (m *mockLoanRepo) FindByIDWithRepayments(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
	if m.mockFindByIDWithRepayments != nil {
		return m.mockFindByIDWithRepayments(ctx, id, lenderAccountID)
	}
	return m.mockFindByID(ctx, id, lenderAccountID)
}

func (m *mockLoanRepo) ApplyRepaid(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
	return m.mockApplyRepaid(ctx, id, expectedRepaid, newRepaid, newStatus)
}

func (m *mockLoanRepo) UpdateEditable(ctx context.Context, loan *models.Loan) error {
	if m.mockUpdateEditable != nil {
		return m.mockUpdateEditable(ctx, loan)
	}
	return nil
}

func (m *mockLoanRepo) FindActiveByBorrower(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
	return m.mockFindActiveByBorrower(ctx, lenderAccountID, borrowerAccountID)
}

func (m *mockLoanRepo) FindOverdue(ctx context.Context, asOf time.Time) ([]models.Loan, error) {
	return m.mockFindOverdue(ctx, asOf)
}

type mockRepaymentRepo struct {
	repository.RepaymentRepository
	mockCreate func(ctx context.Context, repayment *models.LoanRepayment) error
	mockDelete func(ctx context.Context, id string) error
}

func (m *mockRepaymentRepo) Create(ctx context.Context, repayment *models.LoanRepayment) error {
	return m.mockCreate(ctx, repayment)
}

func (m *mockRepaymentRepo) Delete(ctx context.Context, id string) error {
	if m.mockDelete != nil {
		return m.mockDelete(ctx, id)
	}
	return nil
}

type mockAccountRepo struct {
	repository.AccountRepository
	mockHasActiveAccess   func(ctx context.Context, userID, accountID string) (bool, error)
	mockFindAccountByID   func(ctx context.Context, id string) (*models.Account, error)
	mockFindUserByPhone   func(ctx context.Context, phone string) (*models.User, error)
	mockFindUserByID      func(ctx context.Context, id string) (*models.User, error)
	mockCreateUser        func(ctx context.Context, user *models.User) error
	mockCreateAccount     func(ctx context.Context, account *models.Account) error
	mockCreateUserAccount func(ctx context.Context, link *models.UserAccount) error
	mockCreateWallet      func(ctx context.Context, wallet *models.Wallet) error
	mockSetDefaultAccount func(ctx context.Context, userID, accountID string) error
}

func (m *mockAccountRepo) HasActiveAccess(ctx context.Context, userID, accountID string) (bool, error) {
	return m.mockHasActiveAccess(ctx, userID, accountID)
}

func (m *mockAccountRepo) FindAccountByID(ctx context.Context, id string) (*models.Account, error) {
	if m.mockFindAccountByID != nil {
		return m.mockFindAccountByID(ctx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockAccountRepo) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return m.mockFindUserByPhone(ctx, phone)
}

func (m *mockAccountRepo) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	return m.mockFindUserByID(ctx, id)
}

func (m *mockAccountRepo) CreateUser(ctx context.Context, user *models.User) error {
	return m.mockCreateUser(ctx, user)
}

func (m *mockAccountRepo) CreateAccount(ctx context.Context, account *models.Account) error {
	return m.mockCreateAccount(ctx, account)
}

func (m *mockAccountRepo) CreateUserAccount(ctx context.Context, link *models.UserAccount) error {
	return m.mockCreateUserAccount(ctx, link)
}

func (m *mockAccountRepo) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	return m.mockCreateWallet(ctx, wallet)
}

func (m *mockAccountRepo) SetDefaultAccount(ctx context.Context, userID, accountID string) error {
	if m.mockSetDefaultAccount != nil {
		return m.mockSetDefaultAccount(ctx, userID, accountID)
	}
	return nil
}

func (m *mockAccountRepo) Transaction(ctx context.Context, fn func(repository.AccountRepository) error) error {
	return fn(m)
}

type mockLedger struct {
	mockRecordDisbursement func(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error
	mockRecordRepayment    func(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error
}

func (m *mockLedger) RecordDisbursement(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
	if m.mockRecordDisbursement != nil {
		return m.mockRecordDisbursement(ctx, actorID, accountID, amount, memo, date)
	}
	return nil
}

func (m *mockLedger) RecordRepayment(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
	if m.mockRecordRepayment != nil {
		return m.mockRecordRepayment(ctx, actorID, accountID, amount, memo, date)
	}
	return nil
}

const (
	testLenderID   = "f0000000-0000-0000-0000-00000000000a"
	testBorrowerID = "f0000000-0000-0000-0000-00000000000b"
	testLoanID     = "ab12cd34-0000-0000-0000-000000000001"
	testUserID     = "f0000000-0000-0000-0000-00000000000c"
)

func testActor() Actor {
	return Actor{UserID: testUserID, IP: "127.0.0.1", UserAgent: "test"}
}

func newTestLoanService(loans *mockLoanRepo, repayments *mockRepaymentRepo, accounts *mockAccountRepo, ledger *mockLedger) *LoanService {
	if accounts == nil {
		accounts = &mockAccountRepo{}
	}
	resolver := NewBorrowerResolver(accounts, "RWF")
	return NewLoanService(loans, repayments, accounts, resolver, ledger, nil, nil, nil, "RWF")
}

func activeLoan(principal, repaid string) *models.Loan {
	return &models.Loan{
		ID:                testLoanID,
		LenderAccountID:   testLenderID,
		BorrowerType:      models.BorrowerTypeSupplier,
		BorrowerAccountID: strptr(testBorrowerID),
		Principal:         dec(principal),
		AmountRepaid:      dec(repaid),
		Currency:          "RWF",
		Status:            models.LoanStatusActive,
		DisbursementDate:  time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		CreatedBy:         testUserID,
	}
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func strptr(s string) *string { return &s }

func TestLoanService_Create_Supplier(t *testing.T) {
	loans := &mockLoanRepo{}
	ledger := &mockLedger{}
	accounts := &mockAccountRepo{
		mockFindAccountByID: func(ctx context.Context, id string) (*models.Account, error) {
			return &models.Account{ID: id, Name: "Green Valley Dairy", Code: "A_1A2B3C"}, nil
		},
	}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, accounts, ledger)

	var created *models.Loan
	loans.mockCreate = func(ctx context.Context, loan *models.Loan) error {
		loan.ID = testLoanID
		created = loan
		return nil
	}
	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return created, nil
	}

	var memo string
	ledger.mockRecordDisbursement = func(ctx context.Context, actorID, accountID string, amount decimal.Decimal, m string, date time.Time) error {
		memo = m
		assert.Equal(t, testLenderID, accountID)
		assert.True(t, amount.Equal(dec("50000")))
		return nil
	}

	loan, err := service.Create(context.Background(), testActor(), CreateLoanRequest{
		LenderAccountID:  testLenderID,
		Borrower:         SupplierBorrower(testBorrowerID),
		Principal:        dec("50000"),
		DisbursementDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.Equal(t, "RWF", loan.Currency)
	assert.True(t, loan.AmountRepaid.IsZero())
	assert.Equal(t, "Loan to Green Valley Dairy (ab12cd34)", memo)
}

func TestLoanService_Create_InvalidPrincipal(t *testing.T) {
	service := newTestLoanService(&mockLoanRepo{}, &mockRepaymentRepo{}, nil, &mockLedger{})

	_, err := service.Create(context.Background(), testActor(), CreateLoanRequest{
		LenderAccountID:  testLenderID,
		Borrower:         SupplierBorrower(testBorrowerID),
		Principal:        dec("0"),
		DisbursementDate: time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = service.Create(context.Background(), testActor(), CreateLoanRequest{
		LenderAccountID:  testLenderID,
		Borrower:         SupplierBorrower(testBorrowerID),
		Principal:        dec("-5"),
		DisbursementDate: time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoanService_Create_BorrowerValidation(t *testing.T) {
	service := newTestLoanService(&mockLoanRepo{}, &mockRepaymentRepo{}, nil, &mockLedger{})

	_, err := service.Create(context.Background(), testActor(), CreateLoanRequest{
		LenderAccountID:  testLenderID,
		Borrower:         SupplierBorrower(""),
		Principal:        dec("1000"),
		DisbursementDate: time.Now(),
	})
	assert.ErrorIs(t, err, ErrMissingBorrower)

	_, err = service.Create(context.Background(), testActor(), CreateLoanRequest{
		LenderAccountID:  testLenderID,
		Borrower:         OtherBorrower("Jean", ""),
		Principal:        dec("1000"),
		DisbursementDate: time.Now(),
	})
	assert.ErrorIs(t, err, ErrMissingPhone)
}

func TestLoanService_Create_LedgerFailureRollsBack(t *testing.T) {
	loans := &mockLoanRepo{}
	ledger := &mockLedger{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, ledger)

	loans.mockCreate = func(ctx context.Context, loan *models.Loan) error {
		loan.ID = testLoanID
		return nil
	}

	deleted := ""
	loans.mockDelete = func(ctx context.Context, id string) error {
		deleted = id
		return nil
	}

	ledger.mockRecordDisbursement = func(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
		return errors.New("journal write timed out")
	}

	_, err := service.Create(context.Background(), testActor(), CreateLoanRequest{
		LenderAccountID:  testLenderID,
		Borrower:         SupplierBorrower(testBorrowerID),
		Principal:        dec("50000"),
		DisbursementDate: time.Now(),
	})

	assert.ErrorIs(t, err, ErrLedgerFailure)
	assert.Equal(t, testLoanID, deleted, "loan row must be deleted when the ledger write fails")
}

func TestLoanService_RecordRepayment_Partial(t *testing.T) {
	loans := &mockLoanRepo{}
	repayments := &mockRepaymentRepo{}
	ledger := &mockLedger{}
	service := newTestLoanService(loans, repayments, nil, ledger)

	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "0"), nil
	}

	var appliedStatus string
	loans.mockApplyRepaid = func(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
		assert.True(t, expectedRepaid.IsZero())
		assert.True(t, newRepaid.Equal(dec("30000")))
		appliedStatus = newStatus
		return nil
	}

	repayments.mockCreate = func(ctx context.Context, r *models.LoanRepayment) error {
		r.ID = "rep-1"
		assert.Equal(t, models.RepaymentSourceDirect, r.Source)
		return nil
	}

	loans.mockFindByIDWithRepayments = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "30000"), nil
	}

	loan, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("30000"),
		RepaymentDate:   time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, appliedStatus)
	assert.True(t, loan.Outstanding().Equal(dec("70000")))
}

func TestLoanService_RecordRepayment_ClosesWhenFullyRepaid(t *testing.T) {
	loans := &mockLoanRepo{}
	repayments := &mockRepaymentRepo{}
	service := newTestLoanService(loans, repayments, nil, &mockLedger{})

	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "30000"), nil
	}

	var appliedStatus string
	loans.mockApplyRepaid = func(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
		assert.True(t, expectedRepaid.Equal(dec("30000")))
		assert.True(t, newRepaid.Equal(dec("100000")))
		appliedStatus = newStatus
		return nil
	}

	repayments.mockCreate = func(ctx context.Context, r *models.LoanRepayment) error { return nil }

	closed := activeLoan("100000", "100000")
	closed.Status = models.LoanStatusClosed
	loans.mockFindByIDWithRepayments = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return closed, nil
	}

	loan, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("70000"),
		RepaymentDate:   time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusClosed, appliedStatus)
	assert.True(t, loan.Outstanding().IsZero())
}

func TestLoanService_RecordRepayment_OverRepaymentRejected(t *testing.T) {
	loans := &mockLoanRepo{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, &mockLedger{})

	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "100000"), nil
	}

	_, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("1"),
		RepaymentDate:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrOverRepayment)

	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "30000"), nil
	}

	_, err = service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("70000.01"),
		RepaymentDate:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrOverRepayment)
}

func TestLoanService_RecordRepayment_InvalidAmount(t *testing.T) {
	service := newTestLoanService(&mockLoanRepo{}, &mockRepaymentRepo{}, nil, &mockLedger{})

	_, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("0"),
		RepaymentDate:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoanService_RecordRepayment_NotFound(t *testing.T) {
	loans := &mockLoanRepo{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, &mockLedger{})

	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return nil, gorm.ErrRecordNotFound
	}

	_, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          "missing",
		LenderAccountID: testLenderID,
		Amount:          dec("100"),
		RepaymentDate:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoanService_RecordRepayment_LedgerFailureCompensates(t *testing.T) {
	loans := &mockLoanRepo{}
	repayments := &mockRepaymentRepo{}
	ledger := &mockLedger{}
	service := newTestLoanService(loans, repayments, nil, ledger)

	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "0"), nil
	}

	var applies []string
	loans.mockApplyRepaid = func(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
		applies = append(applies, fmt.Sprintf("%s->%s %s", expectedRepaid, newRepaid, newStatus))
		return nil
	}

	repayments.mockCreate = func(ctx context.Context, r *models.LoanRepayment) error {
		r.ID = "rep-1"
		return nil
	}

	deletedRepayment := ""
	repayments.mockDelete = func(ctx context.Context, id string) error {
		deletedRepayment = id
		return nil
	}

	ledger.mockRecordRepayment = func(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error {
		return errors.New("journal unavailable")
	}

	_, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("30000"),
		RepaymentDate:   time.Now(),
	})

	assert.ErrorIs(t, err, ErrLedgerFailure)
	assert.Equal(t, "rep-1", deletedRepayment, "repayment row must be deleted when the ledger write fails")
	require.Len(t, applies, 2)
	assert.Equal(t, "0->30000 active", applies[0])
	assert.Equal(t, "30000->0 active", applies[1], "loan total must be reverted to the pre-repayment value")
}

func TestLoanService_RecordRepayment_RetriesOnConcurrentUpdate(t *testing.T) {
	loans := &mockLoanRepo{}
	repayments := &mockRepaymentRepo{}
	service := newTestLoanService(loans, repayments, nil, &mockLedger{})

	// First read sees 0 repaid, but a concurrent repayment of 80000 lands
	// before the swap. The retry reloads and only 20000 headroom remains.
	reads := 0
	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		reads++
		if reads == 1 {
			return activeLoan("100000", "0"), nil
		}
		return activeLoan("100000", "80000"), nil
	}

	attempts := 0
	loans.mockApplyRepaid = func(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
		attempts++
		if attempts == 1 {
			return repository.ErrStaleLoan
		}
		assert.True(t, expectedRepaid.Equal(dec("80000")))
		assert.True(t, newRepaid.Equal(dec("100000")))
		return nil
	}

	repayments.mockCreate = func(ctx context.Context, r *models.LoanRepayment) error { return nil }
	loans.mockFindByIDWithRepayments = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "100000"), nil
	}

	_, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("20000"),
		RepaymentDate:   time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestLoanService_RecordRepayment_ConcurrentOverRepaymentRejected(t *testing.T) {
	loans := &mockLoanRepo{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, &mockLedger{})

	// Concurrent writer already consumed the full principal by the time the
	// retry reloads.
	reads := 0
	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		reads++
		if reads == 1 {
			return activeLoan("100000", "30000"), nil
		}
		return activeLoan("100000", "100000"), nil
	}

	loans.mockApplyRepaid = func(ctx context.Context, id string, expectedRepaid, newRepaid decimal.Decimal, newStatus string) error {
		return repository.ErrStaleLoan
	}

	_, err := service.RecordRepayment(context.Background(), testActor(), RecordRepaymentRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Amount:          dec("50000"),
		RepaymentDate:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrOverRepayment)
}

func TestLoanService_Update_RejectsReopen(t *testing.T) {
	loans := &mockLoanRepo{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, &mockLedger{})

	closed := activeLoan("100000", "100000")
	closed.Status = models.LoanStatusClosed
	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return closed, nil
	}

	status := models.LoanStatusActive
	_, err := service.Update(context.Background(), testActor(), UpdateLoanRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Status:          &status,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoanService_Update_RejectsCloseWithOutstandingBalance(t *testing.T) {
	loans := &mockLoanRepo{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, &mockLedger{})

	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("100000", "30000"), nil
	}

	status := models.LoanStatusClosed
	_, err := service.Update(context.Background(), testActor(), UpdateLoanRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		Status:          &status,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoanService_Update_ClearsDueDate(t *testing.T) {
	loans := &mockLoanRepo{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, &mockLedger{})

	dueDate := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	loan := activeLoan("100000", "0")
	loan.DueDate = &dueDate
	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return loan, nil
	}

	var saved *models.Loan
	loans.mockUpdateEditable = func(ctx context.Context, l *models.Loan) error {
		saved = l
		return nil
	}

	_, err := service.Update(context.Background(), testActor(), UpdateLoanRequest{
		LoanID:          testLoanID,
		LenderAccountID: testLenderID,
		DueDateSet:      true,
		DueDate:         nil,
	})
	require.NoError(t, err)
	assert.Nil(t, saved.DueDate)
}

func TestLoanService_ResolveLenderAccount(t *testing.T) {
	accounts := &mockAccountRepo{}
	service := newTestLoanService(&mockLoanRepo{}, &mockRepaymentRepo{}, accounts, &mockLedger{})

	accounts.mockHasActiveAccess = func(ctx context.Context, userID, accountID string) (bool, error) {
		return accountID == testLenderID, nil
	}

	id, err := service.ResolveLenderAccount(context.Background(), testUserID, testLenderID, "")
	require.NoError(t, err)
	assert.Equal(t, testLenderID, id)

	_, err = service.ResolveLenderAccount(context.Background(), testUserID, "someone-elses-account", "")
	assert.ErrorIs(t, err, ErrNoAccount)

	id, err = service.ResolveLenderAccount(context.Background(), testUserID, "", "default-account")
	require.NoError(t, err)
	assert.Equal(t, "default-account", id)

	_, err = service.ResolveLenderAccount(context.Background(), testUserID, "", "")
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestLoanService_ActiveLoansForBorrower_FiltersSettled(t *testing.T) {
	loans := &mockLoanRepo{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, &mockLedger{})

	older := *activeLoan("50000", "50000")
	newer := *activeLoan("80000", "20000")
	newer.ID = "ab12cd34-0000-0000-0000-000000000002"
	loans.mockFindActiveByBorrower = func(ctx context.Context, lenderAccountID, borrowerAccountID string) ([]models.Loan, error) {
		return []models.Loan{older, newer}, nil
	}

	summaries, err := service.ActiveLoansForBorrower(context.Background(), testLenderID, testBorrowerID)
	require.NoError(t, err)
	require.Len(t, summaries, 1, "fully settled loans must be excluded")
	assert.Equal(t, newer.ID, summaries[0].LoanID)
	assert.True(t, summaries[0].Outstanding.Equal(dec("60000")))

	total, err := service.OutstandingBalanceForBorrower(context.Background(), testLenderID, testBorrowerID)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("60000")))
}

func TestLoanService_BulkCreateCSV(t *testing.T) {
	loans := &mockLoanRepo{}
	ledger := &mockLedger{}
	service := newTestLoanService(loans, &mockRepaymentRepo{}, nil, ledger)

	created := 0
	loans.mockCreate = func(ctx context.Context, loan *models.Loan) error {
		loan.ID = fmt.Sprintf("bulk-loan-%d", created)
		created++
		return nil
	}
	loans.mockFindByID = func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
		return activeLoan("50000", "0"), nil
	}

	csvData := strings.Join([]string{
		"borrower_type,borrower_account_id,borrower_name,borrower_phone,principal,currency,disbursement_date,due_date,notes",
		testBorrowerID + ",,,", // malformed on purpose: type column holds a uuid
		"supplier," + testBorrowerID + ",,,50000,RWF,2025-01-15,2025-03-15,Feed advance",
		"supplier," + testBorrowerID + ",,,abc,RWF,2025-01-15,,",
		"customer," + testBorrowerID + ",,,25000,,2025-01-20,,",
	}, "\n")

	result, err := service.BulkCreateCSV(context.Background(), testActor(), testLenderID, strings.NewReader(csvData))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 1, result.Errors[0].Row)
	assert.Equal(t, 3, result.Errors[1].Row)
}

func TestLoanService_TemplateCSV(t *testing.T) {
	service := newTestLoanService(&mockLoanRepo{}, &mockRepaymentRepo{}, nil, &mockLedger{})

	template := service.TemplateCSV()
	assert.True(t, strings.HasPrefix(template, "borrower_type,borrower_account_id,borrower_name,borrower_phone,principal,currency,disbursement_date,due_date,notes\n"))

	// The template must round-trip through the bulk importer's parser
	loans := &mockLoanRepo{
		mockCreate: func(ctx context.Context, loan *models.Loan) error {
			loan.ID = testLoanID
			return nil
		},
		mockFindByID: func(ctx context.Context, id, lenderAccountID string) (*models.Loan, error) {
			return activeLoan("50000", "0"), nil
		},
	}
	accounts := &mockAccountRepo{
		mockFindUserByPhone: func(ctx context.Context, phone string) (*models.User, error) {
			return nil, gorm.ErrRecordNotFound
		},
		mockCreateUser:        func(ctx context.Context, user *models.User) error { return nil },
		mockCreateAccount:     func(ctx context.Context, account *models.Account) error { account.ID = testBorrowerID; return nil },
		mockCreateUserAccount: func(ctx context.Context, link *models.UserAccount) error { return nil },
		mockCreateWallet:      func(ctx context.Context, wallet *models.Wallet) error { return nil },
	}
	roundTrip := newTestLoanService(loans, &mockRepaymentRepo{}, accounts, &mockLedger{})

	result, err := roundTrip.BulkCreateCSV(context.Background(), testActor(), testLenderID, strings.NewReader(template))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 0, result.Failed)
}
