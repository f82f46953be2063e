package repository

import (
	"context"

	"github.com/dairylink/dairylink-api/internal/models"
	"gorm.io/gorm"
)

// AccountRepository defines the interface for party/account/wallet data
// access used by borrower resolution and lender account checks.
type AccountRepository interface {
	HasActiveAccess(ctx context.Context, userID, accountID string) (bool, error)
	FindAccountByID(ctx context.Context, id string) (*models.Account, error)
	FindUserByPhone(ctx context.Context, phone string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	CreateAccount(ctx context.Context, account *models.Account) error
	CreateUserAccount(ctx context.Context, link *models.UserAccount) error
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	SetDefaultAccount(ctx context.Context, userID, accountID string) error

	// Transaction runs fn against a repository bound to a single database
	// transaction; any error rolls back every step.
	Transaction(ctx context.Context, fn func(AccountRepository) error) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// HasActiveAccess reports whether the user holds an active membership on the account
func (r *accountRepository) HasActiveAccess(ctx context.Context, userID, accountID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UserAccount{}).
		Where("user_id = ? AND account_id = ? AND status = ?", userID, accountID, models.UserAccountStatusActive).
		Count(&count).Error
	return count > 0, err
}

func (r *accountRepository) FindAccountByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// FindUserByPhone looks up a user by normalized phone with active account
// links preloaded
func (r *accountRepository) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Accounts", "status = ?", models.UserAccountStatusActive).
		Where("phone = ?", phone).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *accountRepository) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *accountRepository) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) CreateUserAccount(ctx context.Context, link *models.UserAccount) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *accountRepository) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *accountRepository) SetDefaultAccount(ctx context.Context, userID, accountID string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("default_account_id", accountID).Error
}

func (r *accountRepository) Transaction(ctx context.Context, fn func(AccountRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&accountRepository{db: tx})
	})
}
