package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/dairylink/dairylink-api/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// BorrowerResolver maps a phone number to a stable financial account,
// creating the minimal user/account/wallet shell when none exists.
// Resolution is idempotent at the phone level: calling it twice with the
// same phone returns the same account and creates no duplicates.
type BorrowerResolver struct {
	accounts     repository.AccountRepository
	baseCurrency string
}

// NewBorrowerResolver creates a new borrower resolver
func NewBorrowerResolver(accounts repository.AccountRepository, baseCurrency string) *BorrowerResolver {
	return &BorrowerResolver{accounts: accounts, baseCurrency: baseCurrency}
}

// Resolve returns the borrower account id for the given phone. The creation
// sub-steps run inside one transaction so a partial failure (e.g. wallet
// creation after the account) rolls back and never leaves a party without
// an account.
func (r *BorrowerResolver) Resolve(ctx context.Context, creatorID, phone, name string) (string, error) {
	normalized := normalizePhone(phone)
	if normalized == "" {
		return "", fmt.Errorf("%w: a valid phone number is required to create an account for the borrower", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Other borrower"
	}

	user, err := r.accounts.FindUserByPhone(ctx, normalized)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to look up borrower by phone: %w", err)
	}

	if user != nil {
		if link := user.ActiveAccountLink(); link != nil {
			return link.AccountID, nil
		}
		return r.provisionAccountForUser(ctx, creatorID, user, name)
	}

	return r.provisionNewParty(ctx, creatorID, normalized, name)
}

// provisionAccountForUser creates account + wallet for an existing user that
// has no active financial account yet
func (r *BorrowerResolver) provisionAccountForUser(ctx context.Context, creatorID string, user *models.User, name string) (string, error) {
	if user.Name != "" {
		name = user.Name
	}

	var accountID string
	err := r.accounts.Transaction(ctx, func(repo repository.AccountRepository) error {
		account := &models.Account{
			Code:      entityCode("A"),
			Name:      name,
			Type:      models.AccountTypeTenant,
			Status:    models.AccountStatusActive,
			CreatedBy: creatorID,
		}
		if err := repo.CreateAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to create borrower account: %w", err)
		}

		link := &models.UserAccount{
			UserID:    user.ID,
			AccountID: account.ID,
			Role:      models.UserAccountRoleSupplier,
			Status:    models.UserAccountStatusActive,
			CreatedBy: creatorID,
		}
		if err := repo.CreateUserAccount(ctx, link); err != nil {
			return fmt.Errorf("failed to link borrower account: %w", err)
		}

		if user.DefaultAccountID == nil {
			if err := repo.SetDefaultAccount(ctx, user.ID, account.ID); err != nil {
				return fmt.Errorf("failed to set default account: %w", err)
			}
		}

		if err := repo.CreateWallet(ctx, r.defaultWallet(account.ID, creatorID)); err != nil {
			return fmt.Errorf("failed to create borrower wallet: %w", err)
		}

		accountID = account.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

// provisionNewParty creates user + account + link + wallet as a new unit
func (r *BorrowerResolver) provisionNewParty(ctx context.Context, creatorID, phone, name string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(randomToken(12)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash provisional password: %w", err)
	}

	var accountID string
	err = r.accounts.Transaction(ctx, func(repo repository.AccountRepository) error {
		user := &models.User{
			Code:         entityCode("U"),
			Name:         name,
			Phone:        phone,
			PasswordHash: string(hash),
			Status:       models.UserStatusActive,
			AccountType:  models.UserAccountRoleSupplier,
			CreatedBy:    &creatorID,
		}
		if err := repo.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create borrower user: %w", err)
		}

		account := &models.Account{
			Code:      entityCode("A"),
			Name:      name,
			Type:      models.AccountTypeTenant,
			Status:    models.AccountStatusActive,
			CreatedBy: creatorID,
		}
		if err := repo.CreateAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to create borrower account: %w", err)
		}

		link := &models.UserAccount{
			UserID:    user.ID,
			AccountID: account.ID,
			Role:      models.UserAccountRoleSupplier,
			Status:    models.UserAccountStatusActive,
			CreatedBy: creatorID,
		}
		if err := repo.CreateUserAccount(ctx, link); err != nil {
			return fmt.Errorf("failed to link borrower account: %w", err)
		}

		if err := repo.SetDefaultAccount(ctx, user.ID, account.ID); err != nil {
			return fmt.Errorf("failed to set default account: %w", err)
		}

		if err := repo.CreateWallet(ctx, r.defaultWallet(account.ID, creatorID)); err != nil {
			return fmt.Errorf("failed to create borrower wallet: %w", err)
		}

		accountID = account.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

func (r *BorrowerResolver) defaultWallet(accountID, creatorID string) *models.Wallet {
	return &models.Wallet{
		Code:      entityCode("W"),
		AccountID: accountID,
		Type:      models.WalletTypeRegular,
		IsDefault: true,
		Balance:   decimal.Zero,
		Currency:  r.baseCurrency,
		Status:    models.WalletStatusActive,
		CreatedBy: creatorID,
	}
}

// normalizePhone strips everything but digits
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// entityCode generates a short unique code like A_3F9C2B
func entityCode(prefix string) string {
	return prefix + "_" + strings.ToUpper(randomToken(3))
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
