package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account is a financial account inside a tenant. Suppliers, customers and
// phone-provisioned "other" parties all transact through an account.
type Account struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Code      string    `gorm:"size:20;uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Type      string    `gorm:"size:20;not null" json:"type"`
	Status    string    `gorm:"size:20;not null;index" json:"status"`
	CreatedBy string    `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "accounts"
}

// Account constants
const (
	AccountTypeTenant   = "tenant"
	AccountStatusActive = "active"
)

// BeforeCreate assigns a UUID primary key
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// AccountRef is the minimal account shape embedded in other responses
type AccountRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// ToRef converts Account to AccountRef
func (a *Account) ToRef() AccountRef {
	return AccountRef{ID: a.ID, Code: a.Code, Name: a.Name}
}

// UserAccount links a user to an account with a role. A user may hold
// several account memberships; only active links grant access.
type UserAccount struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index:idx_user_accounts_user_account" json:"user_id"`
	AccountID string    `gorm:"type:uuid;not null;index:idx_user_accounts_user_account" json:"account_id"`
	Role      string    `gorm:"size:20;not null" json:"role"`
	Status    string    `gorm:"size:20;not null;index" json:"status"`
	CreatedBy string    `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Account *Account `gorm:"foreignKey:AccountID" json:"account,omitempty"`
}

// TableName specifies the table name for GORM
func (UserAccount) TableName() string {
	return "user_accounts"
}

// UserAccount constants
const (
	UserAccountStatusActive = "active"
	UserAccountRoleSupplier = "supplier"
)

// BeforeCreate assigns a UUID primary key
func (ua *UserAccount) BeforeCreate(tx *gorm.DB) error {
	if ua.ID == "" {
		ua.ID = uuid.NewString()
	}
	return nil
}

// Wallet holds an account's balance in one currency. Every account gets a
// default regular wallet at creation.
type Wallet struct {
	ID        string          `gorm:"type:uuid;primaryKey" json:"id"`
	Code      string          `gorm:"size:20;uniqueIndex;not null" json:"code"`
	AccountID string          `gorm:"type:uuid;not null;index" json:"account_id"`
	Type      string          `gorm:"size:20;not null" json:"type"`
	IsDefault bool            `gorm:"not null;default:false" json:"is_default"`
	Balance   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"balance"`
	Currency  string          `gorm:"size:3;not null" json:"currency"`
	Status    string          `gorm:"size:20;not null" json:"status"`
	CreatedBy string          `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Wallet) TableName() string {
	return "wallets"
}

// Wallet constants
const (
	WalletTypeRegular  = "regular"
	WalletStatusActive = "active"
)

// BeforeCreate assigns a UUID primary key
func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}
