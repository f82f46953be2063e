package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a platform member. Borrower resolution may provision a shell user
// (phone-identified) with a generated code and provisional password.
type User struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	Code             string    `gorm:"size:20;uniqueIndex;not null" json:"code"`
	Name             string    `gorm:"size:255;not null" json:"name"`
	Phone            string    `gorm:"size:20;uniqueIndex;not null" json:"phone"`
	Email            *string   `gorm:"size:255" json:"email"`
	PasswordHash     string    `gorm:"size:255;not null" json:"-"`
	Status           string    `gorm:"size:20;not null;index" json:"status"`
	AccountType      string    `gorm:"size:20;not null" json:"account_type"`
	DefaultAccountID *string   `gorm:"type:uuid" json:"default_account_id"`
	CreatedBy        *string   `gorm:"type:uuid" json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	// Associations
	Accounts []UserAccount `gorm:"foreignKey:UserID" json:"accounts,omitempty"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// User status constants
const (
	UserStatusActive = "active"
)

// BeforeCreate assigns a UUID primary key
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// ActiveAccountLink returns the first active account membership, if any
func (u *User) ActiveAccountLink() *UserAccount {
	for i := range u.Accounts {
		if u.Accounts[i].Status == UserAccountStatusActive {
			return &u.Accounts[i]
		}
	}
	return nil
}
