package services

import (
	"fmt"

	"github.com/dairylink/dairylink-api/internal/models"
)

// Borrower identifies who a loan is issued to. It behaves like a tagged
// union: supplier and customer borrowers carry an existing account id,
// "other" borrowers carry a display name and a phone used to find or create
// their account. Use the constructors so exactly one shape is populated.
type Borrower struct {
	Type      string
	AccountID string
	Name      string
	Phone     string
}

// SupplierBorrower identifies a borrower by an existing supplier account
func SupplierBorrower(accountID string) Borrower {
	return Borrower{Type: models.BorrowerTypeSupplier, AccountID: accountID}
}

// CustomerBorrower identifies a borrower by an existing customer account
func CustomerBorrower(accountID string) Borrower {
	return Borrower{Type: models.BorrowerTypeCustomer, AccountID: accountID}
}

// OtherBorrower identifies an external party by name and phone
func OtherBorrower(name, phone string) Borrower {
	return Borrower{Type: models.BorrowerTypeOther, Name: name, Phone: phone}
}

// Validate enforces the shape invariant for the borrower type
func (b Borrower) Validate() error {
	switch b.Type {
	case models.BorrowerTypeSupplier, models.BorrowerTypeCustomer:
		if b.AccountID == "" {
			return ErrMissingBorrower
		}
	case models.BorrowerTypeOther:
		if b.Phone == "" {
			return ErrMissingPhone
		}
	default:
		return fmt.Errorf("%w: unknown borrower type %q", ErrInvalidInput, b.Type)
	}
	return nil
}
