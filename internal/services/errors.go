package services

import "errors"

// Typed business errors surfaced to callers. None of these are retried by
// the system; the caller must correct the request. ErrLedgerFailure is the
// one exception with application-level recovery: the orchestrator compensates
// (deletes/reverts the just-written aggregate state) before returning it.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoAccount       = errors.New("no valid default account found")
	ErrMissingBorrower = errors.New("borrower_account_id is required when borrower type is supplier or customer")
	ErrMissingPhone    = errors.New("borrower phone is required when borrower type is other")
	ErrNotFound        = errors.New("loan not found")
	ErrOverRepayment   = errors.New("repayment amount exceeds outstanding balance")
	ErrLedgerFailure   = errors.New("failed to record in accounting ledger")
)
