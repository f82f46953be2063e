package statemachine

import (
	"context"
	"fmt"

	"github.com/dairylink/dairylink-api/internal/models"
	"github.com/looplab/fsm"
)

// LoanFSM wraps a loan with its state machine. The lifecycle is one-way:
// active → closed. A loan may only close once fully repaid, and reopening
// is not supported.
type LoanFSM struct {
	loan *models.Loan
	fsm  *fsm.FSM
}

// NewLoanFSM creates a new loan state machine
func NewLoanFSM(loan *models.Loan) *LoanFSM {
	l := &LoanFSM{
		loan: loan,
	}

	l.fsm = fsm.NewFSM(
		loan.Status,
		fsm.Events{
			{Name: "close", Src: []string{models.LoanStatusActive}, Dst: models.LoanStatusClosed},
		},
		fsm.Callbacks{},
	)

	return l
}

// Close transitions the loan to closed state
func (l *LoanFSM) Close(ctx context.Context) error {
	if !l.loan.MayClose() {
		return fmt.Errorf("loan cannot be closed in current state: %s (repaid %s of %s)",
			l.loan.Status, l.loan.AmountRepaid, l.loan.Principal)
	}

	if err := l.fsm.Event(ctx, "close"); err != nil {
		return fmt.Errorf("failed to close loan: %w", err)
	}

	l.loan.Status = l.fsm.Current()
	return nil
}

// Current returns the current state
func (l *LoanFSM) Current() string {
	return l.fsm.Current()
}
