package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerGateway is the write-only interface to the double-entry accounting
// subsystem. Each call produces exactly one balanced journal entry or
// changes nothing; the loan code never assumes partial success and never
// reads the ledger back.
type LedgerGateway interface {
	RecordDisbursement(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error
	RecordRepayment(ctx context.Context, actorID, accountID string, amount decimal.Decimal, memo string, date time.Time) error
}

// AuditLogger records audit trail entries
type AuditLogger interface {
	Log(ctx context.Context, userID, action, entity, entityID, details, ip, userAgent string) error
}

// Notifier delivers in-app notifications
type Notifier interface {
	NotifyUser(ctx context.Context, userID, title, message, notificationType string) error
}
