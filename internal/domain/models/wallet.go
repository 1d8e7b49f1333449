package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletDirection is the direction of a wallet transaction
type WalletDirection string

const (
	WalletCredit WalletDirection = "credit"
	WalletDebit  WalletDirection = "debit"
)

// Wallet is a customer's prepaid balance. It is mutated only through the
// wallet repository's credit/debit operations, each of which records a
// WalletTransaction and a matching ledger entry.
type Wallet struct {
	CustomerID string
	BalanceUSD decimal.Decimal
	UpdatedAt  time.Time
}

// WalletTransaction is the audit trail for a single balance change,
// including the balance observed after the change was applied.
type WalletTransaction struct {
	ID           string
	CustomerID   string
	Direction    WalletDirection
	AmountUSD    decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	CreatedAt    time.Time
}
