package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CurrencyUSD = "USD"
	CurrencyXLM = "XLM"
)

// Supported currencies in the order they are reported to clients
var Currencies = []string{CurrencyUSD, CurrencyXLM}

func IsSupportedCurrency(currency string) bool {
	for _, c := range Currencies {
		if c == currency {
			return true
		}
	}
	return false
}

const (
	TransactionTypeCredit    = "credit"
	TransactionTypeDebit     = "debit"
	TransactionTypeHold      = "hold"
	TransactionTypeRelease   = "release"
	TransactionTypeSettleIn  = "settle_in"
	TransactionTypeSettleOut = "settle_out"
)

var TransactionTypes = []string{
	TransactionTypeCredit,
	TransactionTypeDebit,
	TransactionTypeHold,
	TransactionTypeRelease,
	TransactionTypeSettleIn,
	TransactionTypeSettleOut,
}

func IsSupportedTransactionType(txType string) bool {
	for _, t := range TransactionTypes {
		if t == txType {
			return true
		}
	}
	return false
}

// Reference identifies the domain event that caused a ledger transaction
// (a withdrawal, a top up, an escrow settlement). Together with the
// transaction type it forms the idempotency key of a mutation.
type Reference struct {
	ID   uuid.UUID
	Type string
}

const (
	ReferenceTypeWithdrawal = "withdrawal"
	ReferenceTypeTopUp      = "top_up"
	ReferenceTypeEscrow     = "escrow"
)

// Balance is the per user per currency ledger row.
// Available and Held are never negative; only the balance service mutates them.
type Balance struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Currency  string
	Available decimal.Decimal
	Held      decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total is the sum of spendable and earmarked funds
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Held)
}

// Transaction is an append only ledger entry. Never updated or deleted.
// BalanceAfter snapshots Available right after the entry was committed, so the
// log can be replayed to audit the balance at any point in time.
type Transaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Currency     string
	Type         string
	Amount       decimal.Decimal
	Reference    Reference
	Description  string
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}
