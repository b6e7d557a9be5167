package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a money movement recorded in the ledger.
type EntryType string

const (
	EntryRemittance EntryType = "REMITTANCE"
	EntryRefund     EntryType = "REFUND"
)

// LedgerEntry is an immutable record of a single money movement between two
// accounts. Entries are only ever appended.
type LedgerEntry struct {
	ID                   string          `json:"id"`
	FundingID            string          `json:"funding_id,omitempty"`      // funding record that caused it, empty for a top-up
	ActorID              string          `json:"actor_id,omitempty"`        // acting admin, empty when user initiated
	IdempotencyKey       string          `json:"idempotency_key,omitempty"` // client supplied, unique across the ledger
	SenderAccountID      string          `json:"sender_account_id"`         // account debited
	ReceiverAccountID    string          `json:"receiver_account_id"`       // account credited
	Amount               decimal.Decimal `json:"amount"`                    // always > 0
	SenderBalanceAfter   decimal.Decimal `json:"sender_balance_after"`
	ReceiverBalanceAfter decimal.Decimal `json:"receiver_balance_after"`
	Type                 EntryType       `json:"type"`
	OccurredAt           time.Time       `json:"occurred_at"`
}

// IsCharge reports whether the entry is an account top-up. Top-ups are
// recorded as a self transfer with no funding record.
func (e LedgerEntry) IsCharge() bool {
	return e.SenderAccountID == e.ReceiverAccountID && e.FundingID == ""
}
