package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's virtual account. Balance is never negative and is only
// changed by the ledger engine.
type Account struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Balance      decimal.Decimal `json:"balance"`
	FundingBlock bool            `json:"funding_block"` // reserved: block outgoing funding transfers
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
