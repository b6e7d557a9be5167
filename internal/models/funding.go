package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingState is the lifecycle of a FundingRecord. A record moves from
// Active to Reversed exactly once.
type FundingState string

const (
	FundingActive   FundingState = "ACTIVE"
	FundingReversed FundingState = "REVERSED"
)

// FundingRecord is one sponsor's pledge to one project. Records are never
// deleted; a refund reverses them.
type FundingRecord struct {
	ID         string          `json:"id"`
	SponsorID  string          `json:"sponsor_id"`
	ProjectID  string          `json:"project_id"`
	RewardID   string          `json:"reward_id,omitempty"` // empty when no reward tier matched
	Amount     decimal.Decimal `json:"amount"`
	PledgedAt  time.Time       `json:"pledged_at"`
	State      FundingState    `json:"state"`
	ReversedAt *time.Time      `json:"reversed_at,omitempty"`
}

func (f FundingRecord) Reversed() bool {
	return f.State == FundingReversed
}
