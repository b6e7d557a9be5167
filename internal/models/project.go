package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ApprovalStatus string

const (
	ApprovalAwaiting ApprovalStatus = "AWAITING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

func (a ApprovalStatus) Valid() bool {
	switch a {
	case ApprovalAwaiting, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

type ProjectStatus string

const (
	StatusOngoing ProjectStatus = "ONGOING"
	StatusSuccess ProjectStatus = "SUCCESS"
	StatusFailed  ProjectStatus = "FAILED"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusOngoing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Project is a crowdfunding campaign. CurrentFunding is the running sum of
// the project's active funding records.
type Project struct {
	ID             string          `json:"id"`
	CreatorID      string          `json:"creator_id"`
	AccountID      string          `json:"account_id"` // beneficiary account receiving contributions
	Title          string          `json:"title"`
	FundingGoal    decimal.Decimal `json:"funding_goal"`
	CurrentFunding decimal.Decimal `json:"current_funding"`
	Status         ProjectStatus   `json:"status"`
	Approval       ApprovalStatus  `json:"approval"`
	Blocked        bool            `json:"blocked"` // no further contributions accepted
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AcceptsFunding reports whether new contributions may be made.
func (p Project) AcceptsFunding() bool {
	return !p.Blocked && p.Status == StatusOngoing && p.Approval != ApprovalRejected
}

// Reward is a tier offered to sponsors pledging at least Threshold.
type Reward struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Threshold   decimal.Decimal `json:"threshold"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
