package api

import "github.com/sheikh-saqib/crowdfunding-ledger/internal/models"

// Amounts travel as strings so no precision is lost on the way in.

type CreateAccountReq struct {
	OwnerID string `json:"owner_id"` // admins may open accounts for others
}

type ChargeReq struct {
	Amount string `json:"amount" binding:"required"`
}

type PaymentReq struct {
	AccountID string `json:"account_id" binding:"required"`
	ProjectID string `json:"project_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

type RefundReq struct {
	FundingID string `json:"funding_id" binding:"required"`
}

type CreateProjectReq struct {
	Title       string `json:"title" binding:"required"`
	FundingGoal string `json:"funding_goal" binding:"required"`
}

type CreateRewardReq struct {
	Threshold   string `json:"threshold" binding:"required"`
	Description string `json:"description"`
}

type UpdateProjectReq struct {
	Approval *models.ApprovalStatus `json:"approval"`
	Status   *models.ProjectStatus  `json:"status"`
}
