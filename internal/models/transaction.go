package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt describes the effect of a charge or payment on the acting account.
type Receipt struct {
	TransactionID   string          `json:"transaction_id"`
	AccountID       string          `json:"account_id"`
	BeforeMoney     decimal.Decimal `json:"before_money"`
	Amount          decimal.Decimal `json:"amount"`
	AfterMoney      decimal.Decimal `json:"after_money"`
	TransactionDate time.Time       `json:"transaction_date"`
	// Replayed is set when the request repeated an idempotency key and the
	// receipt describes the original movement.
	Replayed bool `json:"replayed,omitempty"`
}

// PaymentReceipt extends Receipt with the state of the funded project.
type PaymentReceipt struct {
	Receipt
	FundingID             string          `json:"funding_id"`
	ProjectID             string          `json:"project_id"`
	ProjectAccountBalance decimal.Decimal `json:"project_account_balance"`
	ProjectFunding        decimal.Decimal `json:"project_current_funding"`
}

// RefundReceipt describes the effect of a refund on the sponsor's account.
type RefundReceipt struct {
	RefundTransactionID   string          `json:"refund_transaction_id"`
	OriginalTransactionID string          `json:"original_transaction_id"`
	FundingID             string          `json:"funding_id"`
	AccountID             string          `json:"account_id"`
	BeforeMoney           decimal.Decimal `json:"before_money"`
	RefundAmount          decimal.Decimal `json:"refund_amount"`
	AfterMoney            decimal.Decimal `json:"after_money"`
	ProjectAccountBalance decimal.Decimal `json:"project_account_balance"`
	ProjectFunding        decimal.Decimal `json:"project_current_funding"`
	TransactionDate       time.Time       `json:"transaction_date"`
}
