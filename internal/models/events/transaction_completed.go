package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const TopicTransactionCompleted = "ledger.transaction_completed"

type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	FundingID     string          `json:"funding_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
