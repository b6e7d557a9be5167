package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models/events"
)

// publishEntry announces a committed entry. The ledger row is the source of
// truth, so a failed publish is logged and dropped.
func (e *Engine) publishEntry(ctx context.Context, entry models.LedgerEntry) {
	event := events.TransactionCompleted{
		TransactionID: entry.ID,
		Type:          string(entry.Type),
		FundingID:     entry.FundingID,
		ActorID:       entry.ActorID,
		FromAccount:   entry.SenderAccountID,
		ToAccount:     entry.ReceiverAccountID,
		Amount:        entry.Amount,
		OccurredAt:    entry.OccurredAt,
	}
	if err := e.publisher.Publish(ctx, events.TopicTransactionCompleted, entry.ID, event); err != nil {
		e.logger.Warn("failed to publish transaction event",
			zap.String("transaction_id", entry.ID),
			zap.Error(err),
		)
	}
}
