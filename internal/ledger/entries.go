package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

type entrySpec struct {
	sender         string
	receiver       string
	amount         decimal.Decimal
	entryType      models.EntryType
	fundingID      string
	actorID        string
	idempotencyKey string
}

// appendEntry writes one immutable ledger row carrying the balances of both
// accounts after the movement. There is no update or delete counterpart.
func appendEntry(ctx context.Context, tx interfaces.LedgerTx, accounts *accountSet, es entrySpec, at time.Time) (models.LedgerEntry, error) {
	if err := validateAmount(es.amount); err != nil {
		return models.LedgerEntry{}, err
	}
	if es.sender == "" || es.receiver == "" {
		return models.LedgerEntry{}, fmt.Errorf("%w: ledger entry needs both sender and receiver", ErrIntegrity)
	}

	entry := models.LedgerEntry{
		ID:                   uuid.New().String(),
		FundingID:            es.fundingID,
		ActorID:              es.actorID,
		IdempotencyKey:       es.idempotencyKey,
		SenderAccountID:      es.sender,
		ReceiverAccountID:    es.receiver,
		Amount:               es.amount,
		SenderBalanceAfter:   accounts.get(es.sender).Balance,
		ReceiverBalanceAfter: accounts.get(es.receiver).Balance,
		Type:                 es.entryType,
		OccurredAt:           at,
	}
	if err := tx.SaveEntry(ctx, entry); err != nil {
		return models.LedgerEntry{}, err
	}
	return entry, nil
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
