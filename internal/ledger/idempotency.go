package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

// priorEntry looks up the entry written by an earlier request carrying the
// same idempotency key.
func (e *Engine) priorEntry(ctx context.Context, key string) (models.LedgerEntry, bool, error) {
	if key == "" {
		return models.LedgerEntry{}, false, nil
	}
	entry, err := e.store.GetEntryByIdempotencyKey(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return models.LedgerEntry{}, false, nil
	}
	if err != nil {
		return models.LedgerEntry{}, false, storeErr(err)
	}
	return entry, true, nil
}

// replayable checks that a repeated request asks for the movement its key
// was first used for and that the actor may see it.
func (e *Engine) replayable(ctx context.Context, prior models.LedgerEntry, key string, actor models.Actor, sender, receiver string, amount decimal.Decimal) error {
	if prior.Type != models.EntryRemittance ||
		prior.SenderAccountID != sender ||
		prior.ReceiverAccountID != receiver ||
		!prior.Amount.Equal(amount) {
		return fmt.Errorf("%w: idempotency key %q was used for a different request", ErrConflict, key)
	}
	account, err := e.store.GetAccount(ctx, sender)
	if err != nil {
		return storeErr(err)
	}
	return authorizeOwner(actor, account)
}

// duplicateKey reports whether err is the store rejecting a second entry
// with the same idempotency key.
func duplicateKey(err error, key string) bool {
	return key != "" && errors.Is(err, storage.ErrDuplicate)
}
