package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

type ChargeRequest struct {
	AccountID string
	Amount    decimal.Decimal
	Actor     models.Actor
	// IdempotencyKey is optional. A repeated key returns the receipt of the
	// first charge instead of charging again.
	IdempotencyKey string
}

// Charge tops up an account. It is recorded as a REMITTANCE from the account
// to itself.
func (e *Engine) Charge(ctx context.Context, req ChargeRequest) (models.Receipt, error) {
	done := e.track("charge")
	receipt, err := e.charge(ctx, req)
	done(err)
	return receipt, err
}

func (e *Engine) charge(ctx context.Context, req ChargeRequest) (models.Receipt, error) {
	if err := validateAmount(req.Amount); err != nil {
		return models.Receipt{}, err
	}
	if req.Actor.IsZero() {
		return models.Receipt{}, ErrUnauthorized
	}

	var (
		receipt  models.Receipt
		entry    models.LedgerEntry
		replayed bool
	)
	err := func() error {
		keys := []string{accountKey(req.AccountID)}
		if req.IdempotencyKey != "" {
			keys = append(keys, requestKey(req.IdempotencyKey))
		}
		unlock := e.locks.acquire(keys...)
		defer unlock()

		var err error
		if receipt, replayed, err = e.replayCharge(ctx, req); err != nil || replayed {
			return err
		}

		now := e.Now()
		return e.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
			accounts, err := lockAccounts(ctx, tx, now, req.AccountID)
			if err != nil {
				return err
			}
			before := accounts.get(req.AccountID)
			if err := authorizeOwner(req.Actor, before); err != nil {
				return err
			}
			if err := accounts.credit(ctx, req.AccountID, req.Amount); err != nil {
				return err
			}
			entry, err = appendEntry(ctx, tx, accounts, entrySpec{
				sender:         req.AccountID,
				receiver:       req.AccountID,
				amount:         req.Amount,
				entryType:      models.EntryRemittance,
				actorID:        actorRef(req.Actor),
				idempotencyKey: req.IdempotencyKey,
			}, now)
			if err != nil {
				return err
			}
			receipt = models.Receipt{
				TransactionID:   entry.ID,
				AccountID:       req.AccountID,
				BeforeMoney:     before.Balance,
				Amount:          req.Amount,
				AfterMoney:      accounts.get(req.AccountID).Balance,
				TransactionDate: now,
			}
			return nil
		})
	}()
	if duplicateKey(err, req.IdempotencyKey) {
		// another instance committed the same key first
		receipt, replayed, err = e.replayCharge(ctx, req)
		if err == nil && !replayed {
			err = fmt.Errorf("%w: idempotency key %q", ErrConflict, req.IdempotencyKey)
		}
	}
	if err != nil {
		err = storeErr(err)
		e.logger.Info("charge rejected",
			zap.String("account_id", req.AccountID),
			zap.String("amount", req.Amount.String()),
			zap.Error(err),
		)
		return models.Receipt{}, err
	}
	if replayed {
		e.logger.Info("charge replayed",
			zap.String("account_id", req.AccountID),
			zap.String("transaction_id", receipt.TransactionID),
			zap.String("idempotency_key", req.IdempotencyKey),
		)
		return receipt, nil
	}

	e.logger.Info("account charged",
		zap.String("account_id", req.AccountID),
		zap.String("transaction_id", entry.ID),
		zap.String("amount", req.Amount.String()),
		zap.String("balance", receipt.AfterMoney.String()),
	)
	e.publishEntry(ctx, entry)
	return receipt, nil
}

// replayCharge returns the receipt of an earlier charge made with the same
// idempotency key.
func (e *Engine) replayCharge(ctx context.Context, req ChargeRequest) (models.Receipt, bool, error) {
	prior, found, err := e.priorEntry(ctx, req.IdempotencyKey)
	if err != nil || !found {
		return models.Receipt{}, false, err
	}
	if err := e.replayable(ctx, prior, req.IdempotencyKey, req.Actor, req.AccountID, req.AccountID, req.Amount); err != nil {
		return models.Receipt{}, false, err
	}
	return models.Receipt{
		TransactionID:   prior.ID,
		AccountID:       req.AccountID,
		BeforeMoney:     prior.ReceiverBalanceAfter.Sub(prior.Amount),
		Amount:          prior.Amount,
		AfterMoney:      prior.ReceiverBalanceAfter,
		TransactionDate: prior.OccurredAt,
		Replayed:        true,
	}, true, nil
}
