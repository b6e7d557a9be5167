package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

type PayRequest struct {
	PayerAccountID string
	ProjectID      string
	Amount         decimal.Decimal
	Actor          models.Actor
	// IdempotencyKey is optional. A repeated key returns the receipt of the
	// first payment instead of paying again.
	IdempotencyKey string
}

// Pay moves amount from the payer's account to the project's beneficiary
// account, records a funding record for the payer's owner and raises the
// project's current funding by the same amount.
func (e *Engine) Pay(ctx context.Context, req PayRequest) (models.PaymentReceipt, error) {
	done := e.track("pay")
	receipt, err := e.pay(ctx, req)
	done(err)
	return receipt, err
}

func (e *Engine) pay(ctx context.Context, req PayRequest) (models.PaymentReceipt, error) {
	if err := validateAmount(req.Amount); err != nil {
		return models.PaymentReceipt{}, err
	}
	if req.Actor.IsZero() {
		return models.PaymentReceipt{}, ErrUnauthorized
	}

	project, err := e.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return models.PaymentReceipt{}, storeErr(err)
	}
	if project.AccountID == req.PayerAccountID {
		return models.PaymentReceipt{}, forbidden("account %s is the beneficiary of project %s", req.PayerAccountID, project.ID)
	}
	rewardID, err := e.resolveReward(ctx, project.ID, req.Amount)
	if err != nil {
		return models.PaymentReceipt{}, err
	}

	var (
		receipt  models.PaymentReceipt
		entry    models.LedgerEntry
		replayed bool
	)
	err = func() error {
		keys := []string{
			accountKey(req.PayerAccountID),
			accountKey(project.AccountID),
			projectKey(project.ID),
		}
		if req.IdempotencyKey != "" {
			keys = append(keys, requestKey(req.IdempotencyKey))
		}
		unlock := e.locks.acquire(keys...)
		defer unlock()

		var err error
		if receipt, replayed, err = e.replayPay(ctx, req, project); err != nil || replayed {
			return err
		}

		now := e.Now()
		return e.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
			p, err := tx.LockProject(ctx, project.ID)
			if err != nil {
				return err
			}
			if !p.AcceptsFunding() {
				return fmt.Errorf("%w: project %s (status %s, approval %s)", ErrProjectClosed, p.ID, p.Status, p.Approval)
			}
			if p.AccountID != project.AccountID {
				return fmt.Errorf("%w: beneficiary account of project %s changed", ErrConflict, p.ID)
			}

			accounts, err := lockAccounts(ctx, tx, now, req.PayerAccountID, p.AccountID)
			if err != nil {
				return err
			}
			payer := accounts.get(req.PayerAccountID)
			if err := authorizeOwner(req.Actor, payer); err != nil {
				return err
			}
			if err := accounts.debit(ctx, req.PayerAccountID, req.Amount, false); err != nil {
				return err
			}
			if err := accounts.credit(ctx, p.AccountID, req.Amount); err != nil {
				return err
			}

			funding := models.FundingRecord{
				ID:        uuid.New().String(),
				SponsorID: payer.OwnerID,
				ProjectID: p.ID,
				RewardID:  rewardID,
				Amount:    req.Amount,
				PledgedAt: now,
				State:     models.FundingActive,
			}
			if err := tx.SaveFunding(ctx, funding); err != nil {
				return err
			}
			entry, err = appendEntry(ctx, tx, accounts, entrySpec{
				sender:         req.PayerAccountID,
				receiver:       p.AccountID,
				amount:         req.Amount,
				entryType:      models.EntryRemittance,
				fundingID:      funding.ID,
				actorID:        actorRef(req.Actor),
				idempotencyKey: req.IdempotencyKey,
			}, now)
			if err != nil {
				return err
			}

			total := p.CurrentFunding.Add(req.Amount)
			if err := tx.UpdateCurrentFunding(ctx, p.ID, total, now); err != nil {
				return err
			}

			receipt = models.PaymentReceipt{
				Receipt: models.Receipt{
					TransactionID:   entry.ID,
					AccountID:       req.PayerAccountID,
					BeforeMoney:     payer.Balance,
					Amount:          req.Amount,
					AfterMoney:      accounts.get(req.PayerAccountID).Balance,
					TransactionDate: now,
				},
				FundingID:             funding.ID,
				ProjectID:             p.ID,
				ProjectAccountBalance: accounts.get(p.AccountID).Balance,
				ProjectFunding:        total,
			}
			return nil
		})
	}()
	if duplicateKey(err, req.IdempotencyKey) {
		// another instance committed the same key first
		receipt, replayed, err = e.replayPay(ctx, req, project)
		if err == nil && !replayed {
			err = fmt.Errorf("%w: idempotency key %q", ErrConflict, req.IdempotencyKey)
		}
	}
	if err != nil {
		err = storeErr(err)
		e.logger.Info("payment rejected",
			zap.String("payer_account_id", req.PayerAccountID),
			zap.String("project_id", req.ProjectID),
			zap.String("amount", req.Amount.String()),
			zap.Error(err),
		)
		return models.PaymentReceipt{}, err
	}
	if replayed {
		e.logger.Info("payment replayed",
			zap.String("transaction_id", receipt.TransactionID),
			zap.String("funding_id", receipt.FundingID),
			zap.String("idempotency_key", req.IdempotencyKey),
		)
		return receipt, nil
	}

	e.logger.Info("payment completed",
		zap.String("transaction_id", entry.ID),
		zap.String("funding_id", receipt.FundingID),
		zap.String("project_id", receipt.ProjectID),
		zap.String("amount", req.Amount.String()),
		zap.String("project_funding", receipt.ProjectFunding.String()),
	)
	e.publishEntry(ctx, entry)
	return receipt, nil
}

// replayPay returns the receipt of an earlier payment made with the same
// idempotency key. Balances come from the original entry; the project's
// current funding is read now.
func (e *Engine) replayPay(ctx context.Context, req PayRequest, project models.Project) (models.PaymentReceipt, bool, error) {
	prior, found, err := e.priorEntry(ctx, req.IdempotencyKey)
	if err != nil || !found {
		return models.PaymentReceipt{}, false, err
	}
	if err := e.replayable(ctx, prior, req.IdempotencyKey, req.Actor, req.PayerAccountID, project.AccountID, req.Amount); err != nil {
		return models.PaymentReceipt{}, false, err
	}
	funding, err := e.store.GetFunding(ctx, prior.FundingID)
	if err != nil {
		return models.PaymentReceipt{}, false, storeErr(err)
	}
	if funding.ProjectID != req.ProjectID {
		return models.PaymentReceipt{}, false, fmt.Errorf("%w: idempotency key %q was used for a different request", ErrConflict, req.IdempotencyKey)
	}
	current, err := e.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return models.PaymentReceipt{}, false, storeErr(err)
	}
	return models.PaymentReceipt{
		Receipt: models.Receipt{
			TransactionID:   prior.ID,
			AccountID:       req.PayerAccountID,
			BeforeMoney:     prior.SenderBalanceAfter.Add(prior.Amount),
			Amount:          prior.Amount,
			AfterMoney:      prior.SenderBalanceAfter,
			TransactionDate: prior.OccurredAt,
			Replayed:        true,
		},
		FundingID:             funding.ID,
		ProjectID:             funding.ProjectID,
		ProjectAccountBalance: prior.ReceiverBalanceAfter,
		ProjectFunding:        current.CurrentFunding,
	}, true, nil
}

func (e *Engine) resolveReward(ctx context.Context, projectID string, amount decimal.Decimal) (string, error) {
	reward, err := e.store.ResolveReward(ctx, projectID, amount)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return reward.ID, nil
}
