package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

type RefundRequest struct {
	FundingID string
	Actor     models.Actor
}

// Refund reverses the remittance behind a funding record: the project
// account pays the amount back to the sponsor's account, the project's
// current funding drops by the same amount and the record is marked
// reversed. A record is refunded at most once; a second call fails with
// ErrAlreadyRefunded.
func (e *Engine) Refund(ctx context.Context, req RefundRequest) (models.RefundReceipt, error) {
	done := e.track("refund")
	receipt, err := e.refund(ctx, req)
	done(err)
	return receipt, err
}

// RefundByTransaction refunds the funding record behind a REMITTANCE entry.
func (e *Engine) RefundByTransaction(ctx context.Context, entryID string, actor models.Actor) (models.RefundReceipt, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.RefundReceipt{}, storeErr(err)
	}
	if entry.Type != models.EntryRemittance || entry.FundingID == "" {
		return models.RefundReceipt{}, fmt.Errorf("%w: transaction %s is not a payment", ErrNotFound, entryID)
	}
	return e.Refund(ctx, RefundRequest{FundingID: entry.FundingID, Actor: actor})
}

func (e *Engine) refund(ctx context.Context, req RefundRequest) (models.RefundReceipt, error) {
	if req.Actor.IsZero() {
		return models.RefundReceipt{}, ErrUnauthorized
	}

	funding, err := e.store.GetFunding(ctx, req.FundingID)
	if err != nil {
		return models.RefundReceipt{}, storeErr(err)
	}
	if funding.Reversed() {
		return models.RefundReceipt{}, fmt.Errorf("%w: funding %s", ErrAlreadyRefunded, funding.ID)
	}
	remittance, err := e.store.GetRemittanceByFunding(ctx, funding.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.RefundReceipt{}, fmt.Errorf("%w: funding %s has no remittance", ErrIntegrity, funding.ID)
	}
	if err != nil {
		return models.RefundReceipt{}, storeErr(err)
	}
	sponsorAccountID := remittance.SenderAccountID
	projectAccountID := remittance.ReceiverAccountID

	var (
		receipt models.RefundReceipt
		entry   models.LedgerEntry
	)
	err = func() error {
		unlock := e.locks.acquire(
			fundingKey(funding.ID),
			accountKey(sponsorAccountID),
			accountKey(projectAccountID),
			projectKey(funding.ProjectID),
		)
		defer unlock()

		now := e.Now()
		return e.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
			f, err := tx.LockFunding(ctx, funding.ID)
			if err != nil {
				return err
			}
			if f.Reversed() {
				return fmt.Errorf("%w: funding %s", ErrAlreadyRefunded, f.ID)
			}
			if !req.Actor.IsAdmin() && req.Actor.ID != f.SponsorID {
				return forbidden("actor %s is not the sponsor of funding %s", req.Actor.ID, f.ID)
			}

			// project before accounts, the same order as Pay
			p, err := tx.LockProject(ctx, f.ProjectID)
			if err != nil {
				return err
			}
			accounts, err := lockAccounts(ctx, tx, now, sponsorAccountID, projectAccountID)
			if err != nil {
				return err
			}

			sponsorBefore := accounts.get(sponsorAccountID)
			if err := accounts.debit(ctx, projectAccountID, f.Amount, true); err != nil {
				return err
			}
			if err := accounts.credit(ctx, sponsorAccountID, f.Amount); err != nil {
				return err
			}

			total := p.CurrentFunding.Sub(f.Amount)
			if total.Sign() < 0 {
				return fmt.Errorf("%w: project %s funding %s cannot cover refund of %s", ErrIntegrity, p.ID, p.CurrentFunding, f.Amount)
			}
			if err := tx.UpdateCurrentFunding(ctx, p.ID, total, now); err != nil {
				return err
			}
			if err := tx.MarkFundingReversed(ctx, f.ID, now); err != nil {
				return err
			}
			entry, err = appendEntry(ctx, tx, accounts, entrySpec{
				sender:    projectAccountID,
				receiver:  sponsorAccountID,
				amount:    f.Amount,
				entryType: models.EntryRefund,
				fundingID: f.ID,
				actorID:   actorRef(req.Actor),
			}, now)
			if err != nil {
				return err
			}

			receipt = models.RefundReceipt{
				RefundTransactionID:   entry.ID,
				OriginalTransactionID: remittance.ID,
				FundingID:             f.ID,
				AccountID:             sponsorAccountID,
				BeforeMoney:           sponsorBefore.Balance,
				RefundAmount:          f.Amount,
				AfterMoney:            accounts.get(sponsorAccountID).Balance,
				ProjectAccountBalance: accounts.get(projectAccountID).Balance,
				ProjectFunding:        total,
				TransactionDate:       now,
			}
			return nil
		})
	}()
	if err != nil {
		err = storeErr(err)
		fields := []zap.Field{
			zap.String("funding_id", funding.ID),
			zap.String("project_id", funding.ProjectID),
			zap.String("amount", funding.Amount.String()),
			zap.Error(err),
		}
		if errors.Is(err, ErrIntegrity) {
			e.logger.Error("refund failed: ledger integrity violation", fields...)
		} else {
			e.logger.Info("refund rejected", fields...)
		}
		return models.RefundReceipt{}, err
	}

	e.logger.Info("funding refunded",
		zap.String("transaction_id", entry.ID),
		zap.String("funding_id", funding.ID),
		zap.String("project_id", funding.ProjectID),
		zap.String("amount", funding.Amount.String()),
		zap.String("project_funding", receipt.ProjectFunding.String()),
	)
	e.publishEntry(ctx, entry)
	return receipt, nil
}
