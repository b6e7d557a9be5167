package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// accountSet holds the accounts locked by one unit of work. credit and
// debit are the only balance mutations in the system.
type accountSet struct {
	tx       interfaces.LedgerTx
	accounts map[string]models.Account
	at       time.Time
}

func lockAccounts(ctx context.Context, tx interfaces.LedgerTx, at time.Time, ids ...string) (*accountSet, error) {
	accounts, err := tx.LockAccounts(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return &accountSet{tx: tx, accounts: accounts, at: at}, nil
}

func (s *accountSet) get(id string) models.Account {
	return s.accounts[id]
}

// credit fails with ErrInvalidAmount when the balance would outgrow
// maxAmount.
func (s *accountSet) credit(ctx context.Context, id string, amount decimal.Decimal) error {
	acc := s.accounts[id]
	if acc.Balance.Add(amount).GreaterThan(maxAmount) {
		return fmt.Errorf("%w: balance of account %s would exceed %s", ErrInvalidAmount, id, maxAmount)
	}
	acc.Balance = acc.Balance.Add(amount)
	acc.UpdatedAt = s.at
	if err := s.tx.UpdateBalance(ctx, id, acc.Balance, s.at); err != nil {
		return err
	}
	s.accounts[id] = acc
	return nil
}

// debit fails with a *BalanceError when amount exceeds the balance. A debit
// that should always be covered sets integrity.
func (s *accountSet) debit(ctx context.Context, id string, amount decimal.Decimal, integrity bool) error {
	acc := s.accounts[id]
	if amount.GreaterThan(acc.Balance) {
		return &BalanceError{AccountID: id, Balance: acc.Balance, Amount: amount, Integrity: integrity}
	}
	acc.Balance = acc.Balance.Sub(amount)
	acc.UpdatedAt = s.at
	if err := s.tx.UpdateBalance(ctx, id, acc.Balance, s.at); err != nil {
		return err
	}
	s.accounts[id] = acc
	return nil
}

// authorizeOwner allows the account owner and admins.
func authorizeOwner(actor models.Actor, account models.Account) error {
	if actor.IsZero() {
		return ErrUnauthorized
	}
	if actor.IsAdmin() || actor.ID == account.OwnerID {
		return nil
	}
	return forbidden("actor %s does not own account %s", actor.ID, account.ID)
}

// actorRef is the actor recorded on a ledger entry: only admins are
// attributed.
func actorRef(actor models.Actor) string {
	if actor.IsAdmin() {
		return actor.ID
	}
	return ""
}
