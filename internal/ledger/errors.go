package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyRefunded     = errors.New("funding already refunded")
	ErrProjectClosed       = errors.New("project is closed to contributions")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrAccountExists       = errors.New("account already exists")
	ErrConflict            = errors.New("concurrent update conflict")
	// ErrIntegrity marks a state that should be impossible, such as a project
	// account unable to cover a refund.
	ErrIntegrity = errors.New("ledger integrity violation")
)

// BalanceError reports a debit larger than the account balance. It matches
// ErrInsufficientBalance, and also ErrIntegrity when raised by a refund.
type BalanceError struct {
	AccountID string
	Balance   decimal.Decimal
	Amount    decimal.Decimal
	Integrity bool
}

func (e *BalanceError) Error() string {
	msg := fmt.Sprintf("insufficient balance in account %s: balance %s, requested %s", e.AccountID, e.Balance, e.Amount)
	if e.Integrity {
		return ErrIntegrity.Error() + ": " + msg
	}
	return msg
}

func (e *BalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance || (e.Integrity && target == ErrIntegrity)
}

// storeErr maps storage sentinels onto ledger error kinds.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// maxAmount is the largest amount or balance the ledger stores: 18 integral
// digits.
var maxAmount = decimal.RequireFromString("999999999999999999")

func validateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	if !amount.IsInteger() {
		return fmt.Errorf("%w: %s has a fractional part", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount, maxAmount)
	}
	return nil
}
