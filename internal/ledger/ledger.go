// Package ledger moves money between virtual accounts. Every charge,
// payment and refund is one atomic unit of work that updates balances,
// appends to the ledger, and keeps funding records and project totals in
// step.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/clock"
	eventbus "github.com/sheikh-saqib/crowdfunding-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/logger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/metrics"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

// Engine is the only writer of account balances, ledger entries, funding
// records and project funding totals.
type Engine struct {
	Clock clock.Clock

	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	locks     *keyLocks
}

// NewEngine wires the engine to its store. publisher, log and m may be nil.
func NewEngine(store interfaces.LedgerStore, publisher interfaces.EventPublisher, log *zap.Logger, m *metrics.Metrics) *Engine {
	if publisher == nil {
		publisher = eventbus.Nop{}
	}
	return &Engine{
		Clock:     clock.RealClock{},
		store:     store,
		publisher: publisher,
		logger:    logger.OrNop(log),
		metrics:   m,
		locks:     newKeyLocks(),
	}
}

// Now is the engine clock in UTC. Every timestamp the engine and the
// workflow record comes from it.
func (e *Engine) Now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock.Now().UTC()
}

func (e *Engine) track(op string) func(error) {
	started := time.Now()
	return func(err error) {
		e.metrics.ObserveOperation(op, started, err)
	}
}

// CreateAccount opens the virtual account of ownerID with a zero balance.
func (e *Engine) CreateAccount(ctx context.Context, ownerID string) (models.Account, error) {
	if ownerID == "" {
		return models.Account{}, fmt.Errorf("%w: owner is required", ErrUnauthorized)
	}
	if _, err := e.store.GetAccountByOwner(ctx, ownerID); err == nil {
		return models.Account{}, fmt.Errorf("%w: owner %s", ErrAccountExists, ownerID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.Account{}, err
	}

	now := e.Now()
	account := models.Account{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		return tx.CreateAccount(ctx, account)
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return models.Account{}, fmt.Errorf("%w: owner %s", ErrAccountExists, ownerID)
	}
	if err != nil {
		return models.Account{}, storeErr(err)
	}
	e.logger.Info("account created", zap.String("account_id", account.ID), zap.String("owner_id", ownerID))
	return account, nil
}

func (e *Engine) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	return a, storeErr(err)
}

func (e *Engine) GetAccountByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	a, err := e.store.GetAccountByOwner(ctx, ownerID)
	return a, storeErr(err)
}

func (e *Engine) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	a, err := e.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// GetLedgerBalance recomputes the balance of an account from its ledger
// entries alone.
func (e *Engine) GetLedgerBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	ledgerEntries, err := e.store.GetEntriesByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, storeErr(err)
	}
	return LedgerBalance(accountID, ledgerEntries), nil
}

// LedgerBalance sums the effect of entries on accountID. A top-up credits
// once; any other entry debits its sender and credits its receiver.
func LedgerBalance(accountID string, ledgerEntries []models.LedgerEntry) decimal.Decimal {
	balance := decimal.Zero
	for _, entry := range ledgerEntries {
		if entry.IsCharge() {
			if entry.ReceiverAccountID == accountID {
				balance = balance.Add(entry.Amount)
			}
			continue
		}
		if entry.SenderAccountID == accountID {
			balance = balance.Sub(entry.Amount)
		}
		if entry.ReceiverAccountID == accountID {
			balance = balance.Add(entry.Amount)
		}
	}
	return balance
}

func (e *Engine) GetEntry(ctx context.Context, entryID string) (models.LedgerEntry, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	return entry, storeErr(err)
}

func (e *Engine) GetEntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	if _, err := e.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	ledgerEntries, err := e.store.GetEntriesByAccount(ctx, accountID)
	if err != nil {
		return []models.LedgerEntry{}, storeErr(err)
	}
	return ledgerEntries, nil
}

func (e *Engine) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	ledgerEntries, err := e.store.GetLedgerEntries(ctx)
	if err != nil {
		return []models.LedgerEntry{}, storeErr(err)
	}
	return ledgerEntries, nil
}

func (e *Engine) GetFunding(ctx context.Context, fundingID string) (models.FundingRecord, error) {
	f, err := e.store.GetFunding(ctx, fundingID)
	return f, storeErr(err)
}
