package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// LedgerReader is the read side of the store. Reads outside a unit of work
// take no locks.
type LedgerReader interface {
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
	GetAccountByOwner(ctx context.Context, ownerID string) (models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetProject(ctx context.Context, projectID string) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	GetFunding(ctx context.Context, fundingID string) (models.FundingRecord, error)
	ListFundingByProject(ctx context.Context, projectID string) ([]models.FundingRecord, error)
	GetEntry(ctx context.Context, entryID string) (models.LedgerEntry, error)
	GetRemittanceByFunding(ctx context.Context, fundingID string) (models.LedgerEntry, error)
	GetEntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
	GetEntryByIdempotencyKey(ctx context.Context, key string) (models.LedgerEntry, error)
	// ResolveReward returns the highest reward tier of the project whose
	// threshold does not exceed amount.
	ResolveReward(ctx context.Context, projectID string, amount decimal.Decimal) (models.Reward, error)
}

// LedgerTx is a single atomic unit of work. Lock* methods take row level
// locks held until the unit of work ends.
type LedgerTx interface {
	LockAccounts(ctx context.Context, accountIDs ...string) (map[string]models.Account, error)
	UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal, at time.Time) error
	CreateAccount(ctx context.Context, account models.Account) error

	LockProject(ctx context.Context, projectID string) (models.Project, error)
	UpdateCurrentFunding(ctx context.Context, projectID string, total decimal.Decimal, at time.Time) error
	// UpdateProjectState persists approval, status and blocked only.
	UpdateProjectState(ctx context.Context, project models.Project) error
	CreateProject(ctx context.Context, project models.Project) error
	CreateReward(ctx context.Context, reward models.Reward) error

	LockFunding(ctx context.Context, fundingID string) (models.FundingRecord, error)
	SaveFunding(ctx context.Context, record models.FundingRecord) error
	MarkFundingReversed(ctx context.Context, fundingID string, at time.Time) error

	SaveEntry(ctx context.Context, entry models.LedgerEntry) error
}

type LedgerStore interface {
	LedgerReader
	// WithinTx runs fn as one atomic unit of work. A non-nil error from fn
	// discards every write made through tx.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// WithinSnapshot runs fn against one read-only view of the store. Writes
	// committed while fn runs are not visible to it.
	WithinSnapshot(ctx context.Context, fn func(r LedgerReader) error) error
}
