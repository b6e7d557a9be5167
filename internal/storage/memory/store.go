package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

// memState is the committed data set. It is only touched while holding
// MemoryLedgerStore.mu.
type memState struct {
	accounts            map[string]models.Account
	accountByOwner      map[string]string
	projects            map[string]models.Project
	rewardsByProject    map[string][]models.Reward
	fundings            map[string]models.FundingRecord
	fundingsByProject   map[string][]string
	entries             []models.LedgerEntry
	entryIndex          map[string]int
	entryByKey          map[string]string // idempotency key -> entry id
	remittanceByFunding map[string]string
}

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// A unit of work stages its writes and applies them in one step at commit,
// so a failed unit of work leaves nothing behind. It takes no row locks:
// callers serialize conflicting units of work themselves (the ledger engine
// does this with its per-key locks).
type MemoryLedgerStore struct {
	mu    sync.RWMutex // guards state; held briefly for reads and for commit
	state memState
}

// NewMemoryLedgerStore creates an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		state: memState{
			accounts:            make(map[string]models.Account),
			accountByOwner:      make(map[string]string),
			projects:            make(map[string]models.Project),
			rewardsByProject:    make(map[string][]models.Reward),
			fundings:            make(map[string]models.FundingRecord),
			fundingsByProject:   make(map[string][]string),
			entries:             make([]models.LedgerEntry, 0),
			entryIndex:          make(map[string]int),
			entryByKey:          make(map[string]string),
			remittanceByFunding: make(map[string]string),
		},
	}
}

// WithinTx runs fn against a staging area and commits it if fn succeeds.
func (m *MemoryLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:    m,
		accounts: make(map[string]models.Account),
		projects: make(map[string]models.Project),
		fundings: make(map[string]models.FundingRecord),
	}
	if err := fn(tx); err != nil {
		return err // staged writes are simply dropped
	}
	return m.commit(tx)
}

func (m *MemoryLedgerStore) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// validate everything first so that commit is all or nothing
	for _, op := range tx.ops {
		if op.check == nil {
			continue
		}
		if err := op.check(&m.state); err != nil {
			return err
		}
	}
	for _, op := range tx.ops {
		op.apply(&m.state)
	}
	return nil
}

// WithinSnapshot hands fn a copy of the committed state, so units of work
// that commit while fn runs are invisible to it and are not held up.
func (m *MemoryLedgerStore) WithinSnapshot(ctx context.Context, fn func(r interfaces.LedgerReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	snap := m.state.clone()
	m.mu.RUnlock()
	return fn(snap)
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetAccount(ctx, accountID)
}

func (m *MemoryLedgerStore) GetAccountByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetAccountByOwner(ctx, ownerID)
}

func (m *MemoryLedgerStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListAccounts(ctx)
}

func (m *MemoryLedgerStore) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetProject(ctx, projectID)
}

func (m *MemoryLedgerStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListProjects(ctx)
}

func (m *MemoryLedgerStore) GetFunding(ctx context.Context, fundingID string) (models.FundingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetFunding(ctx, fundingID)
}

func (m *MemoryLedgerStore) ListFundingByProject(ctx context.Context, projectID string) ([]models.FundingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListFundingByProject(ctx, projectID)
}

func (m *MemoryLedgerStore) GetEntry(ctx context.Context, entryID string) (models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetEntry(ctx, entryID)
}

func (m *MemoryLedgerStore) GetEntryByIdempotencyKey(ctx context.Context, key string) (models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetEntryByIdempotencyKey(ctx, key)
}

func (m *MemoryLedgerStore) GetRemittanceByFunding(ctx context.Context, fundingID string) (models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetRemittanceByFunding(ctx, fundingID)
}

func (m *MemoryLedgerStore) GetEntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetEntriesByAccount(ctx, accountID)
}

func (m *MemoryLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetLedgerEntries(ctx)
}

func (m *MemoryLedgerStore) ResolveReward(ctx context.Context, projectID string, amount decimal.Decimal) (models.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ResolveReward(ctx, projectID, amount)
}

// clone copies the indexes. Rows are values and the slices are only ever
// appended to, so they can be shared.
func (s *memState) clone() *memState {
	n := len(s.entries)
	return &memState{
		accounts:            maps.Clone(s.accounts),
		accountByOwner:      maps.Clone(s.accountByOwner),
		projects:            maps.Clone(s.projects),
		rewardsByProject:    maps.Clone(s.rewardsByProject),
		fundings:            maps.Clone(s.fundings),
		fundingsByProject:   maps.Clone(s.fundingsByProject),
		entries:             s.entries[:n:n],
		entryIndex:          maps.Clone(s.entryIndex),
		entryByKey:          maps.Clone(s.entryByKey),
		remittanceByFunding: maps.Clone(s.remittanceByFunding),
	}
}

// The methods below implement interfaces.LedgerReader on a state the caller
// has already made safe to read.

func (s *memState) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	return s.account(accountID)
}

func (s *memState) GetAccountByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	id, ok := s.accountByOwner[ownerID]
	if !ok {
		return models.Account{}, fmt.Errorf("account of owner %s: %w", ownerID, storage.ErrNotFound)
	}
	return s.account(id)
}

func (s *memState) ListAccounts(ctx context.Context) ([]models.Account, error) {
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	return s.project(projectID)
}

func (s *memState) ListProjects(ctx context.Context) ([]models.Project, error) {
	out := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) GetFunding(ctx context.Context, fundingID string) (models.FundingRecord, error) {
	return s.funding(fundingID)
}

// ListFundingByProject returns the project's records in pledge order.
func (s *memState) ListFundingByProject(ctx context.Context, projectID string) ([]models.FundingRecord, error) {
	ids := s.fundingsByProject[projectID]
	out := make([]models.FundingRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.fundings[id])
	}
	return out, nil
}

func (s *memState) GetEntry(ctx context.Context, entryID string) (models.LedgerEntry, error) {
	idx, ok := s.entryIndex[entryID]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", entryID, storage.ErrNotFound)
	}
	return s.entries[idx], nil
}

func (s *memState) GetEntryByIdempotencyKey(ctx context.Context, key string) (models.LedgerEntry, error) {
	id, ok := s.entryByKey[key]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("ledger entry with idempotency key %q: %w", key, storage.ErrNotFound)
	}
	return s.entries[s.entryIndex[id]], nil
}

func (s *memState) GetRemittanceByFunding(ctx context.Context, fundingID string) (models.LedgerEntry, error) {
	id, ok := s.remittanceByFunding[fundingID]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("remittance of funding %s: %w", fundingID, storage.ErrNotFound)
	}
	return s.entries[s.entryIndex[id]], nil
}

func (s *memState) GetEntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	result := make([]models.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.SenderAccountID == accountID || e.ReceiverAccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

// GetLedgerEntries returns a copy of every entry so callers cannot modify
// the stored ledger.
func (s *memState) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	copied := make([]models.LedgerEntry, len(s.entries))
	copy(copied, s.entries)
	return copied, nil
}

func (s *memState) ResolveReward(ctx context.Context, projectID string, amount decimal.Decimal) (models.Reward, error) {
	var (
		best  models.Reward
		found bool
	)
	for _, r := range s.rewardsByProject[projectID] {
		if r.Threshold.GreaterThan(amount) {
			continue
		}
		if !found || r.Threshold.GreaterThan(best.Threshold) {
			best, found = r, true
		}
	}
	if !found {
		return models.Reward{}, fmt.Errorf("reward for %s on project %s: %w", amount, projectID, storage.ErrNotFound)
	}
	return best, nil
}

func (s *memState) account(id string) (models.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (s *memState) project(id string) (models.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return models.Project{}, fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *memState) funding(id string) (models.FundingRecord, error) {
	f, ok := s.fundings[id]
	if !ok {
		return models.FundingRecord{}, fmt.Errorf("funding %s: %w", id, storage.ErrNotFound)
	}
	return f, nil
}

// memOp is one staged write. check runs for every op before any apply.
type memOp struct {
	check func(s *memState) error
	apply func(s *memState)
}

// memTx holds the rows read or written by one unit of work together with
// the field level writes to replay at commit.
type memTx struct {
	store    *MemoryLedgerStore
	accounts map[string]models.Account
	projects map[string]models.Project
	fundings map[string]models.FundingRecord
	ops      []memOp
}

func (t *memTx) stage(op memOp) {
	t.ops = append(t.ops, op)
}

func (t *memTx) loadAccount(ctx context.Context, id string) (models.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	a, err := t.store.GetAccount(ctx, id)
	if err != nil {
		return models.Account{}, err
	}
	t.accounts[id] = a
	return a, nil
}

func (t *memTx) loadProject(ctx context.Context, id string) (models.Project, error) {
	if p, ok := t.projects[id]; ok {
		return p, nil
	}
	p, err := t.store.GetProject(ctx, id)
	if err != nil {
		return models.Project{}, err
	}
	t.projects[id] = p
	return p, nil
}

func (t *memTx) loadFunding(ctx context.Context, id string) (models.FundingRecord, error) {
	if f, ok := t.fundings[id]; ok {
		return f, nil
	}
	f, err := t.store.GetFunding(ctx, id)
	if err != nil {
		return models.FundingRecord{}, err
	}
	t.fundings[id] = f
	return f, nil
}

func (t *memTx) LockAccounts(ctx context.Context, accountIDs ...string) (map[string]models.Account, error) {
	out := make(map[string]models.Account, len(accountIDs))
	for _, id := range accountIDs {
		a, err := t.loadAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal, at time.Time) error {
	a, err := t.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	a.Balance = balance
	a.UpdatedAt = at
	t.accounts[accountID] = a
	t.stage(memOp{
		check: func(s *memState) error {
			_, err := s.account(accountID)
			return err
		},
		apply: func(s *memState) {
			cur := s.accounts[accountID]
			cur.Balance = balance
			cur.UpdatedAt = at
			s.accounts[accountID] = cur
		},
	})
	return nil
}

func (t *memTx) CreateAccount(ctx context.Context, account models.Account) error {
	t.accounts[account.ID] = account
	t.stage(memOp{
		check: func(s *memState) error {
			if _, ok := s.accounts[account.ID]; ok {
				return fmt.Errorf("account %s: %w", account.ID, storage.ErrDuplicate)
			}
			if _, ok := s.accountByOwner[account.OwnerID]; ok {
				return fmt.Errorf("account of owner %s: %w", account.OwnerID, storage.ErrDuplicate)
			}
			return nil
		},
		apply: func(s *memState) {
			s.accounts[account.ID] = account
			s.accountByOwner[account.OwnerID] = account.ID
		},
	})
	return nil
}

func (t *memTx) LockProject(ctx context.Context, projectID string) (models.Project, error) {
	return t.loadProject(ctx, projectID)
}

func (t *memTx) UpdateCurrentFunding(ctx context.Context, projectID string, total decimal.Decimal, at time.Time) error {
	p, err := t.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	p.CurrentFunding = total
	p.UpdatedAt = at
	t.projects[projectID] = p
	t.stage(memOp{
		check: func(s *memState) error {
			_, err := s.project(projectID)
			return err
		},
		apply: func(s *memState) {
			cur := s.projects[projectID]
			cur.CurrentFunding = total
			cur.UpdatedAt = at
			s.projects[projectID] = cur
		},
	})
	return nil
}

func (t *memTx) UpdateProjectState(ctx context.Context, project models.Project) error {
	p, err := t.loadProject(ctx, project.ID)
	if err != nil {
		return err
	}
	p.Approval = project.Approval
	p.Status = project.Status
	p.Blocked = project.Blocked
	p.UpdatedAt = project.UpdatedAt
	t.projects[project.ID] = p
	t.stage(memOp{
		check: func(s *memState) error {
			_, err := s.project(project.ID)
			return err
		},
		apply: func(s *memState) {
			cur := s.projects[project.ID]
			cur.Approval = project.Approval
			cur.Status = project.Status
			cur.Blocked = project.Blocked
			cur.UpdatedAt = project.UpdatedAt
			s.projects[project.ID] = cur
		},
	})
	return nil
}

func (t *memTx) CreateProject(ctx context.Context, project models.Project) error {
	t.projects[project.ID] = project
	t.stage(memOp{
		check: func(s *memState) error {
			if _, ok := s.projects[project.ID]; ok {
				return fmt.Errorf("project %s: %w", project.ID, storage.ErrDuplicate)
			}
			return nil
		},
		apply: func(s *memState) {
			s.projects[project.ID] = project
		},
	})
	return nil
}

func (t *memTx) CreateReward(ctx context.Context, reward models.Reward) error {
	t.stage(memOp{
		check: func(s *memState) error {
			_, err := s.project(reward.ProjectID)
			return err
		},
		apply: func(s *memState) {
			s.rewardsByProject[reward.ProjectID] = append(s.rewardsByProject[reward.ProjectID], reward)
		},
	})
	return nil
}

func (t *memTx) LockFunding(ctx context.Context, fundingID string) (models.FundingRecord, error) {
	return t.loadFunding(ctx, fundingID)
}

func (t *memTx) SaveFunding(ctx context.Context, record models.FundingRecord) error {
	t.fundings[record.ID] = record
	t.stage(memOp{
		check: func(s *memState) error {
			if _, ok := s.fundings[record.ID]; ok {
				return fmt.Errorf("funding %s: %w", record.ID, storage.ErrDuplicate)
			}
			return nil
		},
		apply: func(s *memState) {
			s.fundings[record.ID] = record
			s.fundingsByProject[record.ProjectID] = append(s.fundingsByProject[record.ProjectID], record.ID)
		},
	})
	return nil
}

func (t *memTx) MarkFundingReversed(ctx context.Context, fundingID string, at time.Time) error {
	f, err := t.loadFunding(ctx, fundingID)
	if err != nil {
		return err
	}
	f.State = models.FundingReversed
	f.ReversedAt = &at
	t.fundings[fundingID] = f
	t.stage(memOp{
		check: func(s *memState) error {
			cur, err := s.funding(fundingID)
			if err != nil {
				return err
			}
			if cur.Reversed() {
				return fmt.Errorf("funding %s already reversed: %w", fundingID, storage.ErrConflict)
			}
			return nil
		},
		apply: func(s *memState) {
			cur := s.fundings[fundingID]
			cur.State = models.FundingReversed
			cur.ReversedAt = &at
			s.fundings[fundingID] = cur
		},
	})
	return nil
}

func (t *memTx) SaveEntry(ctx context.Context, entry models.LedgerEntry) error {
	t.stage(memOp{
		check: func(s *memState) error {
			if _, ok := s.entryIndex[entry.ID]; ok {
				return fmt.Errorf("ledger entry %s: %w", entry.ID, storage.ErrDuplicate)
			}
			if _, ok := s.entryByKey[entry.IdempotencyKey]; ok && entry.IdempotencyKey != "" {
				return fmt.Errorf("idempotency key %q: %w", entry.IdempotencyKey, storage.ErrDuplicate)
			}
			return nil
		},
		apply: func(s *memState) {
			s.entryIndex[entry.ID] = len(s.entries)
			s.entries = append(s.entries, entry)
			if entry.IdempotencyKey != "" {
				s.entryByKey[entry.IdempotencyKey] = entry.ID
			}
			if entry.Type == models.EntryRemittance && entry.FundingID != "" {
				s.remittanceByFunding[entry.FundingID] = entry.ID
			}
		},
	})
	return nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)

var _ interfaces.LedgerReader = (*memState)(nil)
