package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

//go:embed schema.sql
var schema string

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader implements interfaces.LedgerReader on the pool or on one
// transaction.
type reader struct {
	q queryer
}

type PostgresLedgerStore struct {
	reader
	db      *sql.DB
	retries int
}

// NewPostgresLedgerStore wraps db. A unit of work that fails with a
// serialization failure or deadlock is retried up to retries times.
func NewPostgresLedgerStore(db *sql.DB, retries int) *PostgresLedgerStore {
	if retries < 0 {
		retries = 0
	}
	return &PostgresLedgerStore{
		reader:  reader{q: db},
		db:      db,
		retries: retries,
	}
}

// Migrate applies the schema. It is safe to run repeatedly.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	for attempt := 0; ; attempt++ {
		err := p.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return translate(err)
		}
		if attempt >= p.retries {
			return fmt.Errorf("%w: %v", storage.ErrConflict, err)
		}
	}
}

func (p *PostgresLedgerStore) runTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

// WithinSnapshot runs fn in a read-only REPEATABLE READ transaction, so every
// read fn makes sees the database as of its first query.
func (p *PostgresLedgerStore) WithinSnapshot(ctx context.Context, fn func(r interfaces.LedgerReader) error) error {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if err := fn(reader{q: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return fmt.Errorf("%s: %w", pqErr.Constraint, storage.ErrDuplicate)
	}
	return err
}

func notFound(err error, what string, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, owner_id, balance, funding_block, created_at, updated_at`

func scanAccount(row scanner) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Balance, &a.FundingBlock, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

const projectColumns = `id, creator_id, account_id, title, funding_goal, current_funding, status, approval, blocked, created_at, updated_at`

func scanProject(row scanner) (models.Project, error) {
	var (
		p        models.Project
		status   string
		approval string
	)
	err := row.Scan(&p.ID, &p.CreatorID, &p.AccountID, &p.Title, &p.FundingGoal, &p.CurrentFunding,
		&status, &approval, &p.Blocked, &p.CreatedAt, &p.UpdatedAt)
	p.Status = models.ProjectStatus(status)
	p.Approval = models.ApprovalStatus(approval)
	return p, err
}

const fundingColumns = `id, sponsor_id, project_id, reward_id, amount, pledged_at, state, reversed_at`

func scanFunding(row scanner) (models.FundingRecord, error) {
	var (
		f          models.FundingRecord
		rewardID   sql.NullString
		state      string
		reversedAt sql.NullTime
	)
	err := row.Scan(&f.ID, &f.SponsorID, &f.ProjectID, &rewardID, &f.Amount, &f.PledgedAt, &state, &reversedAt)
	f.RewardID = rewardID.String
	f.State = models.FundingState(state)
	if reversedAt.Valid {
		t := reversedAt.Time
		f.ReversedAt = &t
	}
	return f, err
}

const entryColumns = `id, funding_id, actor_id, idempotency_key, sender_account_id, receiver_account_id, amount,
	sender_balance_after, receiver_balance_after, type, occurred_at`

func scanEntry(row scanner) (models.LedgerEntry, error) {
	var (
		e              models.LedgerEntry
		fundingID      sql.NullString
		actorID        sql.NullString
		idempotencyKey sql.NullString
		entryType      string
	)
	err := row.Scan(&e.ID, &fundingID, &actorID, &idempotencyKey, &e.SenderAccountID, &e.ReceiverAccountID, &e.Amount,
		&e.SenderBalanceAfter, &e.ReceiverBalanceAfter, &entryType, &e.OccurredAt)
	e.FundingID = fundingID.String
	e.ActorID = actorID.String
	e.IdempotencyKey = idempotencyKey.String
	e.Type = models.EntryType(entryType)
	return e, err
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r reader) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	a, err := scanAccount(row)
	return a, notFound(err, "account", accountID)
}

func (r reader) GetAccountByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID)
	a, err := scanAccount(row)
	return a, notFound(err, "account of owner", ownerID)
}

func (r reader) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAccount)
}

func (r reader) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	pr, err := scanProject(row)
	return pr, notFound(err, "project", projectID)
}

func (r reader) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProject)
}

func (r reader) GetFunding(ctx context.Context, fundingID string) (models.FundingRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+fundingColumns+` FROM funding_records WHERE id = $1`, fundingID)
	f, err := scanFunding(row)
	return f, notFound(err, "funding", fundingID)
}

func (r reader) ListFundingByProject(ctx context.Context, projectID string) ([]models.FundingRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+fundingColumns+` FROM funding_records WHERE project_id = $1 ORDER BY pledged_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanFunding)
}

func (r reader) GetEntry(ctx context.Context, entryID string) (models.LedgerEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID)
	e, err := scanEntry(row)
	return e, notFound(err, "ledger entry", entryID)
}

func (r reader) GetEntryByIdempotencyKey(ctx context.Context, key string) (models.LedgerEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key)
	e, err := scanEntry(row)
	return e, notFound(err, "ledger entry with idempotency key", key)
}

func (r reader) GetRemittanceByFunding(ctx context.Context, fundingID string) (models.LedgerEntry, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE funding_id = $1 AND type = 'REMITTANCE'`, fundingID)
	e, err := scanEntry(row)
	return e, notFound(err, "remittance of funding", fundingID)
}

func (r reader) GetEntriesByAccount(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE sender_account_id = $1 OR receiver_account_id = $1
	ORDER BY occurred_at, id`

	rows, err := r.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEntry)
}

func (r reader) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY occurred_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEntry)
}

func (r reader) ResolveReward(ctx context.Context, projectID string, amount decimal.Decimal) (models.Reward, error) {
	const query = `SELECT id, project_id, threshold, description, created_at FROM rewards
	WHERE project_id = $1 AND threshold <= $2
	ORDER BY threshold DESC LIMIT 1`

	var rw models.Reward
	err := r.q.QueryRowContext(ctx, query, projectID, amount).
		Scan(&rw.ID, &rw.ProjectID, &rw.Threshold, &rw.Description, &rw.CreatedAt)
	return rw, notFound(err, "reward of project", projectID)
}

// pgTx implements interfaces.LedgerTx on one database transaction.
type pgTx struct {
	tx *sql.Tx
}

// LockAccounts locks the rows in id order so that concurrent units of work
// touching the same accounts cannot deadlock.
func (t *pgTx) LockAccounts(ctx context.Context, accountIDs ...string) (map[string]models.Account, error) {
	ids := dedupeSorted(accountIDs)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	accounts, err := collect(rows, scanAccount)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Account, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
	}
	return out, nil
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *pgTx) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal, at time.Time) error {
	const query = `UPDATE accounts SET balance = $2, updated_at = $3 WHERE id = $1`
	return t.execOne(ctx, "account", accountID, query, accountID, balance, at)
}

func (t *pgTx) CreateAccount(ctx context.Context, a models.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `) VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := t.tx.ExecContext(ctx, query, a.ID, a.OwnerID, a.Balance, a.FundingBlock, a.CreatedAt, a.UpdatedAt)
	return translate(err)
}

func (t *pgTx) LockProject(ctx context.Context, projectID string) (models.Project, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, projectID)
	p, err := scanProject(row)
	return p, notFound(err, "project", projectID)
}

func (t *pgTx) UpdateCurrentFunding(ctx context.Context, projectID string, total decimal.Decimal, at time.Time) error {
	const query = `UPDATE projects SET current_funding = $2, updated_at = $3 WHERE id = $1`
	return t.execOne(ctx, "project", projectID, query, projectID, total, at)
}

func (t *pgTx) UpdateProjectState(ctx context.Context, p models.Project) error {
	const query = `UPDATE projects SET approval = $2, status = $3, blocked = $4, updated_at = $5 WHERE id = $1`
	return t.execOne(ctx, "project", p.ID, query, p.ID, string(p.Approval), string(p.Status), p.Blocked, p.UpdatedAt)
}

func (t *pgTx) CreateProject(ctx context.Context, p models.Project) error {
	const query = `INSERT INTO projects (` + projectColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := t.tx.ExecContext(ctx, query, p.ID, p.CreatorID, p.AccountID, p.Title, p.FundingGoal, p.CurrentFunding,
		string(p.Status), string(p.Approval), p.Blocked, p.CreatedAt, p.UpdatedAt)
	return translate(err)
}

func (t *pgTx) CreateReward(ctx context.Context, r models.Reward) error {
	const query = `INSERT INTO rewards (id, project_id, threshold, description, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := t.tx.ExecContext(ctx, query, r.ID, r.ProjectID, r.Threshold, r.Description, r.CreatedAt)
	return translate(err)
}

func (t *pgTx) LockFunding(ctx context.Context, fundingID string) (models.FundingRecord, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+fundingColumns+` FROM funding_records WHERE id = $1 FOR UPDATE`, fundingID)
	f, err := scanFunding(row)
	return f, notFound(err, "funding", fundingID)
}

func (t *pgTx) SaveFunding(ctx context.Context, f models.FundingRecord) error {
	const query = `INSERT INTO funding_records (` + fundingColumns + `)
	VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8)`
	_, err := t.tx.ExecContext(ctx, query, f.ID, f.SponsorID, f.ProjectID, f.RewardID, f.Amount, f.PledgedAt,
		string(f.State), f.ReversedAt)
	return translate(err)
}

// MarkFundingReversed only matches active records, so a second reversal
// cannot slip through even without the row lock.
func (t *pgTx) MarkFundingReversed(ctx context.Context, fundingID string, at time.Time) error {
	const query = `UPDATE funding_records SET state = 'REVERSED', reversed_at = $2 WHERE id = $1 AND state = 'ACTIVE'`
	return t.execOne(ctx, "active funding", fundingID, query, fundingID, at)
}

func (t *pgTx) SaveEntry(ctx context.Context, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES ($1,NULLIF($2,''),NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11)`
	_, err := t.tx.ExecContext(ctx, query, e.ID, e.FundingID, e.ActorID, e.IdempotencyKey, e.SenderAccountID,
		e.ReceiverAccountID, e.Amount, e.SenderBalanceAfter, e.ReceiverBalanceAfter, string(e.Type), e.OccurredAt)
	return translate(err)
}

func (t *pgTx) execOne(ctx context.Context, what, id, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
