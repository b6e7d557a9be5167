package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/clock"
	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/metrics"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models/events"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) stateChanges() []events.ProjectStateChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.ProjectStateChanged
	for _, e := range p.events {
		if sc, ok := e.(events.ProjectStateChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func approval(a models.ApprovalStatus) *models.ApprovalStatus { return &a }
func status(s models.ProjectStatus) *models.ProjectStatus { return &s }

type harness struct {
	store       *memory.MemoryLedgerStore
	engine      *ledger.Engine
	service     *Service
	publisher   *recordingPublisher
	admin       models.Actor
	beneficiary models.Actor
	project     models.Project
	projectAcc  models.Account
	sponsors    []models.Account
	fundings    []string
}

// newHarness creates a project and one sponsor per amount, each paying that
// amount into the project.
func newHarness(t *testing.T, workers int, amounts ...int64) *harness {
	t.Helper()
	ctx := context.Background()

	store := memory.NewMemoryLedgerStore()
	pub := &recordingPublisher{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	engine := ledger.NewEngine(store, pub, nil, m)

	h := &harness{
		store:       store,
		engine:      engine,
		service:     NewService(engine, store, pub, nil, m, workers),
		publisher:   pub,
		admin:       models.Actor{ID: "admin-1", Role: models.RoleAdmin},
		beneficiary: models.Actor{ID: "bene-1", Role: models.RoleBeneficiary},
	}

	var err error
	if h.projectAcc, err = engine.CreateAccount(ctx, h.beneficiary.ID); err != nil {
		t.Fatalf("create beneficiary account: %v", err)
	}
	if h.project, err = h.service.CreateProject(ctx, h.beneficiary, "community garden", dec(500)); err != nil {
		t.Fatalf("create project: %v", err)
	}

	for i, amount := range amounts {
		sponsor := models.Actor{ID: fmt.Sprintf("sponsor-%d", i), Role: models.RoleSponsor}
		acc, err := engine.CreateAccount(ctx, sponsor.ID)
		if err != nil {
			t.Fatalf("create sponsor account: %v", err)
		}
		if _, err := engine.Charge(ctx, ledger.ChargeRequest{AccountID: acc.ID, Amount: dec(100), Actor: sponsor}); err != nil {
			t.Fatalf("charge sponsor: %v", err)
		}
		receipt, err := engine.Pay(ctx, ledger.PayRequest{
			PayerAccountID: acc.ID,
			ProjectID:      h.project.ID,
			Amount:         dec(amount),
			Actor:          sponsor,
		})
		if err != nil {
			t.Fatalf("pay %d: %v", amount, err)
		}
		h.sponsors = append(h.sponsors, acc)
		h.fundings = append(h.fundings, receipt.FundingID)
	}
	return h
}

func (h *harness) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	b, err := h.engine.GetBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return b
}

func (h *harness) currentProject(t *testing.T) models.Project {
	t.Helper()
	p, err := h.engine.GetProject(context.Background(), h.project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	return p
}

func (h *harness) refundEntries(t *testing.T) int {
	t.Helper()
	entries, err := h.engine.GetLedgerEntries(context.Background())
	if err != nil {
		t.Fatalf("ledger entries: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.Type == models.EntryRefund {
			n++
		}
	}
	return n
}

func (h *harness) assertConsistent(t *testing.T) {
	t.Helper()
	report, err := h.engine.CheckConsistency(context.Background())
	if err != nil {
		t.Fatalf("check consistency: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("ledger inconsistent: %+v", report)
	}
}

func TestFailedProjectRefundsEverySponsor(t *testing.T) {
	h := newHarness(t, 4, 10, 20, 30)
	if got := h.currentProject(t).CurrentFunding; !got.Equal(dec(60)) {
		t.Fatalf("current funding before: got=%s want=60", got)
	}

	result, err := h.service.UpdateStatus(context.Background(), h.admin, h.project.ID, models.StatusFailed)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if result.PartiallyFailed() || result.RefundsProcessed != 3 {
		t.Fatalf("expected three refunds and no failures: %+v", result)
	}
	if !result.Blocked || result.Status != models.StatusFailed {
		t.Fatalf("project should be failed and blocked: %+v", result)
	}
	if !result.CurrentFunding.IsZero() {
		t.Fatalf("current funding after: got=%s want=0", result.CurrentFunding)
	}

	for _, acc := range h.sponsors {
		if got := h.balance(t, acc.ID); !got.Equal(dec(100)) {
			t.Fatalf("sponsor %s: got=%s want=100", acc.ID, got)
		}
	}
	for _, id := range h.fundings {
		f, _ := h.engine.GetFunding(context.Background(), id)
		if !f.Reversed() {
			t.Fatalf("funding %s should be reversed", id)
		}
	}
	if n := h.refundEntries(t); n != 3 {
		t.Fatalf("expected 3 refund entries; got=%d", n)
	}
	if got := h.balance(t, h.projectAcc.ID); !got.IsZero() {
		t.Fatalf("project account: got=%s want=0", got)
	}
	h.assertConsistent(t)

	changes := h.publisher.stateChanges()
	if len(changes) != 1 || changes[0].RefundsProcessed != 3 {
		t.Fatalf("expected one state change event with 3 refunds; got=%+v", changes)
	}
}

func TestRejectedProjectRefundsEverySponsor(t *testing.T) {
	for _, from := range []models.ApprovalStatus{models.ApprovalAwaiting, models.ApprovalApproved} {
		t.Run(string(from), func(t *testing.T) {
			h := newHarness(t, 2, 15, 25)
			if from == models.ApprovalApproved {
				if _, err := h.service.UpdateApproval(context.Background(), h.admin, h.project.ID, models.ApprovalApproved); err != nil {
					t.Fatalf("approve: %v", err)
				}
			}

			result, err := h.service.UpdateApproval(context.Background(), h.admin, h.project.ID, models.ApprovalRejected)
			if err != nil {
				t.Fatalf("reject: %v", err)
			}
			if result.RefundsProcessed != 2 || !result.Blocked {
				t.Fatalf("unexpected result: %+v", result)
			}
			if !h.currentProject(t).CurrentFunding.IsZero() {
				t.Fatalf("current funding should drop to zero")
			}
			h.assertConsistent(t)
		})
	}
}

func TestSuccessBlocksWithoutRefunds(t *testing.T) {
	h := newHarness(t, 4, 10, 20)

	result, err := h.service.UpdateStatus(context.Background(), h.admin, h.project.ID, models.StatusSuccess)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if result.RefundsProcessed != 0 || !result.Blocked {
		t.Fatalf("success keeps the funds and blocks the project: %+v", result)
	}
	if got := h.currentProject(t).CurrentFunding; !got.Equal(dec(30)) {
		t.Fatalf("current funding: got=%s want=30", got)
	}
	if n := h.refundEntries(t); n != 0 {
		t.Fatalf("expected no refund entries; got=%d", n)
	}

	_, err = h.engine.Pay(context.Background(), ledger.PayRequest{
		PayerAccountID: h.sponsors[0].ID,
		ProjectID:      h.project.ID,
		Amount:         dec(1),
		Actor:          models.Actor{ID: "sponsor-0", Role: models.RoleSponsor},
	})
	if !errors.Is(err, ledger.ErrProjectClosed) {
		t.Fatalf("expected project closed after success; got=%v", err)
	}
}

func TestApprovalDoesNotBlock(t *testing.T) {
	h := newHarness(t, 1, 10)

	result, err := h.service.UpdateApproval(context.Background(), h.admin, h.project.ID, models.ApprovalApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if result.Blocked || result.RefundsProcessed != 0 {
		t.Fatalf("approval has no side effects: %+v", result)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name   string
		before []Update
		update Update
		want   error
	}{
		{name: "awaiting to approved", update: Update{Approval: approval(models.ApprovalApproved)}},
		{
			name:   "approved back to awaiting",
			before: []Update{{Approval: approval(models.ApprovalApproved)}},
			update: Update{Approval: approval(models.ApprovalAwaiting)},
			want:   ErrInvalidTransition,
		},
		{
			name:   "out of rejected",
			before: []Update{{Approval: approval(models.ApprovalRejected)}},
			update: Update{Approval: approval(models.ApprovalApproved)},
			want:   ErrInvalidTransition,
		},
		{
			name:   "out of success",
			before: []Update{{Status: status(models.StatusSuccess)}},
			update: Update{Status: status(models.StatusFailed)},
			want:   ErrInvalidTransition,
		},
		{
			name:   "failed back to ongoing",
			before: []Update{{Status: status(models.StatusFailed)}},
			update: Update{Status: status(models.StatusOngoing)},
			want:   ErrInvalidTransition,
		},
		{
			name:   "reapply failed",
			before: []Update{{Status: status(models.StatusFailed)}},
			update: Update{Status: status(models.StatusFailed)},
		},
		{name: "unknown status", update: Update{Status: status("PAUSED")}, want: ErrInvalidState},
		{name: "empty update", update: Update{}, want: ErrInvalidState},
		{
			name:   "combined approve and succeed",
			update: Update{Approval: approval(models.ApprovalApproved), Status: status(models.StatusSuccess)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			for _, u := range tt.before {
				if _, err := h.service.UpdateProject(context.Background(), h.admin, h.project.ID, u); err != nil {
					t.Fatalf("setup update: %v", err)
				}
			}
			before := h.currentProject(t)

			_, err := h.service.UpdateProject(context.Background(), h.admin, h.project.ID, tt.update)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got=%v want=%v", err, tt.want)
			}
			after := h.currentProject(t)
			if after.Approval != before.Approval || after.Status != before.Status || after.Blocked != before.Blocked {
				t.Fatalf("rejected transition changed the project: before=%+v after=%+v", before, after)
			}
		})
	}
}

func TestOnlyAdminsChangeProjectState(t *testing.T) {
	h := newHarness(t, 1, 10)

	_, err := h.service.UpdateStatus(context.Background(), h.beneficiary, h.project.ID, models.StatusFailed)
	if !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected forbidden; got=%v", err)
	}
	_, err = h.service.UpdateStatus(context.Background(), models.Actor{}, h.project.ID, models.StatusFailed)
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected unauthorized; got=%v", err)
	}
	if p := h.currentProject(t); p.Status != models.StatusOngoing || p.Blocked {
		t.Fatalf("project should be untouched: %+v", p)
	}
}

func TestCascadeReportsPartialFailureAndRetries(t *testing.T) {
	h := newHarness(t, 3, 10, 20, 30)
	ctx := context.Background()

	// the beneficiary moves 45 of the 60 out to another project, so only the
	// smallest contribution can still be covered
	other := models.Actor{ID: "bene-2", Role: models.RoleBeneficiary}
	if _, err := h.engine.CreateAccount(ctx, other.ID); err != nil {
		t.Fatalf("create account: %v", err)
	}
	otherProject, err := h.service.CreateProject(ctx, other, "elsewhere", dec(100))
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	_, err = h.engine.Pay(ctx, ledger.PayRequest{
		PayerAccountID: h.projectAcc.ID,
		ProjectID:      otherProject.ID,
		Amount:         dec(45),
		Actor:          h.beneficiary,
	})
	if err != nil {
		t.Fatalf("beneficiary pay: %v", err)
	}

	result, err := h.service.UpdateStatus(ctx, h.admin, h.project.ID, models.StatusFailed)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if !result.PartiallyFailed() || result.RefundsProcessed != 1 || len(result.Failures) != 2 {
		t.Fatalf("expected one refund and two failures: %+v", result)
	}
	for _, f := range result.Failures {
		if !errors.Is(f.Err, ledger.ErrIntegrity) {
			t.Fatalf("failure should be an integrity fault: %v", f.Err)
		}
	}
	if got := h.currentProject(t).CurrentFunding; !got.Equal(dec(50)) {
		t.Fatalf("current funding: got=%s want=50", got)
	}
	if got := h.balance(t, h.sponsors[0].ID); !got.Equal(dec(100)) {
		t.Fatalf("refunded sponsor: got=%s want=100", got)
	}
	h.assertConsistent(t)

	// top the account back up and re-apply FAILED to retry the rest
	if _, err := h.engine.Charge(ctx, ledger.ChargeRequest{AccountID: h.projectAcc.ID, Amount: dec(45), Actor: h.admin}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	result, err = h.service.UpdateStatus(ctx, h.admin, h.project.ID, models.StatusFailed)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.PartiallyFailed() || result.RefundsProcessed != 2 {
		t.Fatalf("retry should refund the remaining two: %+v", result)
	}
	if !result.CurrentFunding.IsZero() {
		t.Fatalf("current funding after retry: got=%s", result.CurrentFunding)
	}
	h.assertConsistent(t)
}

func TestConcurrentCascadesRefundEachRecordOnce(t *testing.T) {
	amounts := make([]int64, 12)
	for i := range amounts {
		amounts[i] = int64(i + 1)
	}
	h := newHarness(t, 4, amounts...)

	const admins = 3
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.service.UpdateStatus(context.Background(), h.admin, h.project.ID, models.StatusFailed)
			if err != nil {
				t.Errorf("update status: %v", err)
				return
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	processed := 0
	for _, r := range results {
		if r.PartiallyFailed() {
			t.Fatalf("unexpected failures: %+v", r.Failures)
		}
		processed += r.RefundsProcessed
	}
	if processed != len(amounts) {
		t.Fatalf("each record must be refunded exactly once; got=%d want=%d", processed, len(amounts))
	}
	if n := h.refundEntries(t); n != len(amounts) {
		t.Fatalf("refund entries: got=%d want=%d", n, len(amounts))
	}
	if !h.currentProject(t).CurrentFunding.IsZero() {
		t.Fatalf("current funding should be zero")
	}
	h.assertConsistent(t)
}

func TestCreateRewardRequiresProjectOwner(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	if _, err := h.service.CreateReward(ctx, models.Actor{ID: "intruder", Role: models.RoleBeneficiary}, h.project.ID, dec(10), "mug"); !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("expected forbidden; got=%v", err)
	}
	reward, err := h.service.CreateReward(ctx, h.beneficiary, h.project.ID, dec(10), "mug")
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}
	if reward.ProjectID != h.project.ID {
		t.Fatalf("reward bound to wrong project: %+v", reward)
	}

	if _, err := h.service.CreateProject(ctx, models.Actor{ID: "sponsor-x", Role: models.RoleSponsor}, "nope", dec(5)); !errors.Is(err, ledger.ErrForbidden) {
		t.Fatalf("sponsors cannot create projects; got=%v", err)
	}
}

func TestStateChangeEventUsesEngineClock(t *testing.T) {
	h := newHarness(t, 2, 10, 20)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	h.engine.Clock = clock.Fixed{At: at}

	if _, err := h.service.UpdateStatus(context.Background(), h.admin, h.project.ID, models.StatusFailed); err != nil {
		t.Fatalf("update status: %v", err)
	}

	changes := h.publisher.stateChanges()
	if len(changes) != 1 {
		t.Fatalf("expected one state change event; got=%d", len(changes))
	}
	if !changes[0].OccurredAt.Equal(at) {
		t.Fatalf("event time: got=%s want=%s", changes[0].OccurredAt, at)
	}
}

// unreadableProjects fails every project read.
type unreadableProjects struct {
	interfaces.LedgerReader
}

func (unreadableProjects) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	return models.Project{}, errors.New("connection reset by peer")
}

func TestFailedFundingReadBackIsLoggedNotZeroed(t *testing.T) {
	h := newHarness(t, 2, 10, 20, 30)
	core, logs := observer.New(zap.WarnLevel)
	service := NewService(h.engine, unreadableProjects{LedgerReader: h.store}, nil, zap.New(core), nil, 2)

	result, err := service.UpdateStatus(context.Background(), h.admin, h.project.ID, models.StatusFailed)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if result.RefundsProcessed != 3 {
		t.Fatalf("refunds processed: got=%d want=3", result.RefundsProcessed)
	}
	if result.CurrentFunding != nil {
		t.Fatalf("current funding must be absent when it cannot be read; got=%s", result.CurrentFunding)
	}
	if logs.FilterMessage("failed to read back project funding").Len() != 1 {
		t.Fatalf("expected the read failure to be logged")
	}
	if !h.currentProject(t).CurrentFunding.IsZero() {
		t.Fatalf("refunds should still have drained the project")
	}
}
