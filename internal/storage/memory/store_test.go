package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, s *MemoryLedgerStore, id, owner string, balance int64) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(tx interfaces.LedgerTx) error {
		return tx.CreateAccount(context.Background(), models.Account{ID: id, OwnerID: owner, Balance: decimal.NewFromInt(balance), CreatedAt: now, UpdatedAt: now})
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

func TestFailedUnitOfWorkLeavesNothingBehind(t *testing.T) {
	s := NewMemoryLedgerStore()
	seedAccount(t, s, "acc-1", "owner-1", 100)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		if err := tx.UpdateBalance(ctx, "acc-1", decimal.NewFromInt(40), now); err != nil {
			return err
		}
		if err := tx.SaveEntry(ctx, models.LedgerEntry{ID: "e-1", SenderAccountID: "acc-1", ReceiverAccountID: "acc-1", Amount: decimal.NewFromInt(1), Type: models.EntryRemittance}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error; got=%v", err)
	}

	acc, _ := s.GetAccount(ctx, "acc-1")
	if !acc.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance should be untouched; got=%s", acc.Balance)
	}
	if entries, _ := s.GetLedgerEntries(ctx); len(entries) != 0 {
		t.Fatalf("entry should not be stored; got=%d", len(entries))
	}
}

func TestWritesAreVisibleInsideTheUnitOfWorkOnly(t *testing.T) {
	s := NewMemoryLedgerStore()
	seedAccount(t, s, "acc-1", "owner-1", 100)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		if err := tx.UpdateBalance(ctx, "acc-1", decimal.NewFromInt(70), now); err != nil {
			return err
		}
		locked, err := tx.LockAccounts(ctx, "acc-1")
		if err != nil {
			return err
		}
		if !locked["acc-1"].Balance.Equal(decimal.NewFromInt(70)) {
			t.Errorf("tx should see its own write; got=%s", locked["acc-1"].Balance)
		}
		committed, _ := s.GetAccount(ctx, "acc-1")
		if !committed.Balance.Equal(decimal.NewFromInt(100)) {
			t.Errorf("write leaked before commit; got=%s", committed.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
	acc, _ := s.GetAccount(ctx, "acc-1")
	if !acc.Balance.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("committed balance: got=%s", acc.Balance)
	}
}

func TestDuplicateOwnerIsRejected(t *testing.T) {
	s := NewMemoryLedgerStore()
	seedAccount(t, s, "acc-1", "owner-1", 0)

	err := s.WithinTx(context.Background(), func(tx interfaces.LedgerTx) error {
		return tx.CreateAccount(context.Background(), models.Account{ID: "acc-2", OwnerID: "owner-1"})
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate; got=%v", err)
	}
	if _, err := s.GetAccount(context.Background(), "acc-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected account should not exist; got=%v", err)
	}
}

func TestFundingIsReversedOnce(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		if err := tx.CreateProject(ctx, models.Project{ID: "p-1", CurrentFunding: decimal.Zero}); err != nil {
			return err
		}
		return tx.SaveFunding(ctx, models.FundingRecord{ID: "f-1", ProjectID: "p-1", Amount: decimal.NewFromInt(5), State: models.FundingActive})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	reverse := func() error {
		return s.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
			return tx.MarkFundingReversed(ctx, "f-1", now)
		})
	}
	if err := reverse(); err != nil {
		t.Fatalf("first reversal: %v", err)
	}
	if err := reverse(); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second reversal should conflict; got=%v", err)
	}

	records, _ := s.ListFundingByProject(ctx, "p-1")
	if len(records) != 1 || !records[0].Reversed() || records[0].ReversedAt == nil {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestResolveRewardPicksHighestReachedTier(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		return tx.CreateProject(ctx, models.Project{ID: "p-1"})
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	// rewards are checked against committed projects, so they go in a
	// second unit of work
	err = s.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		for i, threshold := range []int64{100, 10, 50} {
			r := models.Reward{ID: string(rune('a' + i)), ProjectID: "p-1", Threshold: decimal.NewFromInt(threshold)}
			if err := tx.CreateReward(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed rewards: %v", err)
	}

	tests := []struct {
		amount int64
		want   string
	}{
		{amount: 10, want: "b"},
		{amount: 99, want: "c"},
		{amount: 100, want: "a"},
	}
	for _, tt := range tests {
		r, err := s.ResolveReward(ctx, "p-1", decimal.NewFromInt(tt.amount))
		if err != nil {
			t.Fatalf("resolve %d: %v", tt.amount, err)
		}
		if r.ID != tt.want {
			t.Fatalf("resolve %d: got=%s want=%s", tt.amount, r.ID, tt.want)
		}
	}
	if _, err := s.ResolveReward(ctx, "p-1", decimal.NewFromInt(9)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no reward below the lowest tier; got=%v", err)
	}
}
