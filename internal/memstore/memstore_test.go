package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"horse-wager/internal/model"
)

func TestDebitCreditMovesBalance(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Deposit(ctx, "dep-1", "acct", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	bal, err := s.DebitCredit(ctx, "w1", "acct", 100, 230)
	if err != nil {
		t.Fatalf("debit credit: %v", err)
	}
	if bal != 1130 {
		t.Fatalf("expected 1130, got %d", bal)
	}

	lines := s.Lines("acct")
	if len(lines) != 3 {
		t.Fatalf("expected 3 ledger lines, got %d", len(lines))
	}
	if lines[1].Reason != model.ReasonStake || lines[1].Amount != -100 || lines[1].BalanceAfter != 900 {
		t.Fatalf("unexpected stake line %+v", lines[1])
	}
	if lines[2].Reason != model.ReasonPayout || lines[2].Amount != 230 || lines[2].BalanceAfter != 1130 {
		t.Fatalf("unexpected payout line %+v", lines[2])
	}
}

func TestDebitCreditInsufficientFunds(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Deposit(ctx, "dep-1", "acct", 50)

	_, err := s.DebitCredit(ctx, "w1", "acct", 100, 0)
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if bal, _ := s.GetBalance(ctx, "acct"); bal != 50 {
		t.Fatalf("expected balance untouched at 50, got %d", bal)
	}
	if n := len(s.Lines("acct")); n != 1 {
		t.Fatalf("expected only the deposit line, got %d", n)
	}
}

func TestDebitCreditIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Deposit(ctx, "dep-1", "acct", 1000)

	first, _ := s.DebitCredit(ctx, "w1", "acct", 100, 0)
	second, err := s.DebitCredit(ctx, "w1", "acct", 100, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first != 900 || second != 900 {
		t.Fatalf("expected 900 twice, got %d and %d", first, second)
	}
	if bal, _ := s.GetBalance(ctx, "acct"); bal != 900 {
		t.Fatalf("expected 900 after replay, got %d", bal)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Deposit(ctx, "dep-1", "acct", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.DebitCredit(ctx, fmt.Sprintf("w%d", i), "acct", 100, 0); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if ok != 10 {
		t.Fatalf("expected exactly 10 successful debits, got %d", ok)
	}
	if bal, _ := s.GetBalance(ctx, "acct"); bal != 0 {
		t.Fatalf("expected balance 0, got %d", bal)
	}
}

func TestCanceledContextIsStorageError(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetBalance(ctx, "acct"); !errors.Is(err, model.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestAppendIgnoresDuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := model.SettlementRecord{ID: "r1", AccountID: "a", Stake: 10}
	s.Append(ctx, rec)
	s.Append(ctx, rec)
	if n := len(s.Records()); n != 1 {
		t.Fatalf("expected 1 record, got %d", n)
	}
}

func TestAggregateAndLeaderboard(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.SettlementRecord{
		{ID: "r1", AccountID: "a", Stake: 100, Payout: 230, Won: true, CreatedAt: now.Add(-time.Hour)},
		{ID: "r2", AccountID: "a", Stake: 100, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "r3", AccountID: "b", Stake: 50, Payout: 500, Won: true, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "r4", AccountID: "b", Stake: 10, Payout: 230, Won: true, CreatedAt: now.Add(-30 * time.Minute)},
	}
	for _, r := range recs {
		s.Append(ctx, r)
	}

	tot, _ := s.Aggregate(ctx, model.StatsQuery{AccountID: "a"})
	if tot.Wagers != 2 || tot.Wins != 1 || tot.Stakes != 200 || tot.Payouts != 230 {
		t.Fatalf("unexpected totals for a: %+v", tot)
	}

	house, _ := s.Aggregate(ctx, model.StatsQuery{Since: model.WindowDay.Since(now)})
	if house.Wagers != 3 {
		t.Fatalf("expected 3 wagers in the last day, got %d", house.Wagers)
	}

	board, _ := s.Leaderboard(ctx, model.LeaderboardQuery{Limit: 10})
	if len(board) != 3 {
		t.Fatalf("expected 3 winning entries, got %d", len(board))
	}
	if board[0].WagerID != "r3" {
		t.Fatalf("expected r3 first, got %s", board[0].WagerID)
	}
	// equal payouts: newest first
	if board[1].WagerID != "r4" || board[2].WagerID != "r1" {
		t.Fatalf("unexpected tie order %s, %s", board[1].WagerID, board[2].WagerID)
	}

	day, _ := s.Leaderboard(ctx, model.LeaderboardQuery{Since: model.WindowDay.Since(now), Limit: 1})
	if len(day) != 1 || day[0].WagerID != "r4" {
		t.Fatalf("expected only r4 for the day with limit 1, got %+v", day)
	}
}

func TestDoRollsBackLedgerAndHistory(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Deposit(ctx, "dep-1", "acct", 1000)

	err := s.Do(ctx, func(ctx context.Context) error {
		if _, err := s.DebitCredit(ctx, "w1", "acct", 100, 230); err != nil {
			return err
		}
		if err := s.Append(ctx, model.SettlementRecord{ID: "w1", AccountID: "acct", Stake: 100}); err != nil {
			return err
		}
		return fmt.Errorf("%w: commit failed", model.ErrStorage)
	})
	if !errors.Is(err, model.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if bal, _ := s.GetBalance(ctx, "acct"); bal != 1000 {
		t.Fatalf("expected balance restored to 1000, got %d", bal)
	}
	if n := len(s.Lines("acct")); n != 1 {
		t.Fatalf("expected only the deposit line, got %d", n)
	}
	if _, err := s.Get(ctx, "w1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected record rolled back, got %v", err)
	}

	// The wager id is free again after a rollback.
	bal, err := s.DebitCredit(ctx, "w1", "acct", 100, 0)
	if err != nil || bal != 900 {
		t.Fatalf("expected replay after rollback to apply, got %d, %v", bal, err)
	}
}

func TestDoCommitsAndKeepsOtherRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Deposit(ctx, "dep-1", "acct", 1000)
	s.Append(ctx, model.SettlementRecord{ID: "before"})

	s.Do(ctx, func(ctx context.Context) error {
		s.Append(ctx, model.SettlementRecord{ID: "doomed"})
		s.Append(ctx, model.SettlementRecord{ID: "after"})
		return errors.New("abort")
	})
	if n := len(s.Records()); n != 1 {
		t.Fatalf("expected only the earlier record, got %d", n)
	}

	err := s.Do(ctx, func(ctx context.Context) error {
		if _, err := s.DebitCredit(ctx, "w2", "acct", 100, 0); err != nil {
			return err
		}
		// Nested units join the outer one and may re-read the held account.
		return s.Do(ctx, func(ctx context.Context) error {
			bal, err := s.GetBalance(ctx, "acct")
			if err == nil && bal != 900 {
				err = fmt.Errorf("expected 900 inside the unit, got %d", bal)
			}
			if err != nil {
				return err
			}
			return s.Append(ctx, model.SettlementRecord{ID: "w2", AccountID: "acct", Stake: 100})
		})
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if rec, err := s.Get(ctx, "w2"); err != nil || rec.Stake != 100 {
		t.Fatalf("expected committed record, got %+v, %v", rec, err)
	}
	if _, err := s.Get(ctx, "before"); err != nil {
		t.Fatalf("earlier record lost: %v", err)
	}
	if bal, _ := s.GetBalance(ctx, "acct"); bal != 900 {
		t.Fatalf("expected 900, got %d", bal)
	}
}

func TestDoHoldsAccountUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Deposit(ctx, "dep-1", "acct", 100)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Do(ctx, func(ctx context.Context) error {
			if _, err := s.DebitCredit(ctx, "w1", "acct", 100, 0); err != nil {
				return err
			}
			close(entered)
			<-release
			return errors.New("abort")
		})
	}()
	<-entered

	got := make(chan int64, 1)
	go func() {
		bal, _ := s.GetBalance(ctx, "acct")
		got <- bal
	}()
	select {
	case bal := <-got:
		t.Fatalf("read %d while the unit was open", bal)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
	if bal := <-got; bal != 100 {
		t.Fatalf("expected rolled back balance 100, got %d", bal)
	}
}
