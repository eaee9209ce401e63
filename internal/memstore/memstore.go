// Package memstore keeps balances and settlement history in process memory.
// It backs the simulate command, tests, and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"horse-wager/internal/model"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[string]*account

	hmu     sync.RWMutex
	records []model.SettlementRecord
	byID    map[string]int

	now func() time.Time
}

type account struct {
	mu      sync.Mutex
	balance int64
	applied map[string]int64 // wager or deposit ref -> balance after
	lines   []model.LedgerLine
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*account),
		byID:     make(map[string]int),
		now:      time.Now,
	}
}

// account returns the entry for id, creating it on first use.
func (s *Store) account(id string) *account {
	s.mu.RLock()
	a, ok := s.accounts[id]
	s.mu.RUnlock()
	if ok {
		return a
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return a
	}
	a = &account{applied: make(map[string]int64)}
	s.accounts[id] = a
	return a
}

// ── Transactions ─────────────────────────────────────

type txKey struct{}

// memTx holds every account it touched until the unit ends and keeps an undo
// log for rollback. Units that touch several accounts must take them in a
// consistent order.
type memTx struct {
	held map[*account]bool
	undo []func()
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txKey{}).(*memTx)
	return tx
}

// Do runs fn as one unit: ledger and history changes made through the
// context it passes are undone together if fn fails. Nested calls join the
// outer unit.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx := &memTx{held: make(map[*account]bool)}
	committed := false
	defer func() {
		if !committed {
			for i := len(tx.undo) - 1; i >= 0; i-- {
				tx.undo[i]()
			}
		}
		for a := range tx.held {
			a.mu.Unlock()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	committed = true
	return nil
}

// lock acquires a and returns its release. Inside a unit the account stays
// held until the unit ends.
func lock(ctx context.Context, a *account) func() {
	tx := txFrom(ctx)
	if tx == nil {
		a.mu.Lock()
		return a.mu.Unlock
	}
	if !tx.held[a] {
		a.mu.Lock()
		tx.held[a] = true
	}
	return func() {}
}

func onRollback(ctx context.Context, fn func()) {
	if tx := txFrom(ctx); tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

// ── Ledger ───────────────────────────────────────────

func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	a := s.account(accountID)
	defer lock(ctx, a)()
	return a.balance, nil
}

func (s *Store) DebitCredit(ctx context.Context, wagerID, accountID string, debit, credit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	if debit < 0 || credit < 0 {
		return 0, fmt.Errorf("%w: negative movement", model.ErrValidation)
	}
	a := s.account(accountID)
	defer lock(ctx, a)()

	if bal, ok := a.applied[wagerID]; ok {
		return bal, nil
	}
	if a.balance < debit {
		return 0, fmt.Errorf("%w: need %d, have %d", model.ErrInsufficientFunds, debit, a.balance)
	}
	a.undoOnRollback(ctx, wagerID)
	a.balance -= debit
	a.line(s.now(), accountID, wagerID, model.ReasonStake, -debit)
	if credit > 0 {
		a.balance += credit
		a.line(s.now(), accountID, wagerID, model.ReasonPayout, credit)
	}
	a.applied[wagerID] = a.balance
	return a.balance, nil
}

func (s *Store) Deposit(ctx context.Context, ref, accountID string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	a := s.account(accountID)
	defer lock(ctx, a)()

	if bal, ok := a.applied[ref]; ok {
		return bal, nil
	}
	a.undoOnRollback(ctx, ref)
	a.balance += amount
	a.line(s.now(), accountID, ref, model.ReasonDeposit, amount)
	a.applied[ref] = a.balance
	return a.balance, nil
}

// undoOnRollback restores the balance and lines as they are now if the
// enclosing unit fails. The account is held until then.
func (a *account) undoOnRollback(ctx context.Context, ref string) {
	bal, n := a.balance, len(a.lines)
	onRollback(ctx, func() {
		a.balance = bal
		a.lines = a.lines[:n]
		delete(a.applied, ref)
	})
}

func (a *account) line(at time.Time, accountID, ref string, reason model.LedgerReason, amount int64) {
	a.lines = append(a.lines, model.LedgerLine{
		ID:           int64(len(a.lines) + 1),
		AccountID:    accountID,
		WagerID:      ref,
		Reason:       reason,
		Amount:       amount,
		BalanceAfter: a.balance,
		CreatedAt:    at,
	})
}

// Lines returns a copy of the account's ledger lines in order.
func (s *Store) Lines(accountID string) []model.LedgerLine {
	a := s.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.LedgerLine(nil), a.lines...)
}

// ListLedger returns up to limit lines, newest first.
func (s *Store) ListLedger(ctx context.Context, accountID string, limit int) ([]model.LedgerLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	a := s.account(accountID)
	defer lock(ctx, a)()
	out := make([]model.LedgerLine, 0, len(a.lines))
	for i := len(a.lines) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, a.lines[i])
	}
	return out, nil
}

// ── History ──────────────────────────────────────────

func (s *Store) Append(ctx context.Context, rec model.SettlementRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if _, ok := s.byID[rec.ID]; ok {
		return nil
	}
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	onRollback(ctx, func() { s.removeRecord(rec.ID) })
	return nil
}

func (s *Store) removeRecord(id string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	delete(s.byID, id)
	for j := i; j < len(s.records); j++ {
		s.byID[s.records[j].ID] = j
	}
}

func (s *Store) Get(ctx context.Context, id string) (*model.SettlementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: wager %s", model.ErrNotFound, id)
	}
	rec := s.records[i]
	return &rec, nil
}

// Records returns a copy of all settlement records in append order.
func (s *Store) Records() []model.SettlementRecord {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	return append([]model.SettlementRecord(nil), s.records...)
}

func (s *Store) Aggregate(ctx context.Context, q model.StatsQuery) (model.Totals, error) {
	if err := ctx.Err(); err != nil {
		return model.Totals{}, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	var tot model.Totals
	for _, r := range s.records {
		if q.AccountID != "" && r.AccountID != q.AccountID {
			continue
		}
		if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
			continue
		}
		tot.Add(r)
	}
	return tot, nil
}

func (s *Store) Leaderboard(ctx context.Context, q model.LeaderboardQuery) ([]model.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	s.hmu.RLock()
	var out []model.LeaderboardEntry
	for _, r := range s.records {
		if r.Payout <= 0 {
			continue
		}
		if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, model.LeaderboardEntry{
			WagerID:     r.ID,
			AccountID:   r.AccountID,
			SelectionID: r.SelectionID,
			Stake:       r.Stake,
			Odds:        r.Odds,
			Payout:      r.Payout,
			CreatedAt:   r.CreatedAt,
		})
	}
	s.hmu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Payout != out[j].Payout {
			return out[i].Payout > out[j].Payout
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
