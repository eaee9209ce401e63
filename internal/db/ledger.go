package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"horse-wager/internal/model"
)

// ── Accounts ─────────────────────────────────────────

func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var bal int64
	err := s.conn(ctx).QueryRow(ctx, `SELECT balance FROM accounts WHERE id=$1`, accountID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return bal, classify(err)
}

// lockBalance reads the balance under a row lock. A missing account reads
// as zero and is not locked.
func (s *Store) lockBalance(ctx context.Context, accountID string) (int64, bool, error) {
	var bal int64
	err := s.conn(ctx).QueryRow(ctx, `SELECT balance FROM accounts WHERE id=$1 FOR UPDATE`, accountID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return bal, err == nil, err
}

// appliedBalance returns the balance recorded by the account's last line for
// ref, if ref was already applied to that account.
func (s *Store) appliedBalance(ctx context.Context, accountID, ref string) (int64, bool, error) {
	var bal int64
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT balance_after FROM ledger_lines WHERE account_id=$1 AND wager_id=$2 ORDER BY id DESC LIMIT 1`,
		accountID, ref,
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return bal, err == nil, err
}

func (s *Store) addBalance(ctx context.Context, accountID, ref string, reason model.LedgerReason, delta int64) (int64, error) {
	var bal int64
	err := s.conn(ctx).QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id=$2 RETURNING balance`,
		delta, accountID,
	).Scan(&bal)
	if err != nil {
		return 0, err
	}
	_, err = s.conn(ctx).Exec(ctx,
		`INSERT INTO ledger_lines (account_id, wager_id, reason, amount, balance_after) VALUES ($1,$2,$3,$4,$5)`,
		accountID, ref, reason, delta, bal,
	)
	return bal, err
}

// ── Ledger ───────────────────────────────────────────

// DebitCredit takes the stake and pays out in one transaction while holding
// the account row lock. A wagerID seen before returns its recorded balance.
func (s *Store) DebitCredit(ctx context.Context, wagerID, accountID string, debit, credit int64) (int64, error) {
	if debit < 0 || credit < 0 {
		return 0, fmt.Errorf("%w: negative movement", model.ErrValidation)
	}
	var bal int64
	err := s.Do(ctx, func(ctx context.Context) error {
		cur, found, err := s.lockBalance(ctx, accountID)
		if err != nil {
			return err
		}
		if prev, ok, err := s.appliedBalance(ctx, accountID, wagerID); err != nil {
			return err
		} else if ok {
			bal = prev
			return nil
		}
		if !found || cur < debit {
			return fmt.Errorf("%w: need %d, have %d", model.ErrInsufficientFunds, debit, cur)
		}
		if bal, err = s.addBalance(ctx, accountID, wagerID, model.ReasonStake, -debit); err != nil {
			return err
		}
		if credit > 0 {
			if bal, err = s.addBalance(ctx, accountID, wagerID, model.ReasonPayout, credit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return bal, nil
}

// Deposit creates the account on first use and credits amount once per ref.
func (s *Store) Deposit(ctx context.Context, ref, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}
	var bal int64
	err := s.Do(ctx, func(ctx context.Context) error {
		if _, err := s.conn(ctx).Exec(ctx,
			`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, accountID,
		); err != nil {
			return err
		}
		if _, _, err := s.lockBalance(ctx, accountID); err != nil {
			return err
		}
		if prev, ok, err := s.appliedBalance(ctx, accountID, ref); err != nil {
			return err
		} else if ok {
			bal = prev
			return nil
		}
		var err error
		bal, err = s.addBalance(ctx, accountID, ref, model.ReasonDeposit, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	return bal, nil
}

func (s *Store) ListLedger(ctx context.Context, accountID string, limit int) ([]model.LedgerLine, error) {
	query, args, err := psql.
		Select("id", "account_id", "wager_id", "reason", "amount", "balance_after", "created_at").
		From("ledger_lines").
		Where("account_id = ?", accountID).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.LedgerLine, 0, limit)
	for rows.Next() {
		var l model.LedgerLine
		if err := rows.Scan(&l.ID, &l.AccountID, &l.WagerID, &l.Reason, &l.Amount, &l.BalanceAfter, &l.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, l)
	}
	return out, classify(rows.Err())
}
