package engine

import (
	"context"
	"fmt"

	"horse-wager/internal/model"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	maxLedgerLimit          = 200
)

// Stats aggregates settled wagers for one account, or the whole house when
// accountID is empty.
func (e *Engine) Stats(ctx context.Context, accountID string, w model.Window) (model.Stats, error) {
	tot, err := e.history.Aggregate(ctx, model.StatsQuery{
		AccountID: accountID,
		Since:     w.Since(e.cfg.Now()),
	})
	if err != nil {
		return model.Stats{}, fmt.Errorf("aggregate: %w", err)
	}
	return tot.Derive(), nil
}

// Leaderboard lists the largest winning payouts in the window.
func (e *Engine) Leaderboard(ctx context.Context, w model.Window, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	out, err := e.history.Leaderboard(ctx, model.LeaderboardQuery{
		Since: w.Since(e.cfg.Now()),
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	if out == nil {
		out = []model.LeaderboardEntry{}
	}
	return out, nil
}

// Wager returns the settlement record for id. Records of other accounts are
// reported as not found unless accountID is empty.
func (e *Engine) Wager(ctx context.Context, accountID, id string) (*model.SettlementRecord, error) {
	rec, err := e.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if accountID != "" && rec.AccountID != accountID {
		return nil, fmt.Errorf("%w: wager %s", model.ErrNotFound, id)
	}
	return rec, nil
}

// Ledger lists the newest ledger lines of an account.
func (e *Engine) Ledger(ctx context.Context, accountID string, limit int) ([]model.LedgerLine, error) {
	if limit <= 0 || limit > maxLedgerLimit {
		limit = maxLedgerLimit
	}
	out, err := e.ledger.ListLedger(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.LedgerLine{}
	}
	return out, nil
}

// ComputeEffectiveProbability exposes the controller used by the engine.
func (e *Engine) ComputeEffectiveProbability(bankroll, stake int64, rng RandomSource) (float64, string) {
	return e.prob.Compute(bankroll, stake, rng)
}
