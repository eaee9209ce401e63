package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"horse-wager/internal/model"
)

// ── Settlement Records ───────────────────────────────

// Append writes rec once; replaying the same id is a no-op. Rows are
// immutable, a trigger rejects UPDATE and DELETE.
func (s *Store) Append(ctx context.Context, rec model.SettlementRecord) error {
	roster, err := json.Marshal(rec.Roster)
	if err != nil {
		return fmt.Errorf("%w: roster: %v", model.ErrIntegrity, err)
	}
	outcome, err := json.Marshal(rec.Outcome)
	if err != nil {
		return fmt.Errorf("%w: outcome: %v", model.ErrIntegrity, err)
	}
	query, args, err := psql.
		Insert("wager_records").
		Columns("id", "account_id", "selection_id", "stake", "odds", "roster", "outcome",
			"regime", "probability", "won", "payout", "balance", "created_at").
		Values(rec.ID, rec.AccountID, rec.SelectionID, rec.Stake, rec.Odds, string(roster), string(outcome),
			rec.Regime, rec.Probability, rec.Won, rec.Payout, rec.Balance, rec.CreatedAt).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).Exec(ctx, query, args...)
	return classify(err)
}

func (s *Store) Get(ctx context.Context, id string) (*model.SettlementRecord, error) {
	query, args, err := psql.
		Select("id", "account_id", "selection_id", "stake", "odds", "roster", "outcome",
			"regime", "probability", "won", "payout", "balance", "created_at").
		From("wager_records").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var (
		r               model.SettlementRecord
		roster, outcome []byte
	)
	err = s.conn(ctx).QueryRow(ctx, query, args...).Scan(&r.ID, &r.AccountID, &r.SelectionID, &r.Stake, &r.Odds,
		&roster, &outcome, &r.Regime, &r.Probability, &r.Won, &r.Payout, &r.Balance, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: wager %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	if err := json.Unmarshal(roster, &r.Roster); err != nil {
		return nil, fmt.Errorf("%w: roster: %v", model.ErrIntegrity, err)
	}
	if err := json.Unmarshal(outcome, &r.Outcome); err != nil {
		return nil, fmt.Errorf("%w: outcome: %v", model.ErrIntegrity, err)
	}
	return &r, nil
}

// ── Aggregates ───────────────────────────────────────

func scope(b sq.SelectBuilder, q model.StatsQuery) sq.SelectBuilder {
	if q.AccountID != "" {
		b = b.Where(sq.Eq{"account_id": q.AccountID})
	}
	if !q.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": q.Since})
	}
	return b
}

func (s *Store) Aggregate(ctx context.Context, q model.StatsQuery) (model.Totals, error) {
	query, args, err := scope(psql.
		Select("COUNT(*)", "COUNT(*) FILTER (WHERE won)", "COALESCE(SUM(stake),0)", "COALESCE(SUM(payout),0)").
		From("wager_records"), q).
		ToSql()
	if err != nil {
		return model.Totals{}, err
	}
	var t model.Totals
	err = s.conn(ctx).QueryRow(ctx, query, args...).Scan(&t.Wagers, &t.Wins, &t.Stakes, &t.Payouts)
	return t, classify(err)
}

func (s *Store) Leaderboard(ctx context.Context, q model.LeaderboardQuery) ([]model.LeaderboardEntry, error) {
	b := scope(psql.
		Select("id", "account_id", "selection_id", "stake", "odds", "payout", "created_at").
		From("wager_records").
		Where(sq.Gt{"payout": 0}), model.StatsQuery{Since: q.Since}).
		OrderBy("payout DESC", "created_at DESC")
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.WagerID, &e.AccountID, &e.SelectionID, &e.Stake, &e.Odds, &e.Payout, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}
