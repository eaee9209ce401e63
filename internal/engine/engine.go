package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse-wager/internal/logging"
	"horse-wager/internal/metrics"
	"horse-wager/internal/model"
)

// ── Collaborators ────────────────────────────────────

// LedgerStore owns account balances. DebitCredit is atomic per account and
// idempotent on wagerID.
type LedgerStore interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	DebitCredit(ctx context.Context, wagerID, accountID string, debit, credit int64) (int64, error)
	Deposit(ctx context.Context, ref, accountID string, amount int64) (int64, error)
	ListLedger(ctx context.Context, accountID string, limit int) ([]model.LedgerLine, error)
}

// HistoryStore keeps the append-only settlement records.
type HistoryStore interface {
	Append(ctx context.Context, rec model.SettlementRecord) error
	Get(ctx context.Context, id string) (*model.SettlementRecord, error)
	Aggregate(ctx context.Context, q model.StatsQuery) (model.Totals, error)
	Leaderboard(ctx context.Context, q model.LeaderboardQuery) ([]model.LeaderboardEntry, error)
}

// EventBus receives best-effort notifications after a wager commits.
type EventBus interface {
	PublishBigWin(ctx context.Context, ev model.BigWinEvent) error
	PublishSettlement(ctx context.Context, accountID string, res model.SettlementResult) error
}

// TxRunner runs fn in one unit of work; stores pick the transaction up from
// the context it passes.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type passthrough struct{}

func (passthrough) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// ── Config ───────────────────────────────────────────

type Config struct {
	MinBet          int64
	MaxBet          int64
	BigWinThreshold int64
	RetryAttempts   int
	RetryDelay      time.Duration
	PublishTimeout  time.Duration
	Regimes         []Regime

	// Source and Now default to NewWagerSource and time.Now.
	Source SourceFactory
	Now    func() time.Time
}

const maxRetryDelay = 1200 * time.Millisecond

func (c *Config) defaults() {
	if c.MinBet <= 0 {
		c.MinBet = 10
	}
	if c.MaxBet <= 0 {
		c.MaxBet = 10000
	}
	if c.BigWinThreshold <= 0 {
		c.BigWinThreshold = 500
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 50 * time.Millisecond
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
	if c.Source == nil {
		c.Source = NewWagerSource
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ── Engine ───────────────────────────────────────────

type Engine struct {
	cfg     Config
	prob    *ProbabilityController
	ledger  LedgerStore
	history HistoryStore
	bus     EventBus
	tx      TxRunner
	log     zerolog.Logger
}

// NewEngine wires the wager pipeline. bus may be nil, in which case events
// are dropped. A nil tx falls back to the ledger's own Do when it has one,
// and otherwise to running store calls without a shared transaction.
func NewEngine(cfg Config, ledger LedgerStore, history HistoryStore, bus EventBus, tx TxRunner) *Engine {
	cfg.defaults()
	if tx == nil {
		if r, ok := ledger.(TxRunner); ok {
			tx = r
		} else {
			tx = passthrough{}
		}
	}
	return &Engine{
		cfg:     cfg,
		prob:    NewProbabilityController(cfg.Regimes),
		ledger:  ledger,
		history: history,
		bus:     bus,
		tx:      tx,
		log:     logging.Component("engine"),
	}
}

// ── Place Wager ──────────────────────────────────────

func (e *Engine) PlaceWager(ctx context.Context, req model.WagerRequest) (model.SettlementResult, error) {
	odds, err := e.validate(req)
	if err != nil {
		metrics.Errors.WithLabelValues("validation").Inc()
		return model.SettlementResult{}, err
	}

	bankroll, err := e.ledger.GetBalance(ctx, req.AccountID)
	if err != nil {
		return model.SettlementResult{}, e.fail(req, err)
	}
	// Checked here so a hopeless wager never consumes a draw; the ledger
	// checks again under its lock.
	if req.Stake > bankroll {
		return model.SettlementResult{}, e.fail(req, fmt.Errorf("%w: stake %d, balance %d", model.ErrInsufficientFunds, req.Stake, bankroll))
	}

	rng := e.cfg.Source()
	p, regime := e.prob.Compute(bankroll, req.Stake, rng)
	won, err := Decide(p, rng)
	if err != nil {
		return model.SettlementResult{}, e.fail(req, err)
	}
	outcome, err := Simulate(req.Roster, req.SelectionID, won, rng)
	if err != nil {
		return model.SettlementResult{}, e.fail(req, err)
	}
	if (outcome.Winner() == req.SelectionID) != won {
		return model.SettlementResult{}, e.fail(req, fmt.Errorf("%w: race winner disagrees with decision", model.ErrIntegrity))
	}
	payout, err := Payout(req.Stake, odds, won)
	if err != nil {
		return model.SettlementResult{}, e.fail(req, err)
	}

	rec := model.SettlementRecord{
		ID:          uuid.NewString(),
		AccountID:   req.AccountID,
		SelectionID: req.SelectionID,
		Stake:       req.Stake,
		Odds:        odds,
		Roster:      req.Roster,
		Outcome:     outcome,
		Regime:      regime,
		Probability: p,
		Won:         won,
		Payout:      payout,
		CreatedAt:   e.cfg.Now().UTC(),
	}

	err = e.withRetry(ctx, func(ctx context.Context) error {
		return e.tx.Do(ctx, func(txCtx context.Context) error {
			bal, err := e.ledger.DebitCredit(txCtx, rec.ID, rec.AccountID, rec.Stake, rec.Payout)
			if err != nil {
				return err
			}
			rec.Balance = bal
			// Once the stake is taken the record must follow it, even if
			// the caller has gone away.
			return e.history.Append(context.WithoutCancel(txCtx), rec)
		})
	})
	if err != nil {
		return model.SettlementResult{}, e.fail(req, err)
	}

	res := model.SettlementResult{
		WagerID:     rec.ID,
		Won:         won,
		Payout:      payout,
		Regime:      regime,
		Probability: p,
		RaceOutcome: outcome,
		NewBalance:  rec.Balance,
	}

	metrics.ObserveSettlement(won, rec.Stake, payout, p)
	e.log.Info().
		Str("wager_id", rec.ID).
		Str("account_id", rec.AccountID).
		Str("regime", regime).
		Float64("probability", p).
		Bool("won", won).
		Int64("stake", rec.Stake).
		Int64("payout", payout).
		Int64("balance", rec.Balance).
		Msg("wager settled")

	e.publish(rec, res)
	return res, nil
}

func (e *Engine) validate(req model.WagerRequest) (float64, error) {
	if req.AccountID == "" {
		return 0, fmt.Errorf("%w: account required", model.ErrValidation)
	}
	if req.Stake < e.cfg.MinBet || req.Stake > e.cfg.MaxBet {
		return 0, fmt.Errorf("%w: stake must be %d-%d", model.ErrValidation, e.cfg.MinBet, e.cfg.MaxBet)
	}
	if len(req.Roster) < 2 {
		return 0, fmt.Errorf("%w: roster needs at least 2 competitors", model.ErrValidation)
	}
	seen := make(map[string]bool, len(req.Roster))
	odds := -1.0
	for _, c := range req.Roster {
		if c.ID == "" {
			return 0, fmt.Errorf("%w: competitor id required", model.ErrValidation)
		}
		if seen[c.ID] {
			return 0, fmt.Errorf("%w: duplicate competitor %q", model.ErrValidation, c.ID)
		}
		seen[c.ID] = true
		if math.IsNaN(c.Odds) || math.IsInf(c.Odds, 0) || c.Odds < 1 {
			return 0, fmt.Errorf("%w: odds for %q must be >= 1", model.ErrValidation, c.ID)
		}
		if c.ID == req.SelectionID {
			odds = c.Odds
		}
	}
	if odds < 0 {
		return 0, fmt.Errorf("%w: unknown selection %q", model.ErrValidation, req.SelectionID)
	}
	return odds, nil
}

// fail classifies err for metrics and logs integrity violations as defects.
func (e *Engine) fail(req model.WagerRequest, err error) error {
	switch {
	case errors.Is(err, model.ErrValidation):
		metrics.Errors.WithLabelValues("validation").Inc()
	case errors.Is(err, model.ErrInsufficientFunds):
		metrics.Errors.WithLabelValues("insufficient_funds").Inc()
	case errors.Is(err, model.ErrIntegrity):
		metrics.Errors.WithLabelValues("integrity").Inc()
		e.log.Error().Err(err).Bool("defect", true).
			Str("account_id", req.AccountID).Str("selection_id", req.SelectionID).Int64("stake", req.Stake).
			Msg("integrity violation")
	default:
		metrics.Errors.WithLabelValues("storage").Inc()
		e.log.Warn().Err(err).Str("account_id", req.AccountID).Msg("wager not settled")
		if !errors.Is(err, model.ErrStorage) {
			err = fmt.Errorf("%w: %v", model.ErrStorage, err)
		}
	}
	return err
}

// withRetry reruns fn while it fails with a storage error, doubling the delay
// up to maxRetryDelay.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := e.cfg.RetryDelay
	var err error
	for attempt := 0; attempt < e.cfg.RetryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !model.IsRetryable(err) {
			return err
		}
		if attempt == e.cfg.RetryAttempts-1 {
			break
		}
		metrics.SettleRetries.Inc()
		e.log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying settlement")
		if err := sleepWithContext(ctx, delay); err != nil {
			return fmt.Errorf("%w: %v", model.ErrStorage, err)
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// publish fans out after commit. It never blocks the caller.
func (e *Engine) publish(rec model.SettlementRecord, res model.SettlementResult) {
	if e.bus == nil {
		return
	}
	bigWin := rec.Payout > e.cfg.BigWinThreshold
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PublishTimeout)
		defer cancel()
		if err := e.bus.PublishSettlement(ctx, rec.AccountID, res); err != nil {
			metrics.PublishFailures.Inc()
			e.log.Warn().Err(err).Str("wager_id", rec.ID).Msg("settlement publish failed")
		}
		if !bigWin {
			return
		}
		ev := model.BigWinEvent{
			WagerID:     rec.ID,
			AccountID:   rec.AccountID,
			SelectionID: rec.SelectionID,
			Stake:       rec.Stake,
			Odds:        rec.Odds,
			Payout:      rec.Payout,
			At:          rec.CreatedAt,
		}
		if err := e.bus.PublishBigWin(ctx, ev); err != nil {
			metrics.PublishFailures.Inc()
			e.log.Warn().Err(err).Str("wager_id", rec.ID).Msg("big win publish failed")
		}
	}()
}

// ── Account operations ───────────────────────────────

func (e *Engine) Balance(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: account required", model.ErrValidation)
	}
	return e.ledger.GetBalance(ctx, accountID)
}

// Deposit credits amount to the account. ref makes the credit idempotent;
// an empty ref gets a fresh id.
func (e *Engine) Deposit(ctx context.Context, ref, accountID string, amount int64) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: account required", model.ErrValidation)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}
	if ref == "" {
		ref = uuid.NewString()
	}
	var bal int64
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		bal, err = e.ledger.Deposit(ctx, ref, accountID, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.ObserveDeposit(amount)
	e.log.Info().Str("account_id", accountID).Int64("amount", amount).Int64("balance", bal).Msg("deposit")
	return bal, nil
}
