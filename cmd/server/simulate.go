package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"horse-wager/internal/config"
	"horse-wager/internal/engine"
	"horse-wager/internal/logging"
	"horse-wager/internal/memstore"
	"horse-wager/internal/model"
)

type regimeTally struct {
	draws int
	wins  int
	pSum  float64
}

type simOptions struct {
	bankroll int64
	stake    int64
	trials   int
	seed     uint64
	field    int
	odds     float64
	regimes  string
	walk     bool
}

func newSimulateCmd() *cobra.Command {
	var o simOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Sample the regime table offline",
		Long: "Without --walk, draws repeatedly at a fixed bankroll and reports the effective\n" +
			"probability and realised win rate per regime. With --walk, settles wagers\n" +
			"back to back against an in-memory ledger until the bankroll cannot cover the stake.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup("warn", false)
			var regimes []engine.Regime
			if o.regimes != "" {
				r, err := config.LoadRegimes(o.regimes)
				if err != nil {
					return err
				}
				regimes = r
			}
			if o.walk {
				return runWalk(cmd.Context(), o, regimes)
			}
			return runProbe(o, regimes)
		},
	}
	f := cmd.Flags()
	f.Int64Var(&o.bankroll, "bankroll", 1000, "starting bankroll")
	f.Int64Var(&o.stake, "stake", 100, "stake per wager")
	f.IntVar(&o.trials, "trials", 10000, "number of wagers to sample")
	f.Uint64Var(&o.seed, "seed", 1, "random seed")
	f.IntVar(&o.field, "field", 6, "competitors per race (walk mode)")
	f.Float64Var(&o.odds, "odds", 2.0, "decimal odds of the selection (walk mode)")
	f.StringVar(&o.regimes, "regimes", "", "YAML regime table overriding the built-in one")
	f.BoolVar(&o.walk, "walk", false, "let the bankroll evolve across wagers")
	return cmd
}

func runProbe(o simOptions, regimes []engine.Regime) error {
	if o.trials <= 0 {
		return fmt.Errorf("trials must be positive")
	}
	ctrl := engine.NewProbabilityController(regimes)
	rng := engine.NewSeededSource(o.seed)
	tally := map[string]*regimeTally{}
	for i := 0; i < o.trials; i++ {
		p, name := ctrl.Compute(o.bankroll, o.stake, rng)
		won, err := engine.Decide(p, rng)
		if err != nil {
			return err
		}
		t := tally[name]
		if t == nil {
			t = &regimeTally{}
			tally[name] = t
		}
		t.draws++
		t.pSum += p
		if won {
			t.wins++
		}
	}

	accent.Printf("bankroll %d  stake %d  trials %d\n", o.bankroll, o.stake, o.trials)
	printTally(tally)
	return nil
}

func runWalk(ctx context.Context, o simOptions, regimes []engine.Regime) error {
	if o.field < 2 {
		return fmt.Errorf("field must have at least 2 competitors")
	}
	store := memstore.New()
	rng := engine.NewSeededSource(o.seed)
	eng := engine.NewEngine(engine.Config{
		Regimes: regimes,
		Source:  func() engine.RandomSource { return rng },
	}, store, store, nil, nil)

	if _, err := eng.Deposit(ctx, "sim-opening", "sim", o.bankroll); err != nil {
		return err
	}

	roster := make([]model.Competitor, o.field)
	for i := range roster {
		roster[i] = model.Competitor{ID: fmt.Sprintf("h%d", i+1), Name: fmt.Sprintf("Runner %d", i+1), Odds: o.odds}
	}

	tally := map[string]*regimeTally{}
	balance, peak, settled := o.bankroll, o.bankroll, 0
	for settled < o.trials {
		res, err := eng.PlaceWager(ctx, model.WagerRequest{
			AccountID:   "sim",
			SelectionID: "h1",
			Stake:       o.stake,
			Roster:      roster,
		})
		if errors.Is(err, model.ErrInsufficientFunds) {
			printWarn(fmt.Sprintf("bankroll exhausted after %d wagers", settled))
			break
		}
		if err != nil {
			return err
		}
		settled++
		balance = res.NewBalance
		peak = max(peak, balance)

		t := tally[res.Regime]
		if t == nil {
			t = &regimeTally{}
			tally[res.Regime] = t
		}
		t.draws++
		t.pSum += res.Probability
		if res.Won {
			t.wins++
		}
	}

	st, err := eng.Stats(ctx, "", model.WindowAll)
	if err != nil {
		return err
	}

	accent.Printf("walk from %d at stake %d, odds %.2f, field %d\n", o.bankroll, o.stake, o.odds, o.field)
	printTally(tally)
	printInfo(fmt.Sprintf("wagers %d  win rate %.2f%%  peak %d", st.Wagers, st.WinRate, peak))
	signed(-st.NetProfit).Printf("house edge %.2f%%\n", st.HouseEdge)
	signed(balance-o.bankroll).Printf("final balance %d (%+d)\n", balance, balance-o.bankroll)
	return nil
}

func printTally(tally map[string]*regimeTally) {
	names := make([]string, 0, len(tally))
	for name := range tally {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Printf("%-20s %8s %10s %10s\n", "regime", "draws", "mean p", "win rate")
	for _, name := range names {
		t := tally[name]
		fmt.Printf("%-20s %8d %10.4f %9.2f%%\n", name, t.draws, t.pSum/float64(t.draws), float64(t.wins)/float64(t.draws)*100)
	}
}
