package engine

import (
	"errors"
	"fmt"
	"testing"

	"horse-wager/internal/model"
)

func roster(n int) []model.Competitor {
	out := make([]model.Competitor, n)
	for i := range out {
		out[i] = model.Competitor{ID: fmt.Sprintf("c%d", i+1), Name: fmt.Sprintf("Horse %d", i+1), Odds: 2.0}
	}
	return out
}

func checkOutcome(t *testing.T, out model.RaceOutcome, n int) {
	t.Helper()
	if len(out) != n {
		t.Fatalf("expected %d entries, got %d", n, len(out))
	}
	seen := map[string]bool{}
	for i, e := range out {
		if e.Rank != i {
			t.Fatalf("entry %d has rank %d", i, e.Rank)
		}
		if seen[e.CompetitorID] {
			t.Fatalf("competitor %s placed twice", e.CompetitorID)
		}
		seen[e.CompetitorID] = true
		if i > 0 && e.FinishTime <= out[i-1].FinishTime {
			t.Fatalf("finish times not strictly increasing at rank %d: %v <= %v", i, e.FinishTime, out[i-1].FinishTime)
		}
	}
	if out[0].FinishTime < 58 || out[0].FinishTime > 62 {
		t.Fatalf("winner time %v outside [58,62]", out[0].FinishTime)
	}
}

func TestSimulateWinPlacesSelectionFirst(t *testing.T) {
	rng := NewSeededSource(7)
	for n := 2; n <= 10; n++ {
		for i := 0; i < 200; i++ {
			r := roster(n)
			sel := r[i%n].ID
			out, err := Simulate(r, sel, true, rng)
			if err != nil {
				t.Fatalf("simulate: %v", err)
			}
			checkOutcome(t, out, n)
			if out.Winner() != sel {
				t.Fatalf("n=%d: expected %s to win, got %s", n, sel, out.Winner())
			}
		}
	}
}

func TestSimulateLossNeverPlacesSelectionFirst(t *testing.T) {
	rng := NewSeededSource(11)
	for n := 2; n <= 10; n++ {
		for i := 0; i < 200; i++ {
			r := roster(n)
			sel := r[i%n].ID
			out, err := Simulate(r, sel, false, rng)
			if err != nil {
				t.Fatalf("simulate: %v", err)
			}
			checkOutcome(t, out, n)
			if rank := out.RankOf(sel); rank < 1 {
				t.Fatalf("n=%d: selection finished at rank %d on a loss", n, rank)
			}
		}
	}
}

func TestSimulateFixedDrawsStayOrdered(t *testing.T) {
	for _, f := range []float64{0, 0.5, 0.999999} {
		out, err := Simulate(roster(8), "c3", false, fixedSource{f: f, i: 3})
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		checkOutcome(t, out, 8)
		if out.RankOf("c3") != 4 {
			t.Fatalf("expected c3 at rank 4, got %d", out.RankOf("c3"))
		}
	}
}

func TestSimulateRejectsBadInput(t *testing.T) {
	if _, err := Simulate(roster(1), "c1", true, NewSeededSource(1)); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for single runner, got %v", err)
	}
	if _, err := Simulate(roster(4), "nope", true, NewSeededSource(1)); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for unknown selection, got %v", err)
	}
}

// chiSquare returns the statistic for counts against a uniform expectation.
func chiSquare(counts []int, total int) float64 {
	exp := float64(total) / float64(len(counts))
	var x float64
	for _, c := range counts {
		d := float64(c) - exp
		x += d * d / exp
	}
	return x
}

// 6 degrees of freedom; 30 is far beyond the 0.001 critical value (22.46).
const chiCritical = 30.0

func TestSimulateWinnerFieldIsUniform(t *testing.T) {
	const runs = 10000
	rng := NewSeededSource(2024)
	r := roster(8)
	counts := map[string][]int{}
	for _, c := range r[1:] {
		counts[c.ID] = make([]int, 7)
	}
	for i := 0; i < runs; i++ {
		out, err := Simulate(r, "c1", true, rng)
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		for _, e := range out[1:] {
			counts[e.CompetitorID][e.Rank-1]++
		}
	}
	for id, c := range counts {
		if x := chiSquare(c, runs); x > chiCritical {
			t.Fatalf("%s rank distribution not uniform: chi2=%.2f counts=%v", id, x, c)
		}
	}
}

func TestSimulateLossIsUniform(t *testing.T) {
	const runs = 10000
	rng := NewSeededSource(99)
	r := roster(8)
	selRanks := make([]int, 7)
	winners := map[string]int{}
	for i := 0; i < runs; i++ {
		out, err := Simulate(r, "c1", false, rng)
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		selRanks[out.RankOf("c1")-1]++
		winners[out.Winner()]++
	}
	if x := chiSquare(selRanks, runs); x > chiCritical {
		t.Fatalf("selection rank not uniform: chi2=%.2f counts=%v", x, selRanks)
	}
	w := make([]int, 0, 7)
	for _, c := range r[1:] {
		w = append(w, winners[c.ID])
	}
	if x := chiSquare(w, runs); x > chiCritical {
		t.Fatalf("winner not uniform among others: chi2=%.2f counts=%v", x, w)
	}
}
