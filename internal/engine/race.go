package engine

import (
	"fmt"
	"math"

	"horse-wager/internal/model"
)

const (
	winnerBaseTime   = 58.0
	winnerTimeSpread = 4.0
	minGap           = 0.10
	gapSpread        = 0.90
)

// Simulate builds a finishing order consistent with the decision: on a win the
// selection finishes first, on a loss another competitor does and the
// selection lands on a uniform non-winning rank. The remaining field is
// shuffled uniformly.
func Simulate(roster []model.Competitor, selectionID string, won bool, rng RandomSource) (model.RaceOutcome, error) {
	n := len(roster)
	if n < 2 {
		return nil, fmt.Errorf("%w: roster needs at least 2 competitors", model.ErrValidation)
	}
	sel := -1
	others := make([]string, 0, n-1)
	for i, c := range roster {
		if c.ID == selectionID && sel < 0 {
			sel = i
			continue
		}
		others = append(others, c.ID)
	}
	if sel < 0 {
		return nil, fmt.Errorf("%w: selection %q not in roster", model.ErrValidation, selectionID)
	}

	shuffle(others, rng)

	order := make([]string, 0, n)
	if won {
		order = append(order, selectionID)
		order = append(order, others...)
	} else {
		// others is already uniformly shuffled, so its head is a uniform
		// winner and the selection is inserted at a uniform rank 1..n-1.
		at := 1 + rng.IntN(n-1)
		order = append(order, others[:at]...)
		order = append(order, selectionID)
		order = append(order, others[at:]...)
	}

	out := make(model.RaceOutcome, n)
	t := winnerBaseTime + rng.Float64()*winnerTimeSpread
	for rank, id := range order {
		if rank > 0 {
			t += minGap + rng.Float64()*gapSpread
		}
		out[rank] = model.RaceEntry{CompetitorID: id, Rank: rank, FinishTime: roundMillis(t)}
	}
	return out, nil
}

func shuffle(ids []string, rng RandomSource) {
	for i := len(ids) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func roundMillis(t float64) float64 { return math.Round(t*1000) / 1000 }
