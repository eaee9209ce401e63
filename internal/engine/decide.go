package engine

import (
	"fmt"

	"horse-wager/internal/model"
)

// Decide draws once from rng and reports a win when the draw falls below p.
func Decide(p float64, rng RandomSource) (bool, error) {
	if !inUnit(p) {
		return false, fmt.Errorf("%w: probability %v outside [0,1]", model.ErrIntegrity, p)
	}
	return rng.Float64() < p, nil
}
