package engine

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"horse-wager/internal/model"
)

// MaxPayoutMultiple caps any payout at stake times this value.
const MaxPayoutMultiple = 20

// Payout returns stake*odds rounded half-up on a win and 0 on a loss.
func Payout(stake int64, odds float64, won bool) (int64, error) {
	if !won {
		return 0, nil
	}
	if math.IsNaN(odds) || math.IsInf(odds, 0) {
		return 0, fmt.Errorf("%w: odds %v", model.ErrIntegrity, odds)
	}
	// NewFromFloat uses the shortest representation, so 2.3 stays 2.3.
	amount := decimal.NewFromInt(stake).Mul(decimal.NewFromFloat(odds)).Round(0)
	limit := decimal.NewFromInt(stake * MaxPayoutMultiple)
	if amount.GreaterThan(limit) {
		return 0, fmt.Errorf("%w: payout %s exceeds %s", model.ErrIntegrity, amount, limit)
	}
	return amount.IntPart(), nil
}
