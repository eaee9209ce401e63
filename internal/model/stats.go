package model

// Derive computes the ratio fields from raw totals. Ratios with a zero
// denominator are reported as 0.
func (t Totals) Derive() Stats {
	s := Stats{Totals: t, NetProfit: t.Payouts - t.Stakes}
	if t.Wagers > 0 {
		s.WinRate = float64(t.Wins) / float64(t.Wagers) * 100
	}
	if t.Stakes > 0 {
		s.HouseEdge = float64(t.Stakes-t.Payouts) / float64(t.Stakes) * 100
	}
	return s
}

// Add folds one settled record into the totals.
func (t *Totals) Add(r SettlementRecord) {
	t.Wagers++
	t.Stakes += r.Stake
	t.Payouts += r.Payout
	if r.Won {
		t.Wins++
	}
}
