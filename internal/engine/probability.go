package engine

import (
	"fmt"
	"math"
)

// Ceiling switches a regime to its pullback probability once the bankroll
// passes a jittered threshold.
type Ceiling struct {
	Name        string  `yaml:"name"`
	Threshold   float64 `yaml:"threshold"`
	Jitter      float64 `yaml:"jitter"`
	Probability float64 `yaml:"probability"`
}

// Regime is one row of the probability table. Bounds are inclusive; a nil
// bound is open.
type Regime struct {
	Name    string   `yaml:"name"`
	Min     *int64   `yaml:"min"`
	Max     *int64   `yaml:"max"`
	Base    float64  `yaml:"base"`
	Ceiling *Ceiling `yaml:"ceiling"`
}

func (r Regime) contains(bankroll int64) bool {
	if r.Min != nil && bankroll < *r.Min {
		return false
	}
	if r.Max != nil && bankroll > *r.Max {
		return false
	}
	return true
}

func bound(v int64) *int64 { return &v }

// DefaultRegimes is evaluated top-down; the first band containing the
// bankroll wins, so honeymoon is shadowed by safety_net.
func DefaultRegimes() []Regime {
	return []Regime{
		{Name: "safety_net", Max: bound(999), Base: 0.55},
		{Name: "honeymoon", Min: bound(0), Max: bound(500), Base: 0.70},
		{Name: "building", Min: bound(501), Max: bound(1500), Base: 0.62},
		{Name: "early_hook", Min: bound(1501), Max: bound(2500), Base: 0.58,
			Ceiling: &Ceiling{Name: "ceiling_pullback", Threshold: 2300, Jitter: 0.08, Probability: 0.45}},
		{Name: "addiction_zone", Min: bound(2501), Max: bound(4000), Base: 0.52,
			Ceiling: &Ceiling{Name: "ceiling_pullback", Threshold: 3700, Jitter: 0.08, Probability: 0.43}},
		{Name: "five_k_ceiling", Min: bound(4001), Max: bound(5000), Base: 0.35,
			Ceiling: &Ceiling{Name: "drain_mode", Threshold: 4850, Jitter: 0.04, Probability: 0.25}},
		{Name: "drain_zone", Min: bound(5001), Max: bound(6000), Base: 0.30,
			Ceiling: &Ceiling{Name: "brutal_drain", Threshold: 5600, Jitter: 0.03, Probability: 0.20}},
		{Name: "emergency_drain", Min: bound(6001), Max: bound(7500), Base: 0.25,
			Ceiling: &Ceiling{Name: "emergency_pullback", Threshold: 7000, Jitter: 0.02, Probability: 0.15}},
		{Name: "elite_zone", Min: bound(7501), Max: bound(8500), Base: 0.35,
			Ceiling: &Ceiling{Name: "elite_pullback", Threshold: 8150, Jitter: 0.05, Probability: 0.25}},
		{Name: "gatekeeper", Min: bound(8501), Max: bound(9200), Base: 0.30,
			Ceiling: &Ceiling{Name: "gatekeeper_pullback", Threshold: 8900, Jitter: 0.04, Probability: 0.20}},
		{Name: "final_guardian", Min: bound(9201), Base: 0.25,
			Ceiling: &Ceiling{Name: "emergency_pullback", Threshold: 9500, Probability: 0.15}},
	}
}

// ValidateRegimes rejects tables that could yield an out-of-range
// probability or an unnamed regime.
func ValidateRegimes(regimes []Regime) error {
	if len(regimes) == 0 {
		return fmt.Errorf("regime table is empty")
	}
	for i, r := range regimes {
		if r.Name == "" {
			return fmt.Errorf("regime %d: name required", i)
		}
		if !inUnit(r.Base) {
			return fmt.Errorf("regime %s: base %v outside [0,1]", r.Name, r.Base)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("regime %s: min above max", r.Name)
		}
		if c := r.Ceiling; c != nil {
			if c.Name == "" {
				return fmt.Errorf("regime %s: ceiling name required", r.Name)
			}
			if !inUnit(c.Probability) {
				return fmt.Errorf("regime %s: pullback %v outside [0,1]", r.Name, c.Probability)
			}
			if c.Jitter < 0 || c.Jitter >= 1 {
				return fmt.Errorf("regime %s: jitter %v outside [0,1)", r.Name, c.Jitter)
			}
		}
	}
	return nil
}

func inUnit(p float64) bool { return !math.IsNaN(p) && p >= 0 && p <= 1 }

// ── Controller ───────────────────────────────────────

type ProbabilityController struct {
	regimes []Regime
}

func NewProbabilityController(regimes []Regime) *ProbabilityController {
	if len(regimes) == 0 {
		regimes = DefaultRegimes()
	}
	return &ProbabilityController{regimes: regimes}
}

// Compute returns the effective win probability for a wager of stake placed
// from bankroll, and the name of the regime that produced it. rng supplies
// the ceiling jitter.
func (c *ProbabilityController) Compute(bankroll, stake int64, rng RandomSource) (float64, string) {
	p, name := c.lookup(bankroll, rng)

	switch {
	case bankroll > 5000:
		p *= 0.70
	case bankroll > 4000:
		p *= 0.85
	}

	if bankroll > 5000 {
		ratio := float64(stake) / float64(bankroll)
		if ratio > 0.10 {
			switch {
			case ratio > 0.30:
				p *= 0.60
			case ratio > 0.20:
				p *= 0.75
			default:
				p *= 0.85
			}
		}
	}

	return math.Min(1, math.Max(0, p)), name
}

func (c *ProbabilityController) lookup(bankroll int64, rng RandomSource) (float64, string) {
	for _, r := range c.regimes {
		if !r.contains(bankroll) {
			continue
		}
		if cl := r.Ceiling; cl != nil {
			threshold := cl.Threshold
			if cl.Jitter > 0 {
				threshold *= 1 + (rng.Float64()*2-1)*cl.Jitter
			}
			if float64(bankroll) > threshold {
				return cl.Probability, cl.Name
			}
		}
		return r.Base, r.Name
	}
	// Unreachable with the default table; a custom table with gaps falls
	// back to the last row.
	last := c.regimes[len(c.regimes)-1]
	return last.Base, last.Name
}
