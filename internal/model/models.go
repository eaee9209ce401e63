package model

import "time"

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type LedgerReason string

const (
	ReasonStake   LedgerReason = "wager_stake"
	ReasonPayout  LedgerReason = "wager_payout"
	ReasonDeposit LedgerReason = "deposit"
)

type Window string

const (
	WindowAll   Window = "all"
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// Since returns the lower bound of the window relative to now, or the zero
// time for WindowAll.
func (w Window) Since(now time.Time) time.Time {
	switch w {
	case WindowDay:
		return now.Add(-24 * time.Hour)
	case WindowWeek:
		return now.Add(-7 * 24 * time.Hour)
	case WindowMonth:
		return now.Add(-30 * 24 * time.Hour)
	}
	return time.Time{}
}

func ParseWindow(s string) (Window, bool) {
	switch Window(s) {
	case "", WindowAll:
		return WindowAll, true
	case WindowDay, WindowWeek, WindowMonth:
		return Window(s), true
	}
	return "", false
}

// ── Domain Objects ───────────────────────────────────

type Competitor struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Odds float64 `json:"odds"`
}

type RaceEntry struct {
	CompetitorID string  `json:"id"`
	Rank         int     `json:"rank"`
	FinishTime   float64 `json:"finishTime"`
}

// RaceOutcome is ordered by rank; index 0 is the winner.
type RaceOutcome []RaceEntry

func (o RaceOutcome) Winner() string {
	if len(o) == 0 {
		return ""
	}
	return o[0].CompetitorID
}

func (o RaceOutcome) RankOf(competitorID string) int {
	for _, e := range o {
		if e.CompetitorID == competitorID {
			return e.Rank
		}
	}
	return -1
}

type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LedgerLine struct {
	ID           int64        `json:"id"`
	AccountID    string       `json:"account_id"`
	WagerID      string       `json:"wager_id"`
	Reason       LedgerReason `json:"reason"`
	Amount       int64        `json:"amount"`
	BalanceAfter int64        `json:"balance_after"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SettlementRecord is the immutable audit row written once per settled wager.
type SettlementRecord struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	SelectionID string       `json:"selection_id"`
	Stake       int64        `json:"stake"`
	Odds        float64      `json:"odds"`
	Roster      []Competitor `json:"roster"`
	Outcome     RaceOutcome  `json:"outcome"`
	Regime      string       `json:"regime"`
	Probability float64      `json:"probability"`
	Won         bool         `json:"won"`
	Payout      int64        `json:"payout"`
	Balance     int64        `json:"balance"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ── Stats ────────────────────────────────────────────

// Totals are the raw sums over a set of settlement records.
type Totals struct {
	Wagers  int64 `json:"total_wagers"`
	Wins    int64 `json:"winning_wagers"`
	Stakes  int64 `json:"total_stakes"`
	Payouts int64 `json:"total_payouts"`
}

type Stats struct {
	Totals
	WinRate   float64 `json:"win_rate"`
	NetProfit int64   `json:"net_profit"`
	HouseEdge float64 `json:"house_edge"`
}

// StatsQuery scopes an aggregate. An empty AccountID means the whole house.
type StatsQuery struct {
	AccountID string
	Since     time.Time
}

type LeaderboardQuery struct {
	Since time.Time
	Limit int
}

type LeaderboardEntry struct {
	WagerID     string    `json:"wager_id"`
	AccountID   string    `json:"account_id"`
	SelectionID string    `json:"selection_id"`
	Stake       int64     `json:"stake"`
	Odds        float64   `json:"odds"`
	Payout      int64     `json:"payout"`
	CreatedAt   time.Time `json:"created_at"`
}

// ── Events ───────────────────────────────────────────

type BigWinEvent struct {
	WagerID     string    `json:"wager_id"`
	AccountID   string    `json:"account_id"`
	SelectionID string    `json:"selection_id"`
	Stake       int64     `json:"stake"`
	Odds        float64   `json:"odds"`
	Payout      int64     `json:"payout"`
	At          time.Time `json:"at"`
}

// ── API Types ────────────────────────────────────────

type WagerRequest struct {
	AccountID   string       `json:"accountId"`
	SelectionID string       `json:"selectionId"`
	Stake       int64        `json:"stake"`
	Roster      []Competitor `json:"roster"`
}

type SettlementResult struct {
	WagerID     string      `json:"wagerId"`
	Won         bool        `json:"won"`
	Payout      int64       `json:"payout"`
	Regime      string      `json:"regime"`
	Probability float64     `json:"probability"`
	RaceOutcome RaceOutcome `json:"raceOutcome"`
	NewBalance  int64       `json:"newBalance"`
}

type DepositReq struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}
