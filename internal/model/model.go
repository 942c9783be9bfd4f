// Package model defines the core domain types shared across the trading arena.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// PositionSide is the side of a position that a trade closed.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusLobby   Status = "LOBBY"
	StatusRunning Status = "RUNNING"
	StatusEnded   Status = "ENDED" // terminal
)

// Rules are fixed when a session is created and never change afterwards.
type Rules struct {
	StartingCapital decimal.Decimal
	TickInterval    time.Duration
	Duration        time.Duration
}

type rulesJSON struct {
	StartingCapital decimal.Decimal `json:"startingCapital"`
	TickSeconds     float64         `json:"tickSeconds"`
	DurationSec     float64         `json:"durationSec"`
}

// MarshalJSON renders intervals in seconds, the unit clients configure them in.
func (r Rules) MarshalJSON() ([]byte, error) {
	return json.Marshal(rulesJSON{
		StartingCapital: r.StartingCapital,
		TickSeconds:     r.TickInterval.Seconds(),
		DurationSec:     r.Duration.Seconds(),
	})
}

// Position is a signed holding in one asset: positive qty is long,
// negative is short. A flat position has a zero average and no entry time.
type Position struct {
	Qty       int64           `json:"qty"`
	AvgPrice  decimal.Decimal `json:"avg"`
	EntryTime *time.Time      `json:"entryTs,omitempty"`
}

// Flat reports whether the position holds nothing.
func (p Position) Flat() bool {
	return p.Qty == 0
}

// TradeRecord is an immutable record of a closed (or partially closed)
// position. Once appended to an account it is never modified.
type TradeRecord struct {
	Asset       string          `json:"asset"`
	Side        PositionSide    `json:"side"` // the side that was closed
	Qty         int64           `json:"qty"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	RealizedPnL decimal.Decimal `json:"pnl"`
	EntryTime   *time.Time      `json:"entryTs,omitempty"`
	ExitTime    time.Time       `json:"exitTs"`
}

// Account is a player's trading state inside one session. Cash is the only
// source of buying power. Accounts are mutated only by the execution engine.
type Account struct {
	ID          string
	Name        string
	Ready       bool
	Cash        decimal.Decimal
	Positions   map[string]Position
	RealizedPnL decimal.Decimal
	Trades      []TradeRecord
}

// NewAccount opens an account with a flat position slot for every asset.
func NewAccount(id, name string, cash decimal.Decimal, assets []string) *Account {
	positions := make(map[string]Position, len(assets))
	for _, a := range assets {
		positions[a] = Position{}
	}
	return &Account{
		ID:        id,
		Name:      name,
		Cash:      cash,
		Positions: positions,
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Positions = make(map[string]Position, len(a.Positions))
	for k, p := range a.Positions {
		if p.EntryTime != nil {
			t := *p.EntryTime
			p.EntryTime = &t
		}
		c.Positions[k] = p
	}
	if a.Trades != nil {
		c.Trades = make([]TradeRecord, len(a.Trades))
		copy(c.Trades, a.Trades)
	}
	return &c
}
