package lobby

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-arena/internal/model"
)

// Outbound message types produced by sessions.
const (
	TypeLobbyState    = "LOBBY_STATE"
	TypeGameStarted   = "GAME_STARTED"
	TypeTick          = "TICK"
	TypePortfolio     = "PORTFOLIO"
	TypeLeaderboard   = "LEADERBOARD"
	TypeGameEnded     = "GAME_ENDED"
	TypeOrderAccepted = "ORDER_ACCEPTED"
)

// PlayerView is one entry of the lobby player list.
type PlayerView struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
}

// LobbyState is the session-state snapshot.
type LobbyState struct {
	Type      string       `json:"type"`
	LobbyID   string       `json:"lobbyId"`
	Status    model.Status `json:"status"`
	HostID    string       `json:"hostId"`
	Rules     model.Rules  `json:"rules"`
	Players   []PlayerView `json:"players"` // join order
	Seed      int64        `json:"seed"`
	Assets    []string     `json:"assets"`
	StartedAt *time.Time   `json:"startedAt,omitempty"`
	EndsAt    *time.Time   `json:"endsAt,omitempty"`
}

type GameStarted struct {
	Type    string    `json:"type"`
	LobbyID string    `json:"lobbyId"`
	StartTs time.Time `json:"startTs"`
	EndTs   time.Time `json:"endTs"`
}

// Tick is the price broadcast of one tick-loop iteration.
type Tick struct {
	Type         string                     `json:"type"`
	LobbyID      string                     `json:"lobbyId"`
	Ts           time.Time                  `json:"ts"`
	Prices       map[string]decimal.Decimal `json:"prices"`
	RemainingSec int                        `json:"remainingSec"`
}

// PositionView is a position marked to the current price.
type PositionView struct {
	Qty           int64           `json:"qty"`
	AvgPrice      decimal.Decimal `json:"avg"`
	EntryTime     *time.Time      `json:"entryTs,omitempty"`
	Mark          decimal.Decimal `json:"mark"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}

// Portfolio is a player's individual account snapshot.
type Portfolio struct {
	Type          string                  `json:"type"`
	LobbyID       string                  `json:"lobbyId"`
	UserID        string                  `json:"userId"`
	Cash          decimal.Decimal         `json:"cash"`
	Positions     map[string]PositionView `json:"positions"`
	RealizedPnL   decimal.Decimal         `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal         `json:"unrealizedPnl"`
	Equity        decimal.Decimal         `json:"equity"`
	Trades        []model.TradeRecord     `json:"trades"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank          int             `json:"rank"`
	UserID        string          `json:"userId"`
	Name          string          `json:"name"`
	Equity        decimal.Decimal `json:"equity"`
	Cash          decimal.Decimal `json:"cash"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}

type Leaderboard struct {
	Type      string     `json:"type"`
	LobbyID   string     `json:"lobbyId"`
	Standings []Standing `json:"rows"`
}

type GameEnded struct {
	Type    string    `json:"type"`
	LobbyID string    `json:"lobbyId"`
	EndedAt time.Time `json:"endedAt"`
}

// OrderAccepted acknowledges a filled order to the player who placed it.
type OrderAccepted struct {
	Type  string          `json:"type"`
	Asset string          `json:"asset"`
	Side  model.Side      `json:"side"`
	Qty   int64           `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

// Summary is the compact listing entry of a session.
type Summary struct {
	LobbyID   string       `json:"lobbyId"`
	Status    model.Status `json:"status"`
	HostID    string       `json:"hostId"`
	Players   int          `json:"players"`
	CreatedAt time.Time    `json:"createdAt"`
}
