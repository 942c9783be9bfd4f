package lobby

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-arena/internal/model"
)

// valuation is an account marked to a set of prices.
type valuation struct {
	positions  map[string]PositionView
	unrealized decimal.Decimal
	equity     decimal.Decimal
}

// markToMarket values acct at marks. Equity is cash plus the signed market
// value of every holding, so a short subtracts its buy-back liability.
func markToMarket(acct *model.Account, marks map[string]decimal.Decimal) valuation {
	v := valuation{
		positions: make(map[string]PositionView, len(acct.Positions)),
		equity:    acct.Cash,
	}
	for asset, pos := range acct.Positions {
		mark := marks[asset]
		q := decimal.NewFromInt(pos.Qty)
		var upnl decimal.Decimal
		switch {
		case pos.Qty > 0:
			upnl = mark.Sub(pos.AvgPrice).Mul(q)
		case pos.Qty < 0:
			upnl = pos.AvgPrice.Sub(mark).Mul(q.Neg())
		}
		v.positions[asset] = PositionView{
			Qty:           pos.Qty,
			AvgPrice:      pos.AvgPrice,
			EntryTime:     pos.EntryTime,
			Mark:          mark,
			UnrealizedPnL: upnl,
		}
		v.unrealized = v.unrealized.Add(upnl)
		v.equity = v.equity.Add(q.Mul(mark))
	}
	return v
}

func portfolioOf(lobbyID string, acct *model.Account, marks map[string]decimal.Decimal) Portfolio {
	v := markToMarket(acct, marks)
	trades := make([]model.TradeRecord, len(acct.Trades))
	copy(trades, acct.Trades)
	return Portfolio{
		Type:          TypePortfolio,
		LobbyID:       lobbyID,
		UserID:        acct.ID,
		Cash:          acct.Cash,
		Positions:     v.positions,
		RealizedPnL:   acct.RealizedPnL,
		UnrealizedPnL: v.unrealized,
		Equity:        v.equity,
		Trades:        trades,
	}
}

// rank orders players by equity, then realized PnL, then name and id so the
// ranking is total and stable across ticks.
func rank(lobbyID string, accts []*model.Account, marks map[string]decimal.Decimal) Leaderboard {
	rows := make([]Standing, 0, len(accts))
	for _, a := range accts {
		v := markToMarket(a, marks)
		rows = append(rows, Standing{
			UserID:        a.ID,
			Name:          a.Name,
			Equity:        v.equity,
			Cash:          a.Cash,
			RealizedPnL:   a.RealizedPnL,
			UnrealizedPnL: v.unrealized,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if c := a.Equity.Cmp(b.Equity); c != 0 {
			return c > 0
		}
		if c := a.RealizedPnL.Cmp(b.RealizedPnL); c != 0 {
			return c > 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.UserID < b.UserID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return Leaderboard{Type: TypeLeaderboard, LobbyID: lobbyID, Standings: rows}
}
