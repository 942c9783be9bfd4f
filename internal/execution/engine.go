// Package execution implements market-order execution against a player's
// account at the session's current price.
//
// There is no order book and no slippage: an order fills in full at the
// given price or not at all. BUY orders first cover an existing short and
// then open or extend a long; SELL orders first close an existing long and
// then open or extend a short. Opening or extending a short requires cash
// of at least the short notional before the proceeds are credited.
//
// Execution is atomic per account: the engine works on copies and commits
// them only once every check has passed, so a rejected order leaves the
// account exactly as it was.
package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-arena/internal/model"
)

var (
	// ErrInvalidOrder is returned for a bad asset, side, quantity or price.
	ErrInvalidOrder = errors.New("execution: invalid order")

	// ErrInsufficientCash is returned when cash cannot pay for a long.
	ErrInsufficientCash = errors.New("execution: insufficient cash")

	// ErrInsufficientCashToShort is returned when cash does not cover the
	// collateral of a new or extended short.
	ErrInsufficientCashToShort = errors.New("execution: insufficient cash to short")
)

// Fill describes an accepted order.
type Fill struct {
	Asset  string
	Side   model.Side
	Qty    int64
	Price  decimal.Decimal
	Closed []model.TradeRecord // trades realized by this order, if any
}

// Execute fills qty units of asset on side at price for acct.
//
// On success acct is updated in place. On error acct is untouched.
func Execute(acct *model.Account, asset string, side model.Side, qty int64, price decimal.Decimal, now time.Time) (Fill, error) {
	if !side.Valid() {
		return Fill{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, side)
	}
	if qty <= 0 {
		return Fill{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, qty)
	}
	if !price.IsPositive() {
		return Fill{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, price)
	}
	pos, ok := acct.Positions[asset]
	if !ok {
		return Fill{}, fmt.Errorf("%w: unknown asset %q", ErrInvalidOrder, asset)
	}

	// Work on copies; nothing below touches acct until commit.
	cash := acct.Cash
	realized := acct.RealizedPnL
	var closed []model.TradeRecord
	remaining := qty

	if side == model.Buy {
		// Cover short first.
		if pos.Qty < 0 {
			cover := min(remaining, -pos.Qty)
			buyBack := price.Mul(decimal.NewFromInt(cover))
			if cash.LessThan(buyBack) {
				// A short that ran far against the player can cost more
				// than the cash on hand; cash never goes negative.
				return Fill{}, ErrInsufficientCash
			}
			rec := closeTrade(asset, model.Short, cover, pos, price, now)
			closed = append(closed, rec)
			realized = realized.Add(rec.RealizedPnL)
			cash = cash.Sub(buyBack)
			pos.Qty += cover
			if pos.Qty == 0 {
				pos = model.Position{}
			}
			remaining -= cover
		}

		// Open or extend long.
		if remaining > 0 {
			cost := price.Mul(decimal.NewFromInt(remaining))
			if cash.LessThan(cost) {
				return Fill{}, ErrInsufficientCash
			}
			if pos.Qty > 0 {
				pos.AvgPrice = blend(pos.AvgPrice, pos.Qty, price, remaining)
			} else {
				pos.AvgPrice = price
			}
			if pos.Qty == 0 {
				pos.EntryTime = timePtr(now)
			}
			pos.Qty += remaining
			cash = cash.Sub(cost)
		}
	} else {
		// Close long first.
		if pos.Qty > 0 {
			closeQty := min(remaining, pos.Qty)
			rec := closeTrade(asset, model.Long, closeQty, pos, price, now)
			closed = append(closed, rec)
			realized = realized.Add(rec.RealizedPnL)
			cash = cash.Add(price.Mul(decimal.NewFromInt(closeQty)))
			pos.Qty -= closeQty
			if pos.Qty == 0 {
				pos = model.Position{}
			}
			remaining -= closeQty
		}

		// Open or extend short. Collateral is checked before proceeds are credited.
		if remaining > 0 {
			notional := price.Mul(decimal.NewFromInt(remaining))
			if cash.LessThan(notional) {
				return Fill{}, ErrInsufficientCashToShort
			}
			if pos.Qty < 0 {
				pos.AvgPrice = blend(pos.AvgPrice, -pos.Qty, price, remaining)
			} else {
				pos.AvgPrice = price
			}
			if pos.Qty == 0 {
				pos.EntryTime = timePtr(now)
			}
			pos.Qty -= remaining
			cash = cash.Add(notional)
		}
	}

	// Commit.
	acct.Cash = cash
	acct.RealizedPnL = realized
	acct.Positions[asset] = pos
	acct.Trades = append(acct.Trades, closed...)

	return Fill{
		Asset:  asset,
		Side:   side,
		Qty:    qty,
		Price:  price,
		Closed: closed,
	}, nil
}

// closeTrade books the realized PnL of closing qty units of pos at exit.
func closeTrade(asset string, side model.PositionSide, qty int64, pos model.Position, exit decimal.Decimal, now time.Time) model.TradeRecord {
	q := decimal.NewFromInt(qty)
	var pnl decimal.Decimal
	if side == model.Long {
		pnl = exit.Sub(pos.AvgPrice).Mul(q)
	} else {
		pnl = pos.AvgPrice.Sub(exit).Mul(q)
	}
	var entry *time.Time
	if pos.EntryTime != nil {
		entry = timePtr(*pos.EntryTime)
	}
	return model.TradeRecord{
		Asset:       asset,
		Side:        side,
		Qty:         qty,
		EntryPrice:  pos.AvgPrice,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		EntryTime:   entry,
		ExitTime:    now,
	}
}

// blend returns the size-weighted average of two fills.
func blend(avg decimal.Decimal, qty int64, price decimal.Decimal, added int64) decimal.Decimal {
	oldQ := decimal.NewFromInt(qty)
	addQ := decimal.NewFromInt(added)
	return avg.Mul(oldQ).Add(price.Mul(addQ)).Div(oldQ.Add(addQ))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
