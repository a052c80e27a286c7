// Package validator enforces symbol filters (tick size, lot size, minimum
// notional) on every order intent before it may be submitted. It is pure:
// no I/O, deterministic, and idempotent; validating an already validated
// intent returns it unchanged.
package validator

import (
	"github.com/shopspring/decimal"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// Validate rounds the intent onto the symbol's trading grid and checks the
// notional floor. Prices round toward the side that does not worsen
// execution: buy prices down, sell prices up. Quantities always round down
// to the lot size so the engine never submits more than it was asked for.
func Validate(intent types.OrderIntent, filter types.SymbolFilter) (types.OrderIntent, error) {
	if intent.Symbol == "" {
		return intent, &types.ValidationError{Field: "symbol", Reason: "symbol is required"}
	}
	if intent.Side != types.SideBuy && intent.Side != types.SideSell {
		return intent, &types.ValidationError{Field: "side", Reason: "side must be BUY or SELL"}
	}
	if intent.Quantity <= 0 {
		return intent, &types.ValidationError{Field: "quantity", Reason: "quantity must be positive"}
	}

	out := intent
	out.Quantity = roundQuantity(intent.Quantity, filter.LotSize)

	if out.Quantity <= 0 {
		return intent, &types.ValidationError{Field: "quantity", Reason: "quantity rounds to zero at lot size"}
	}
	if filter.MinQuantity > 0 && out.Quantity < filter.MinQuantity {
		return intent, &types.ValidationError{Field: "quantity", Reason: "quantity below symbol minimum"}
	}
	if filter.MaxQuantity > 0 && out.Quantity > filter.MaxQuantity {
		return intent, &types.ValidationError{Field: "quantity", Reason: "quantity above symbol maximum"}
	}

	switch intent.Type {
	case types.OrderTypeMarket:
		if intent.Price != 0 {
			return intent, &types.ValidationError{Field: "price", Reason: "market orders carry no price"}
		}
	case types.OrderTypeLimit:
		if intent.Price <= 0 && !intent.PegToMarket {
			return intent, &types.ValidationError{Field: "price", Reason: "limit orders require a positive price"}
		}
	case types.OrderTypeStopLimit:
		if intent.Price <= 0 || intent.StopPrice <= 0 {
			return intent, &types.ValidationError{Field: "stop_price", Reason: "stop-limit orders require positive price and stop price"}
		}
	default:
		return intent, &types.ValidationError{Field: "order_type", Reason: "unknown order type"}
	}

	if out.Price > 0 {
		out.Price = RoundPrice(intent.Price, filter.TickSize, intent.Side)
	}
	if out.StopPrice > 0 {
		// Stop triggers round the same direction as the limit price so the
		// trigger never lands on the worse side of the limit.
		out.StopPrice = RoundPrice(intent.StopPrice, filter.TickSize, intent.Side)
	}

	// The notional floor applies after rounding. Market and pegged orders are
	// checked at submission time, when a reference price is known.
	if out.Price > 0 && filter.MinNotional > 0 {
		if out.Price*out.Quantity < filter.MinNotional {
			return intent, types.ErrBelowMinNotional
		}
	}

	return out, nil
}

// RoundPrice snaps price onto the tick grid. Buys round down, sells round up,
// so the rounded order is never more aggressive than the requested one.
func RoundPrice(price, tickSize float64, side types.Side) float64 {
	if tickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(tickSize)
	steps := p.Div(tick)
	if side == types.SideBuy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	out, _ := steps.Mul(tick).Float64()
	return out
}

// roundQuantity rounds qty down to the lot-size grid.
func roundQuantity(qty, lotSize float64) float64 {
	if lotSize <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	lot := decimal.NewFromFloat(lotSize)
	out, _ := q.Div(lot).Floor().Mul(lot).Float64()
	return out
}

// RoundQuantityDown is the exported form used by strategy machines when
// pre-slicing quantities.
func RoundQuantityDown(qty, lotSize float64) float64 {
	return roundQuantity(qty, lotSize)
}
