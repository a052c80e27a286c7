// Package exchange defines the gateway contract to the margin/futures
// exchange and its implementations: a deterministic mock for tests and
// simulation, a Binance USDT-M futures adapter, and a gated wrapper applying
// the shared rate-limit, retry and timeout policy.
package exchange

import (
	"context"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// Ack is the exchange's acknowledgment of an accepted submission.
type Ack struct {
	ExchangeID     int64
	Status         types.OrderStatus
	FilledQuantity float64
	AvgFillPrice   float64
	UpdateTime     int64
}

// Gateway executes primitive operations against the exchange. No strategy
// logic lives behind this interface; errors follow the documented contract
// (insufficient balance, below minimum notional, invalid precision, rate
// limit exceeded, order not found) as *types.ExchangeRejection values.
type Gateway interface {
	PlaceOrder(ctx context.Context, intent types.OrderIntent) (Ack, error)
	CancelOrder(ctx context.Context, symbol string, exchangeID int64) error
	GetOrderStatus(ctx context.Context, symbol string, exchangeID int64) (types.OrderEvent, error)
	// GetOrderByToken resolves an order by its client idempotency token,
	// the reconciliation path when a submission timed out before the
	// exchange id was learned.
	GetOrderByToken(ctx context.Context, symbol, token string) (types.OrderEvent, error)
	GetSymbolFilter(ctx context.Context, symbol string) (types.SymbolFilter, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}
