package types

import (
	"time"

	"gorm.io/gorm"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// SymbolFilter holds the exchange trading rules for a symbol.
// Fetched once per symbol and never mutated by the engine.
type SymbolFilter struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tick_size"`
	LotSize     float64 `json:"lot_size"`
	MinQuantity float64 `json:"min_quantity"`
	MaxQuantity float64 `json:"max_quantity"`
	MinNotional float64 `json:"min_notional"`
}

// OrderIntent is a request to place one primitive order. Immutable once issued.
// Token is the client-assigned idempotency token, set before submission.
type OrderIntent struct {
	Token       string    `json:"token"`
	InstanceID  string    `json:"instance_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Type        OrderType `json:"order_type"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price,omitempty"`
	StopPrice   float64   `json:"stop_price,omitempty"`
	ReduceOnly  bool      `json:"reduce_only,omitempty"`
	PegToMarket bool      `json:"-"` // limit price resolved at submission time
}

// OrderRecord tracks a submitted primitive order in the ledger.
// ExchangeID is zero until the exchange acknowledges the order.
// Records are never deleted, only marked terminal, and are retained for audit.
type OrderRecord struct {
	gorm.Model     `json:"-"`
	Token          string      `gorm:"uniqueIndex" json:"token"`
	ExchangeID     int64       `gorm:"index" json:"exchange_id,omitempty"`
	InstanceID     string      `gorm:"index" json:"instance_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Type           OrderType   `json:"order_type"`
	Quantity       float64     `json:"quantity"`
	Price          float64     `json:"price,omitempty"`
	StopPrice      float64     `json:"stop_price,omitempty"`
	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	Reason         string      `json:"reason,omitempty"`
	LastEventTime  int64       `json:"last_event_time"` // exchange update time, ms
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// OrderEvent is one order-status update observed from the exchange feed.
// Delivery is at-least-once; UpdateTime is monotone per exchange order id and
// lets the ledger discard re-deliveries.
type OrderEvent struct {
	ExchangeID     int64       `json:"exchange_id,omitempty"`
	Token          string      `json:"token,omitempty"`
	Symbol         string      `json:"symbol"`
	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	Reason         string      `json:"reason,omitempty"`
	UpdateTime     int64       `json:"update_time"`
}
