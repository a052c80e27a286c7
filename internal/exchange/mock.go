package exchange

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// Mock simulates a futures exchange with a resting order book per symbol and
// an externally driven mark price. Limit orders rest until the mark price
// crosses them; market orders fill at the mark with configurable slippage.
// Latency and failure knobs mirror real exchange behavior for simulation
// runs; tests zero them out for determinism.
type Mock struct {
	mu      sync.Mutex
	prices  map[string]float64
	filters map[string]types.SymbolFilter
	orders  map[int64]*mockOrder
	nextID  int64
	seq     int64 // monotone update-time source

	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64 // 0-1, probability a submission is accepted
	Slippage    float64 // fractional slippage applied to market fills
}

type mockOrder struct {
	id     int64
	intent types.OrderIntent
	status types.OrderStatus
	filled float64
	avg    float64
	reason string
	update int64
}

// NewMock returns a mock exchange that always accepts and fills instantly.
func NewMock() *Mock {
	return &Mock{
		prices:      make(map[string]float64),
		filters:     make(map[string]types.SymbolFilter),
		orders:      make(map[int64]*mockOrder),
		SuccessRate: 1.0,
	}
}

// SetFilter registers the symbol's trading rules.
func (m *Mock) SetFilter(filter types.SymbolFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[filter.Symbol] = filter
}

// SetPrice moves the mark price and fills any resting orders it crosses.
func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.matchLocked(symbol, price)
}

// FillPartial fills part of a resting order, for driving partial-fill paths
// in tests and simulation.
func (m *Mock) FillPartial(exchangeID int64, quantity, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[exchangeID]
	if !ok || order.status.Terminal() {
		return
	}
	total := order.avg*order.filled + price*quantity
	order.filled += quantity
	order.avg = total / order.filled
	if order.filled >= order.intent.Quantity {
		order.filled = order.intent.Quantity
		order.status = types.StatusFilled
	} else {
		order.status = types.StatusPartiallyFilled
	}
	m.seq++
	order.update = m.seq
}

func (m *Mock) PlaceOrder(ctx context.Context, intent types.OrderIntent) (Ack, error) {
	m.simulateLatency(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SuccessRate < 1.0 && rand.Float64() > m.SuccessRate {
		return Ack{}, &types.ExchangeRejection{
			Code:      types.RejectRateLimit,
			Message:   "simulated transient rejection",
			Transient: true,
		}
	}

	mark, ok := m.prices[intent.Symbol]
	if !ok {
		return Ack{}, &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "unknown symbol " + intent.Symbol}
	}

	if filter, ok := m.filters[intent.Symbol]; ok && filter.MinNotional > 0 {
		ref := intent.Price
		if ref == 0 {
			ref = mark
		}
		if ref*intent.Quantity < filter.MinNotional {
			return Ack{}, &types.ExchangeRejection{Code: types.RejectBelowMinNotional, Message: "notional below symbol minimum"}
		}
	}

	m.nextID++
	m.seq++
	order := &mockOrder{id: m.nextID, intent: intent, status: types.StatusNew, update: m.seq}
	m.orders[order.id] = order

	switch intent.Type {
	case types.OrderTypeMarket:
		fillPrice := mark
		if intent.Side == types.SideBuy {
			fillPrice *= 1 + m.Slippage
		} else {
			fillPrice *= 1 - m.Slippage
		}
		m.fillLocked(order, fillPrice)
	case types.OrderTypeLimit:
		if crossed(intent.Side, intent.Price, mark) {
			m.fillLocked(order, intent.Price)
		}
	case types.OrderTypeStopLimit:
		// Rests until the stop triggers on a later price move.
	}

	log.Debug().
		Int64("exchange_id", order.id).
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Str("type", string(intent.Type)).
		Str("status", string(order.status)).
		Msg("mock exchange accepted order")

	return Ack{
		ExchangeID:     order.id,
		Status:         order.status,
		FilledQuantity: order.filled,
		AvgFillPrice:   order.avg,
		UpdateTime:     order.update,
	}, nil
}

func (m *Mock) CancelOrder(ctx context.Context, symbol string, exchangeID int64) error {
	m.simulateLatency(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[exchangeID]
	if !ok {
		return &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "unknown order"}
	}
	if order.status.Terminal() {
		return &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "order already " + string(order.status)}
	}
	order.status = types.StatusCanceled
	m.seq++
	order.update = m.seq
	return nil
}

func (m *Mock) GetOrderStatus(ctx context.Context, symbol string, exchangeID int64) (types.OrderEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[exchangeID]
	if !ok {
		return types.OrderEvent{}, &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "unknown order"}
	}
	return types.OrderEvent{
		ExchangeID:     order.id,
		Token:          order.intent.Token,
		Symbol:         order.intent.Symbol,
		Status:         order.status,
		FilledQuantity: order.filled,
		AvgFillPrice:   order.avg,
		Reason:         order.reason,
		UpdateTime:     order.update,
	}, nil
}

func (m *Mock) GetOrderByToken(ctx context.Context, symbol, token string) (types.OrderEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, order := range m.orders {
		if order.intent.Token == token {
			return types.OrderEvent{
				ExchangeID:     order.id,
				Token:          order.intent.Token,
				Symbol:         order.intent.Symbol,
				Status:         order.status,
				FilledQuantity: order.filled,
				AvgFillPrice:   order.avg,
				Reason:         order.reason,
				UpdateTime:     order.update,
			}, nil
		}
	}
	return types.OrderEvent{}, &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "no order with token " + token}
}

func (m *Mock) GetSymbolFilter(ctx context.Context, symbol string) (types.SymbolFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filter, ok := m.filters[symbol]
	if !ok {
		return types.SymbolFilter{}, &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "unknown symbol " + symbol}
	}
	return filter, nil
}

func (m *Mock) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[symbol]
	if !ok {
		return 0, &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "unknown symbol " + symbol}
	}
	return price, nil
}

// matchLocked fills resting orders crossed by the new mark price.
func (m *Mock) matchLocked(symbol string, mark float64) {
	for _, order := range m.orders {
		if order.intent.Symbol != symbol || order.status.Terminal() {
			continue
		}
		switch order.intent.Type {
		case types.OrderTypeLimit:
			if crossed(order.intent.Side, order.intent.Price, mark) {
				m.fillLocked(order, order.intent.Price)
			}
		case types.OrderTypeStopLimit:
			if stopTriggered(order.intent.Side, order.intent.StopPrice, mark) {
				m.fillLocked(order, order.intent.Price)
			}
		}
	}
}

func (m *Mock) fillLocked(order *mockOrder, price float64) {
	remaining := order.intent.Quantity - order.filled
	total := order.avg*order.filled + price*remaining
	order.filled = order.intent.Quantity
	order.avg = total / order.intent.Quantity
	order.status = types.StatusFilled
	m.seq++
	order.update = m.seq
}

func (m *Mock) simulateLatency(ctx context.Context) {
	if m.MaxLatency <= 0 {
		return
	}
	latency := m.MinLatency
	if span := m.MaxLatency - m.MinLatency; span > 0 {
		latency += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(latency):
	case <-ctx.Done():
	}
}

// crossed reports whether a limit order at price is marketable against mark.
func crossed(side types.Side, price, mark float64) bool {
	if side == types.SideBuy {
		return mark <= price
	}
	return mark >= price
}

// stopTriggered reports whether a stop order's trigger has been touched.
// Sell stops trigger when the mark falls to the stop, buy stops when it rises.
func stopTriggered(side types.Side, stop, mark float64) bool {
	if side == types.SideSell {
		return mark <= stop
	}
	return mark >= stop
}
