package strategy

import (
	"testing"
	"time"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/exchange"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

var testFilter = types.SymbolFilter{
	Symbol:      "BTCUSDT",
	TickSize:    0.10,
	LotSize:     0.001,
	MinQuantity: 0.001,
	MaxQuantity: 10000,
	MinNotional: 5,
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// harness drives a machine the way the engine would: it executes each action
// list, auto-acks placements with NEW, and collects everything for assertion.
type harness struct {
	t       *testing.T
	m       Machine
	nextID  int64
	updTime int64

	placed  []types.OrderIntent
	cancels []CancelRef
	timers  []TimerReq
	ids     map[string]int64 // order token -> acked exchange id
}

func newHarness(t *testing.T, m Machine) *harness {
	return &harness{t: t, m: m, nextID: 1000, ids: make(map[string]int64)}
}

// drive executes actions: placements are acked with status NEW and the
// resulting follow-up actions are driven too. Cancels and timers are only
// collected; tests deliver their outcomes explicitly.
func (h *harness) drive(actions []Action) {
	for _, a := range actions {
		switch {
		case a.Place != nil:
			h.placed = append(h.placed, *a.Place)
			h.nextID++
			h.ids[a.Place.Token] = h.nextID
			ack := exchange.Ack{
				ExchangeID: h.nextID,
				Status:     types.StatusNew,
				UpdateTime: h.tick(),
			}
			h.drive(h.m.OnSubmitResult(SubmitResult{Token: a.Place.Token, Ack: ack}, t0))
		case a.Cancel != nil:
			h.cancels = append(h.cancels, *a.Cancel)
		case a.Timer != nil:
			h.timers = append(h.timers, *a.Timer)
		}
	}
}

// collect gathers actions without acking placements, for tests that control
// the submission outcome themselves.
func (h *harness) collect(actions []Action) {
	for _, a := range actions {
		switch {
		case a.Place != nil:
			h.placed = append(h.placed, *a.Place)
		case a.Cancel != nil:
			h.cancels = append(h.cancels, *a.Cancel)
		case a.Timer != nil:
			h.timers = append(h.timers, *a.Timer)
		}
	}
}

func (h *harness) tick() int64 {
	h.updTime++
	return h.updTime
}

// fill delivers a terminal FILLED record for the given placed order.
func (h *harness) fill(intent types.OrderIntent, exchangeID int64, price float64) {
	h.drive(h.m.OnOrderEvent(types.OrderRecord{
		Token:          intent.Token,
		ExchangeID:     exchangeID,
		InstanceID:     intent.InstanceID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Type:           intent.Type,
		Quantity:       intent.Quantity,
		Status:         types.StatusFilled,
		FilledQuantity: intent.Quantity,
		AvgFillPrice:   price,
		LastEventTime:  h.tick(),
	}, t0))
}

// canceled delivers a terminal CANCELED record with the given partial fill.
func (h *harness) canceled(intent types.OrderIntent, exchangeID int64, filled, price float64) {
	h.drive(h.m.OnOrderEvent(types.OrderRecord{
		Token:          intent.Token,
		ExchangeID:     exchangeID,
		InstanceID:     intent.InstanceID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Type:           intent.Type,
		Quantity:       intent.Quantity,
		Status:         types.StatusCanceled,
		FilledQuantity: filled,
		AvgFillPrice:   price,
		LastEventTime:  h.tick(),
	}, t0))
}

func (h *harness) lastPlaced() types.OrderIntent {
	if len(h.placed) == 0 {
		h.t.Fatal("no orders placed")
	}
	return h.placed[len(h.placed)-1]
}

func ack(id int64, status types.OrderStatus, filled, avg float64, upd int64) exchange.Ack {
	return exchange.Ack{ExchangeID: id, Status: status, FilledQuantity: filled, AvgFillPrice: avg, UpdateTime: upd}
}

func transientRejection() error {
	return &types.ExchangeRejection{Code: types.RejectRateLimit, Message: "too many requests", Transient: true}
}

func fatalRejection() error {
	return &types.ExchangeRejection{Code: types.RejectInsufficientBalance, Message: "insufficient balance"}
}

func notFoundRejection() error {
	return &types.ExchangeRejection{Code: types.RejectOrderNotFound, Message: "unknown order"}
}
