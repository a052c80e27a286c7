// Package strategy implements the OCO, TWAP and Grid state machines. Each
// machine is a pure transition function over its own state: inputs are order
// events, submission results and timer ticks, outputs are actions (place,
// cancel, schedule a timer). Machines never touch the exchange or the ledger
// directly; the engine executes their actions and feeds the outcomes back,
// so every transition for an instance happens on one serialized decision
// point.
package strategy

import (
	"errors"
	"time"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/exchange"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// CancelRef identifies a child order to cancel.
type CancelRef struct {
	Token      string
	Symbol     string
	ExchangeID int64
}

// TimerReq asks the engine to deliver OnTimer(ID) at time At.
type TimerReq struct {
	ID string
	At time.Time
}

// Action is one effect emitted by a transition. Exactly one field is set.
type Action struct {
	Place  *types.OrderIntent
	Cancel *CancelRef
	Timer  *TimerReq
}

// SubmitResult is the outcome of executing a Place action.
type SubmitResult struct {
	Token string
	Ack   exchange.Ack
	Err   error
}

// CancelResult is the outcome of executing a Cancel action. An order-not-found
// rejection means the order was already terminal: a harmless race, not an
// error.
type CancelResult struct {
	Token string
	Err   error
}

// Machine is one running strategy instance's transition logic.
type Machine interface {
	InstanceID() string
	Kind() types.StrategyKind
	State() types.StrategyState

	// Start emits the initial submissions and schedules.
	Start(now time.Time) []Action
	// OnOrderEvent receives the updated ledger record after an exchange
	// event was applied to it.
	OnOrderEvent(record types.OrderRecord, now time.Time) []Action
	OnSubmitResult(result SubmitResult, now time.Time) []Action
	OnCancelResult(result CancelResult, now time.Time) []Action
	OnTimer(id string, now time.Time) []Action
	// OnStop requests a safe shutdown; resting children are canceled and
	// nothing new is submitted once it returns.
	OnStop(now time.Time) []Action

	// Transitions drains the states entered since the last call, in order.
	// A single input can move a machine through several states; draining
	// after each dispatch lets the caller record every hop, not just the
	// endpoints.
	Transitions() []types.StrategyState

	Snapshot() types.InstanceSnapshot
}

const (
	// maxCancelAttempts bounds cancel retries before an instance is marked
	// TERMINAL_WITH_RESIDUE and surfaced for manual intervention.
	maxCancelAttempts = 3
	cancelRetryDelay  = 500 * time.Millisecond
)

func placeAction(intent types.OrderIntent) Action {
	return Action{Place: &intent}
}

func cancelAction(ref CancelRef) Action {
	return Action{Cancel: &ref}
}

func timerAction(id string, at time.Time) Action {
	return Action{Timer: &TimerReq{ID: id, At: at}}
}

// orderNotFound reports whether err is the already-terminal cancel race.
func orderNotFound(err error) bool {
	var rej *types.ExchangeRejection
	return errors.As(err, &rej) && rej.Code == types.RejectOrderNotFound
}
