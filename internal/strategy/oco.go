package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// OCO synthesizes a One-Cancels-Other pair from two primitive orders: a
// take-profit limit and a stop-loss stop-limit, both reduce-only on the same
// position. When one leg fills the sibling is canceled best-effort.
//
// States: INIT -> LEGS_SUBMITTED -> (ONE_FILLED | BOTH_REJECTED) -> TERMINAL.
type OCO struct {
	id     string
	params types.OCOParams
	filter types.SymbolFilter
	state  types.StrategyState

	tp ocoLeg
	sl ocoLeg

	cancelAttempts map[string]int
	warnings       []string
	residue        []string
	visited        []types.StrategyState // states entered since the last drain
	createdAt      time.Time
	updatedAt      time.Time
}

type ocoLeg struct {
	name       string
	token      string
	exchangeID int64
	status     types.OrderStatus
	filled     float64
	avgPrice   float64
	submitted  bool
}

// NewOCO validates the leg prices against the current mark price for the
// declared position side. For LONG the take profit must sit above the mark
// and the stop loss below; SHORT is the inverse.
func NewOCO(id string, params types.OCOParams, filter types.SymbolFilter, markPrice float64) (*OCO, error) {
	if params.Quantity <= 0 {
		return nil, &types.ValidationError{Field: "quantity", Reason: "quantity must be positive"}
	}
	if params.TakeProfitPrice <= 0 || params.StopLossPrice <= 0 {
		return nil, &types.ValidationError{Field: "price", Reason: "take profit and stop loss prices must be positive"}
	}
	if params.PositionSide == "" {
		params.PositionSide = types.PositionLong
	}

	switch params.PositionSide {
	case types.PositionLong:
		if params.TakeProfitPrice <= markPrice {
			return nil, &types.ValidationError{Field: "take_profit_price", Reason: fmt.Sprintf("take profit %.2f must be above mark %.2f for a LONG position", params.TakeProfitPrice, markPrice)}
		}
		if params.StopLossPrice >= markPrice {
			return nil, &types.ValidationError{Field: "stop_loss_price", Reason: fmt.Sprintf("stop loss %.2f must be below mark %.2f for a LONG position", params.StopLossPrice, markPrice)}
		}
	case types.PositionShort:
		if params.TakeProfitPrice >= markPrice {
			return nil, &types.ValidationError{Field: "take_profit_price", Reason: fmt.Sprintf("take profit %.2f must be below mark %.2f for a SHORT position", params.TakeProfitPrice, markPrice)}
		}
		if params.StopLossPrice <= markPrice {
			return nil, &types.ValidationError{Field: "stop_loss_price", Reason: fmt.Sprintf("stop loss %.2f must be above mark %.2f for a SHORT position", params.StopLossPrice, markPrice)}
		}
	default:
		return nil, &types.ValidationError{Field: "position_side", Reason: "position side must be LONG or SHORT"}
	}

	now := time.Now()
	return &OCO{
		id:             id,
		params:         params,
		filter:         filter,
		state:          types.StateInit,
		tp:             ocoLeg{name: "take_profit", token: uuid.New().String()},
		sl:             ocoLeg{name: "stop_loss", token: uuid.New().String()},
		cancelAttempts: make(map[string]int),
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

func (o *OCO) InstanceID() string         { return o.id }
func (o *OCO) Kind() types.StrategyKind   { return types.KindOCO }
func (o *OCO) State() types.StrategyState { return o.state }

// closeSide is the side that reduces the position: SELL for LONG, BUY for SHORT.
func (o *OCO) closeSide() types.Side {
	if o.params.PositionSide == types.PositionShort {
		return types.SideBuy
	}
	return types.SideSell
}

func (o *OCO) Start(now time.Time) []Action {
	o.transition(types.StateLegsSubmitted, now)
	side := o.closeSide()

	return []Action{
		placeAction(types.OrderIntent{
			Token:      o.tp.token,
			InstanceID: o.id,
			Symbol:     o.params.Symbol,
			Side:       side,
			Type:       types.OrderTypeLimit,
			Quantity:   o.params.Quantity,
			Price:      o.params.TakeProfitPrice,
			ReduceOnly: true,
		}),
		placeAction(types.OrderIntent{
			Token:      o.sl.token,
			InstanceID: o.id,
			Symbol:     o.params.Symbol,
			Side:       side,
			Type:       types.OrderTypeStopLimit,
			Quantity:   o.params.Quantity,
			Price:      o.params.StopLossPrice,
			StopPrice:  o.params.StopLossPrice,
			ReduceOnly: true,
		}),
	}
}

func (o *OCO) OnSubmitResult(result SubmitResult, now time.Time) []Action {
	leg := o.leg(result.Token)
	if leg == nil {
		return nil
	}
	leg.submitted = true

	if result.Err != nil {
		leg.status = types.StatusRejected
		o.warn("%s leg rejected: %v", leg.name, result.Err)
		if o.tp.status == types.StatusRejected && o.sl.status == types.StatusRejected {
			o.transition(types.StateBothRejected, now)
		}
		return o.resolveTerminal(now)
	}

	leg.exchangeID = result.Ack.ExchangeID
	if leg.status.Terminal() {
		// A monitor event outran the ack; the leg already resolved.
		return nil
	}
	leg.status = result.Ack.Status
	leg.filled = result.Ack.FilledQuantity
	leg.avgPrice = result.Ack.AvgFillPrice
	if leg.status == types.StatusFilled {
		return o.onLegFilled(leg, now)
	}
	if o.state == types.StateOneFilled || o.state == types.StateStopping {
		// The sibling resolved before this ack arrived; cancel now that the
		// exchange id is known.
		return []Action{cancelAction(CancelRef{Token: leg.token, Symbol: o.params.Symbol, ExchangeID: leg.exchangeID})}
	}
	return nil
}

func (o *OCO) OnOrderEvent(record types.OrderRecord, now time.Time) []Action {
	leg := o.leg(record.Token)
	if leg == nil {
		return nil
	}
	leg.exchangeID = record.ExchangeID
	leg.status = record.Status
	leg.filled = record.FilledQuantity
	leg.avgPrice = record.AvgFillPrice
	o.updatedAt = now

	if record.Status == types.StatusFilled {
		return append(o.onLegFilled(leg, now), o.resolveTerminal(now)...)
	}
	return o.resolveTerminal(now)
}

// onLegFilled cancels the sibling leg. At most one leg should rest; if the
// sibling has itself just filled this is a race the cancel resolves as a
// harmless no-op.
func (o *OCO) onLegFilled(filled *ocoLeg, now time.Time) []Action {
	if o.state == types.StateLegsSubmitted {
		o.transition(types.StateOneFilled, now)
	}

	sibling := o.sibling(filled.token)
	if sibling.status.Terminal() {
		return nil
	}
	if sibling.status == types.StatusFilled {
		log.Warn().Str("instance_id", o.id).Msg("both OCO legs filled: cancel raced a fill")
		return nil
	}
	if sibling.exchangeID == 0 {
		// Sibling ack not seen yet; the cancel goes out once it is.
		return nil
	}
	return []Action{cancelAction(CancelRef{Token: sibling.token, Symbol: o.params.Symbol, ExchangeID: sibling.exchangeID})}
}

func (o *OCO) OnCancelResult(result CancelResult, now time.Time) []Action {
	leg := o.leg(result.Token)
	if leg == nil {
		return nil
	}

	if result.Err == nil || orderNotFound(result.Err) {
		// Success, or the leg was already terminal. The final status comes
		// from the monitor; nothing more to do here.
		if orderNotFound(result.Err) {
			log.Info().Str("instance_id", o.id).Str("leg", leg.name).Msg("cancel raced leg resolution")
		}
		return nil
	}

	o.cancelAttempts[result.Token]++
	if o.cancelAttempts[result.Token] < maxCancelAttempts {
		return []Action{timerAction("cancel:"+result.Token, now.Add(cancelRetryDelay))}
	}

	o.residue = append(o.residue, result.Token)
	o.warn("cancel of %s leg unconfirmed after %d attempts", leg.name, maxCancelAttempts)
	return o.resolveTerminal(now)
}

func (o *OCO) OnTimer(id string, now time.Time) []Action {
	if len(id) > 7 && id[:7] == "cancel:" {
		token := id[7:]
		leg := o.leg(token)
		if leg == nil || leg.status.Terminal() || leg.exchangeID == 0 {
			return nil
		}
		return []Action{cancelAction(CancelRef{Token: token, Symbol: o.params.Symbol, ExchangeID: leg.exchangeID})}
	}
	return nil
}

func (o *OCO) OnStop(now time.Time) []Action {
	if o.state.Terminal() {
		return nil
	}
	o.transition(types.StateStopping, now)

	var actions []Action
	for _, leg := range []*ocoLeg{&o.tp, &o.sl} {
		if !leg.status.Terminal() && leg.exchangeID != 0 {
			actions = append(actions, cancelAction(CancelRef{Token: leg.token, Symbol: o.params.Symbol, ExchangeID: leg.exchangeID}))
		}
	}
	if len(actions) == 0 {
		return o.resolveTerminal(now)
	}
	return actions
}

// resolveTerminal retires the instance once both legs are resolved.
func (o *OCO) resolveTerminal(now time.Time) []Action {
	if o.state.Terminal() {
		return nil
	}
	tpDone := o.tp.status.Terminal() || o.inResidue(o.tp.token)
	slDone := o.sl.status.Terminal() || o.inResidue(o.sl.token)

	if tpDone && slDone {
		if len(o.residue) > 0 {
			o.transition(types.StateTerminalWithResidue, now)
		} else {
			o.transition(types.StateTerminal, now)
		}
	}
	return nil
}

func (o *OCO) inResidue(token string) bool {
	for _, t := range o.residue {
		if t == token {
			return true
		}
	}
	return false
}

func (o *OCO) Snapshot() types.InstanceSnapshot {
	filled := o.tp.filled + o.sl.filled
	var avg float64
	if filled > 0 {
		avg = (o.tp.avgPrice*o.tp.filled + o.sl.avgPrice*o.sl.filled) / filled
	}
	return types.InstanceSnapshot{
		InstanceID:   o.id,
		Kind:         types.KindOCO,
		State:        o.state,
		Symbol:       o.params.Symbol,
		FilledTotal:  filled,
		AvgFillPrice: avg,
		Warnings:     append([]string(nil), o.warnings...),
		CreatedAt:    o.createdAt,
		UpdatedAt:    o.updatedAt,
	}
}

func (o *OCO) leg(token string) *ocoLeg {
	switch token {
	case o.tp.token:
		return &o.tp
	case o.sl.token:
		return &o.sl
	}
	return nil
}

func (o *OCO) sibling(token string) *ocoLeg {
	if token == o.tp.token {
		return &o.sl
	}
	return &o.tp
}

func (o *OCO) transition(to types.StrategyState, now time.Time) {
	if o.state == to {
		return
	}
	log.Info().
		Str("instance_id", o.id).
		Str("from", string(o.state)).
		Str("to", string(to)).
		Msg("oco state transition")
	o.state = to
	o.visited = append(o.visited, to)
	o.updatedAt = now
}

// Transitions drains the states entered since the last call.
func (o *OCO) Transitions() []types.StrategyState {
	out := o.visited
	o.visited = nil
	return out
}

func (o *OCO) warn(format string, args ...interface{}) {
	o.warnings = append(o.warnings, fmt.Sprintf(format, args...))
}
