package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/validator"
)

// Grid maintains a ladder of resting limit orders between a low and a high
// price. Buys rest below the current mark, sells above, and the level nearest
// the mark starts vacant. When a level fills it is replaced on the opposite
// side one level over, so the grid ping-pongs as price oscillates.
type Grid struct {
	id     string
	params types.GridParams
	filter types.SymbolFilter
	state  types.StrategyState

	prices []float64 // level index -> tick-rounded price, ascending
	levels []gridLevel

	byToken        map[string]int
	cancelAttempts map[string]int
	vacantSeed     int // level left empty at construction
	warnings       []string
	residue        []string
	visited        []types.StrategyState
	roundTrips     int
	stopped        bool
	createdAt      time.Time
	updatedAt      time.Time
}

type gridLevel struct {
	side       types.Side // side of the resting order, if any
	token      string
	exchangeID int64
	status     types.OrderStatus
	filled     float64
	avgPrice   float64
	active     bool // an order is resting or in flight at this level

	queued     bool // a replacement waits for this level to go vacant
	queuedSide types.Side

	totalFilled   float64
	totalNotional float64
}

// NewGrid builds the ladder. Levels are spaced evenly across [low, high] and
// rounded to the tick size; the mark price must fall inside the range so both
// sides of the grid exist.
func NewGrid(id string, params types.GridParams, filter types.SymbolFilter, markPrice float64) (*Grid, error) {
	if params.LowPrice <= 0 || params.HighPrice <= params.LowPrice {
		return nil, &types.ValidationError{Field: "price_range", Reason: "high price must exceed low price and both must be positive"}
	}
	if params.Levels < 2 {
		return nil, &types.ValidationError{Field: "levels", Reason: "grid needs at least 2 levels"}
	}
	if params.QuantityPerLevel <= 0 {
		return nil, &types.ValidationError{Field: "quantity_per_level", Reason: "quantity per level must be positive"}
	}
	if markPrice <= params.LowPrice || markPrice >= params.HighPrice {
		return nil, &types.ValidationError{Field: "price_range", Reason: fmt.Sprintf("mark price %v outside grid range (%v, %v)", markPrice, params.LowPrice, params.HighPrice)}
	}
	quantity := validator.RoundQuantityDown(params.QuantityPerLevel, filter.LotSize)
	if quantity <= 0 {
		return nil, &types.ValidationError{Field: "quantity_per_level", Reason: "quantity per level rounds to zero at lot size"}
	}
	params.QuantityPerLevel = quantity

	step := (params.HighPrice - params.LowPrice) / float64(params.Levels-1)
	prices := make([]float64, params.Levels)
	for i := range prices {
		raw := params.LowPrice + step*float64(i)
		side := types.SideBuy
		if raw > markPrice {
			side = types.SideSell
		}
		prices[i] = validator.RoundPrice(raw, filter.TickSize, side)
	}

	g := &Grid{
		id:             id,
		params:         params,
		filter:         filter,
		state:          types.StateInit,
		prices:         prices,
		levels:         make([]gridLevel, params.Levels),
		byToken:        make(map[string]int),
		cancelAttempts: make(map[string]int),
		createdAt:      time.Now(),
		updatedAt:      time.Now(),
	}

	// Seed sides: buys below the mark, sells above. The buy level closest to
	// the mark stays vacant so the first move in either direction has an
	// order waiting.
	g.vacantSeed = -1
	for i := range g.levels {
		if prices[i] < markPrice {
			g.levels[i].side = types.SideBuy
			g.vacantSeed = i
		} else {
			g.levels[i].side = types.SideSell
		}
	}
	return g, nil
}

func (g *Grid) InstanceID() string         { return g.id }
func (g *Grid) Kind() types.StrategyKind   { return types.KindGrid }
func (g *Grid) State() types.StrategyState { return g.state }

// LevelPrices exposes the tick-rounded ladder for status output.
func (g *Grid) LevelPrices() []float64 { return append([]float64(nil), g.prices...) }

// RoundTrips reports how many fills have been replaced so far.
func (g *Grid) RoundTrips() int { return g.roundTrips }

func (g *Grid) Start(now time.Time) []Action {
	g.transition(types.StateGridActive, now)
	var actions []Action
	for i := range g.levels {
		if i == g.vacantSeed {
			continue
		}
		actions = append(actions, g.placeLevel(i, g.levels[i].side))
	}
	return actions
}

func (g *Grid) placeLevel(i int, side types.Side) Action {
	lvl := &g.levels[i]
	lvl.side = side
	lvl.token = uuid.New().String()
	lvl.exchangeID = 0
	lvl.status = ""
	lvl.filled = 0
	lvl.avgPrice = 0
	lvl.active = true
	g.byToken[lvl.token] = i

	return placeAction(types.OrderIntent{
		Token:      lvl.token,
		InstanceID: g.id,
		Symbol:     g.params.Symbol,
		Side:       side,
		Type:       types.OrderTypeLimit,
		Quantity:   g.params.QuantityPerLevel,
		Price:      g.prices[i],
	})
}

func (g *Grid) OnSubmitResult(result SubmitResult, now time.Time) []Action {
	i, ok := g.byToken[result.Token]
	if !ok {
		return nil
	}
	lvl := &g.levels[i]

	if result.Err != nil {
		lvl.active = false
		lvl.status = types.StatusRejected
		g.warn("level %d (%s @ %v) rejected: %v", i, lvl.side, g.prices[i], result.Err)
		return append(g.releaseQueued(i), g.resolveTerminal(now)...)
	}

	lvl.exchangeID = result.Ack.ExchangeID
	if lvl.status.Terminal() {
		return nil // a monitor event outran the ack
	}
	lvl.status = result.Ack.Status
	lvl.filled = result.Ack.FilledQuantity
	lvl.avgPrice = result.Ack.AvgFillPrice
	if lvl.status == types.StatusFilled {
		return g.onLevelFilled(i, now)
	}
	if g.stopped && lvl.exchangeID != 0 && !lvl.status.Terminal() {
		return []Action{cancelAction(CancelRef{Token: lvl.token, Symbol: g.params.Symbol, ExchangeID: lvl.exchangeID})}
	}
	if lvl.status.Terminal() {
		lvl.active = false
		return append(g.releaseQueued(i), g.resolveTerminal(now)...)
	}
	return nil
}

func (g *Grid) OnOrderEvent(record types.OrderRecord, now time.Time) []Action {
	i, ok := g.byToken[record.Token]
	if !ok {
		return nil
	}
	lvl := &g.levels[i]
	if record.Token != lvl.token {
		return nil // event for a superseded order at this level
	}
	g.updatedAt = now

	lvl.exchangeID = record.ExchangeID
	lvl.status = record.Status
	lvl.filled = record.FilledQuantity
	lvl.avgPrice = record.AvgFillPrice

	switch record.Status {
	case types.StatusFilled:
		return g.onLevelFilled(i, now)
	case types.StatusPartiallyFilled:
		// Partial fills only update the tally; the level is replaced when
		// the order fills completely.
		return nil
	default:
		if record.Status.Terminal() {
			lvl.active = false
			return append(g.releaseQueued(i), g.resolveTerminal(now)...)
		}
	}
	return nil
}

// onLevelFilled books the fill and replaces it on the opposite side one level
// over: a buy at i becomes a sell at i+1, a sell at i becomes a buy at i-1.
// Fills at the edges of the ladder are not replaced.
func (g *Grid) onLevelFilled(i int, now time.Time) []Action {
	lvl := &g.levels[i]
	lvl.totalFilled += lvl.filled
	lvl.totalNotional += lvl.filled * lvl.avgPrice
	lvl.active = false
	filledSide := lvl.side
	g.roundTrips++

	log.Info().
		Str("instance_id", g.id).
		Int("level", i).
		Str("side", string(filledSide)).
		Float64("price", g.prices[i]).
		Msg("grid level filled")

	if g.stopped {
		return g.resolveTerminal(now)
	}

	target := i + 1
	replaceSide := types.SideSell
	if filledSide == types.SideSell {
		target = i - 1
		replaceSide = types.SideBuy
	}
	if target < 0 || target >= len(g.levels) {
		return g.resolveTerminal(now)
	}
	if g.levels[target].active {
		// A fast whipsaw can fill a level before its neighbor's replacement
		// cleared. Queue the replacement so the resting order count is
		// conserved once the target frees up.
		g.levels[target].queued = true
		g.levels[target].queuedSide = replaceSide
		log.Info().
			Str("instance_id", g.id).
			Int("level", target).
			Msg("replacement level occupied, queued until vacant")
		return append(g.releaseQueued(i), g.resolveTerminal(now)...)
	}
	return append([]Action{g.placeLevel(target, replaceSide)}, g.releaseQueued(i)...)
}

// releaseQueued places the replacement that arrived while level i was still
// occupied, now that it has gone vacant. A stop drops queued replacements.
func (g *Grid) releaseQueued(i int) []Action {
	lvl := &g.levels[i]
	if !lvl.queued {
		return nil
	}
	lvl.queued = false
	if g.stopped {
		return nil
	}
	return []Action{g.placeLevel(i, lvl.queuedSide)}
}

func (g *Grid) OnCancelResult(result CancelResult, now time.Time) []Action {
	i, ok := g.byToken[result.Token]
	if !ok {
		return nil
	}

	if result.Err == nil || orderNotFound(result.Err) {
		return nil // terminal status arrives as an order event
	}

	g.cancelAttempts[result.Token]++
	if g.cancelAttempts[result.Token] < maxCancelAttempts {
		return []Action{timerAction("cancel:"+result.Token, now.Add(cancelRetryDelay))}
	}

	g.residue = append(g.residue, result.Token)
	g.levels[i].active = false
	g.warn("cancel of level %d unconfirmed after %d attempts", i, maxCancelAttempts)
	return g.resolveTerminal(now)
}

func (g *Grid) OnTimer(id string, now time.Time) []Action {
	if g.state.Terminal() {
		return nil
	}
	if strings.HasPrefix(id, "cancel:") {
		token := strings.TrimPrefix(id, "cancel:")
		if i, ok := g.byToken[token]; ok {
			lvl := &g.levels[i]
			if lvl.token == token && lvl.active && lvl.exchangeID != 0 {
				return []Action{cancelAction(CancelRef{Token: token, Symbol: g.params.Symbol, ExchangeID: lvl.exchangeID})}
			}
		}
	}
	return nil
}

func (g *Grid) OnStop(now time.Time) []Action {
	if g.state.Terminal() {
		return nil
	}
	g.stopped = true
	g.transition(types.StateStopping, now)

	var actions []Action
	for i := range g.levels {
		lvl := &g.levels[i]
		if lvl.active && lvl.exchangeID != 0 && !lvl.status.Terminal() {
			actions = append(actions, cancelAction(CancelRef{Token: lvl.token, Symbol: g.params.Symbol, ExchangeID: lvl.exchangeID}))
		} else if lvl.active && lvl.exchangeID == 0 {
			// Submission ack still in flight; the cancel is emitted when the
			// ack lands.
			continue
		}
	}
	if len(actions) == 0 {
		return g.resolveTerminal(now)
	}
	return actions
}

// resolveTerminal only fires on the stop path or when every level has gone
// terminal; an idle grid with resting orders runs until stopped.
func (g *Grid) resolveTerminal(now time.Time) []Action {
	if g.state.Terminal() {
		return nil
	}
	for i := range g.levels {
		if g.levels[i].active {
			return nil
		}
	}
	g.finish(now)
	return nil
}

func (g *Grid) finish(now time.Time) {
	if len(g.residue) > 0 {
		g.transition(types.StateTerminalWithResidue, now)
	} else {
		g.transition(types.StateTerminal, now)
	}
}

func (g *Grid) Snapshot() types.InstanceSnapshot {
	var filled, notional float64
	for i := range g.levels {
		lvl := &g.levels[i]
		filled += lvl.totalFilled
		notional += lvl.totalNotional
		if lvl.active && lvl.status == types.StatusPartiallyFilled {
			filled += lvl.filled
			notional += lvl.filled * lvl.avgPrice
		}
	}
	var avg float64
	if filled > 0 {
		avg = notional / filled
	}
	return types.InstanceSnapshot{
		InstanceID:   g.id,
		Kind:         types.KindGrid,
		State:        g.state,
		Symbol:       g.params.Symbol,
		FilledTotal:  filled,
		AvgFillPrice: avg,
		Warnings:     append([]string(nil), g.warnings...),
		CreatedAt:    g.createdAt,
		UpdatedAt:    g.updatedAt,
	}
}

func (g *Grid) transition(to types.StrategyState, now time.Time) {
	if g.state == to {
		return
	}
	log.Info().
		Str("instance_id", g.id).
		Str("from", string(g.state)).
		Str("to", string(to)).
		Msg("grid state transition")
	g.state = to
	g.visited = append(g.visited, to)
	g.updatedAt = now
}

// Transitions drains the states entered since the last call.
func (g *Grid) Transitions() []types.StrategyState {
	out := g.visited
	g.visited = nil
	return out
}

func (g *Grid) warn(format string, args ...interface{}) {
	g.warnings = append(g.warnings, fmt.Sprintf(format, args...))
}
