package strategy

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/validator"
)

const (
	defaultSliceWindow = 2 * time.Minute
	maxSlices          = 10
	maxSliceRetries    = 3
	sliceRetryBase     = 250 * time.Millisecond
)

// TWAP slices a large order into N child orders spread evenly over the
// duration. Each slice is a pegged limit order (or a limit at the configured
// price cap); a slice that misses its window is canceled and its remainder
// either flushed at market or carried into the next slice, per the miss
// policy.
//
// States: SCHEDULED -> SLICE_ACTIVE -> ... -> TERMINAL.
type TWAP struct {
	id     string
	params types.TWAPParams
	filter types.SymbolFilter
	state  types.StrategyState

	slices   []twapSlice
	interval time.Duration
	start    time.Time
	carry    float64 // remainder deferred under carryForward
	pending  int     // slice deferred until its predecessor resolves, -1 if none

	byToken        map[string]int // order token -> slice index
	retries        map[int]int
	cancelAttempts map[string]int
	warnings       []string
	residue        []string
	visited        []types.StrategyState
	stopped        bool
	createdAt      time.Time
	updatedAt      time.Time
}

type twapSlice struct {
	quantity float64 // planned quantity, lot-rounded

	token      string
	exchangeID int64
	status     types.OrderStatus
	filled     float64
	avgPrice   float64
	submitted  bool
	missed     bool
	resolved   bool

	flushToken  string
	flushID     int64
	flushStatus types.OrderStatus
	flushFilled float64
	flushAvg    float64
}

// NewTWAP derives the slice schedule. When Slices is zero, N defaults to one
// slice per two minutes, clamped to [1, 10]. Slice sizes are rounded to the
// lot size with the last slice absorbing the remainder, so the planned total
// is exactly the lot-rounded requested quantity.
func NewTWAP(id string, params types.TWAPParams, filter types.SymbolFilter) (*TWAP, error) {
	if params.Side != types.SideBuy && params.Side != types.SideSell {
		return nil, &types.ValidationError{Field: "side", Reason: "side must be BUY or SELL"}
	}
	if params.TotalQuantity <= 0 {
		return nil, &types.ValidationError{Field: "total_quantity", Reason: "total quantity must be positive"}
	}
	if params.Duration <= 0 {
		return nil, &types.ValidationError{Field: "duration", Reason: "duration must be positive"}
	}
	if params.OnMiss == "" {
		params.OnMiss = types.MissMarketFlush
	}
	if params.OnMiss != types.MissMarketFlush && params.OnMiss != types.MissCarryForward {
		return nil, &types.ValidationError{Field: "on_miss", Reason: "on_miss must be marketFlush or carryForward"}
	}

	n := params.Slices
	if n <= 0 {
		n = int(params.Duration / defaultSliceWindow)
		if n < 1 {
			n = 1
		}
		if n > maxSlices {
			n = maxSlices
		}
	}

	total := validator.RoundQuantityDown(params.TotalQuantity, filter.LotSize)
	if total <= 0 {
		return nil, &types.ValidationError{Field: "total_quantity", Reason: "total quantity rounds to zero at lot size"}
	}

	base := validator.RoundQuantityDown(total/float64(n), filter.LotSize)
	slices := make([]twapSlice, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		slices[i].quantity = base
		allocated = allocated.Add(decimal.NewFromFloat(base))
	}
	last, _ := decimal.NewFromFloat(total).Sub(allocated).Float64()
	slices[n-1].quantity = last

	now := time.Now()
	t := &TWAP{
		id:             id,
		params:         params,
		filter:         filter,
		state:          types.StateScheduled,
		slices:         slices,
		interval:       params.Duration / time.Duration(n),
		pending:        -1,
		byToken:        make(map[string]int),
		retries:        make(map[int]int),
		cancelAttempts: make(map[string]int),
		createdAt:      now,
		updatedAt:      now,
	}

	// Pegged slices are checked against the mark at submission; a capped
	// schedule can be pre-checked here.
	if params.PriceLimit > 0 && filter.MinNotional > 0 && base*params.PriceLimit < filter.MinNotional {
		t.warn("slice notional %.2f below symbol minimum %.2f, slices may be rejected", base*params.PriceLimit, filter.MinNotional)
	}

	return t, nil
}

func (t *TWAP) InstanceID() string         { return t.id }
func (t *TWAP) Kind() types.StrategyKind   { return types.KindTWAP }
func (t *TWAP) State() types.StrategyState { return t.state }

// SliceQuantities exposes the planned slice sizes for status output.
func (t *TWAP) SliceQuantities() []float64 {
	out := make([]float64, len(t.slices))
	for i := range t.slices {
		out[i] = t.slices[i].quantity
	}
	return out
}

func (t *TWAP) Start(now time.Time) []Action {
	t.start = now
	return []Action{timerAction("slice:0", now)}
}

func (t *TWAP) OnTimer(id string, now time.Time) []Action {
	if t.state.Terminal() {
		return nil
	}

	switch {
	case strings.HasPrefix(id, "slice:"):
		if t.stopped {
			return nil
		}
		i, _ := strconv.Atoi(strings.TrimPrefix(id, "slice:"))
		return t.onSliceWindow(i, now)
	case strings.HasPrefix(id, "retry:"):
		if t.stopped {
			return nil
		}
		i, _ := strconv.Atoi(strings.TrimPrefix(id, "retry:"))
		return t.submitSlice(i, now)
	case strings.HasPrefix(id, "cancel:"):
		token := strings.TrimPrefix(id, "cancel:")
		if i, ok := t.byToken[token]; ok {
			s := &t.slices[i]
			if !s.status.Terminal() && s.exchangeID != 0 {
				return []Action{cancelAction(CancelRef{Token: token, Symbol: t.params.Symbol, ExchangeID: s.exchangeID})}
			}
		}
	}
	return nil
}

// onSliceWindow opens slice i. If the previous slice is still resting its
// remainder is reclaimed first: the order is canceled and, depending on the
// miss policy, flushed at market or carried into this slice.
func (t *TWAP) onSliceWindow(i int, now time.Time) []Action {
	var actions []Action
	deferred := false

	if i > 0 {
		prev := &t.slices[i-1]
		if prev.submitted && !prev.status.Terminal() {
			prev.missed = true
			log.Info().
				Str("instance_id", t.id).
				Int("slice", i-1).
				Msg("slice missed its window, reclaiming remainder")
			if prev.exchangeID != 0 {
				actions = append(actions, cancelAction(CancelRef{Token: prev.token, Symbol: t.params.Symbol, ExchangeID: prev.exchangeID}))
			}
			deferred = true
		}
	}

	if i >= len(t.slices) {
		// End of schedule: the deadline timer only reclaims the last slice.
		return append(actions, t.resolveTerminal(now)...)
	}

	t.transition(types.StateSliceActive, now)
	if deferred {
		// Submission waits until the predecessor resolves so a carried
		// remainder lands in this slice's quantity.
		t.pending = i
	} else {
		actions = append(actions, t.submitSlice(i, now)...)
	}

	// Schedule the next window, or the end-of-schedule deadline.
	next := t.start.Add(time.Duration(i+1) * t.interval)
	if t.params.Jitter && i+1 < len(t.slices) {
		jitter := time.Duration((rand.Float64()*0.6 - 0.3) * float64(t.interval))
		next = next.Add(jitter)
	}
	actions = append(actions, timerAction("slice:"+strconv.Itoa(i+1), next))
	return actions
}

func (t *TWAP) submitSlice(i int, now time.Time) []Action {
	s := &t.slices[i]
	quantity := s.quantity
	if t.carry > 0 {
		quantity += t.carry
		t.carry = 0
	}
	quantity = validator.RoundQuantityDown(quantity, t.filter.LotSize)
	if quantity <= 0 {
		s.resolved = true
		return t.resolveTerminal(now)
	}

	s.token = uuid.New().String()
	s.quantity = quantity
	s.submitted = true
	t.byToken[s.token] = i

	intent := types.OrderIntent{
		Token:      s.token,
		InstanceID: t.id,
		Symbol:     t.params.Symbol,
		Side:       t.params.Side,
		Quantity:   quantity,
	}
	if t.params.PriceLimit > 0 {
		intent.Type = types.OrderTypeLimit
		intent.Price = t.params.PriceLimit
	} else {
		intent.Type = types.OrderTypeLimit
		intent.PegToMarket = true
	}
	return []Action{placeAction(intent)}
}

func (t *TWAP) OnSubmitResult(result SubmitResult, now time.Time) []Action {
	i, ok := t.byToken[result.Token]
	if !ok {
		return nil
	}
	s := &t.slices[i]

	if result.Err != nil {
		if s.flushToken == result.Token {
			// A failed flush leaves real exposure unexecuted.
			s.flushStatus = types.StatusRejected
			s.resolved = true
			t.warn("flush of slice %d failed: %v", i+1, result.Err)
			return t.resolveTerminal(now)
		}

		if types.IsTransient(result.Err) && t.retries[i] < maxSliceRetries && !t.stopped {
			t.retries[i]++
			backoff := sliceRetryBase * time.Duration(1<<(t.retries[i]-1))
			log.Warn().
				Str("instance_id", t.id).
				Int("slice", i).
				Int("attempt", t.retries[i]).
				Msg("slice submission rejected, retrying with backoff")
			return []Action{timerAction("retry:"+strconv.Itoa(i), now.Add(backoff))}
		}

		s.status = types.StatusRejected
		s.resolved = true
		t.warn("slice %d/%d failed after %d attempts: %v", i+1, len(t.slices), t.retries[i]+1, result.Err)
		return append(t.releasePending(now), t.resolveTerminal(now)...)
	}

	if s.flushToken == result.Token {
		s.flushID = result.Ack.ExchangeID
		if s.flushStatus.Terminal() {
			return nil // a monitor event outran the ack
		}
		s.flushStatus = result.Ack.Status
		s.flushFilled = result.Ack.FilledQuantity
		s.flushAvg = result.Ack.AvgFillPrice
		if s.flushStatus.Terminal() {
			s.resolved = true
		}
		return t.resolveTerminal(now)
	}

	s.exchangeID = result.Ack.ExchangeID
	if s.status.Terminal() {
		return nil // a monitor event outran the ack
	}
	s.status = result.Ack.Status
	s.filled = result.Ack.FilledQuantity
	s.avgPrice = result.Ack.AvgFillPrice
	if s.status.Terminal() {
		return t.finishSlice(i, now)
	}
	if (t.stopped || s.missed) && s.exchangeID != 0 {
		// The window moved on (or a stop landed) while the ack was in
		// flight; reclaim the slice now that the exchange id is known.
		return []Action{cancelAction(CancelRef{Token: s.token, Symbol: t.params.Symbol, ExchangeID: s.exchangeID})}
	}
	return nil
}

func (t *TWAP) OnOrderEvent(record types.OrderRecord, now time.Time) []Action {
	i, ok := t.byToken[record.Token]
	if !ok {
		return nil
	}
	s := &t.slices[i]
	if record.Token != s.token && record.Token != s.flushToken {
		return nil // event for a superseded submission attempt
	}
	t.updatedAt = now

	if s.flushToken == record.Token {
		s.flushID = record.ExchangeID
		s.flushStatus = record.Status
		s.flushFilled = record.FilledQuantity
		s.flushAvg = record.AvgFillPrice
		if s.flushStatus.Terminal() {
			s.resolved = true
		}
		return t.resolveTerminal(now)
	}

	s.exchangeID = record.ExchangeID
	s.status = record.Status
	s.filled = record.FilledQuantity
	s.avgPrice = record.AvgFillPrice
	if s.status.Terminal() {
		return t.finishSlice(i, now)
	}
	return nil
}

// finishSlice handles a slice order reaching a terminal status. A canceled
// missed slice hands its remainder to the miss policy; a stop or the final
// deadline always flushes at market so the requested quantity is conserved.
func (t *TWAP) finishSlice(i int, now time.Time) []Action {
	s := &t.slices[i]
	remainder := validator.RoundQuantityDown(s.quantity-s.filled, t.filter.LotSize)

	if remainder <= 0 || s.status == types.StatusRejected || t.stopped || !s.missed {
		s.resolved = true
		return append(t.releasePending(now), t.resolveTerminal(now)...)
	}

	lastSlice := i == len(t.slices)-1
	if t.params.OnMiss == types.MissCarryForward && !lastSlice {
		t.carry = remainder
		s.resolved = true
		log.Info().
			Str("instance_id", t.id).
			Int("slice", i).
			Float64("remainder", remainder).
			Msg("carrying slice remainder forward")
		return append(t.releasePending(now), t.resolveTerminal(now)...)
	}

	// marketFlush, or the final window under either policy.
	s.flushToken = uuid.New().String()
	t.byToken[s.flushToken] = i
	log.Info().
		Str("instance_id", t.id).
		Int("slice", i).
		Float64("remainder", remainder).
		Msg("flushing slice remainder at market")
	actions := []Action{placeAction(types.OrderIntent{
		Token:      s.flushToken,
		InstanceID: t.id,
		Symbol:     t.params.Symbol,
		Side:       t.params.Side,
		Type:       types.OrderTypeMarket,
		Quantity:   remainder,
	})}
	return append(actions, t.releasePending(now)...)
}

// releasePending submits a slice whose window opened while its predecessor
// was still being reclaimed.
func (t *TWAP) releasePending(now time.Time) []Action {
	if t.pending < 0 || t.stopped {
		return nil
	}
	i := t.pending
	t.pending = -1
	return t.submitSlice(i, now)
}

func (t *TWAP) OnCancelResult(result CancelResult, now time.Time) []Action {
	i, ok := t.byToken[result.Token]
	if !ok {
		return nil
	}
	s := &t.slices[i]

	if result.Err == nil || orderNotFound(result.Err) {
		// Terminal status (with the final fill figures) arrives as an order
		// event and drives the miss handling there.
		return nil
	}

	t.cancelAttempts[result.Token]++
	if t.cancelAttempts[result.Token] < maxCancelAttempts {
		return []Action{timerAction("cancel:"+result.Token, now.Add(cancelRetryDelay))}
	}

	t.residue = append(t.residue, result.Token)
	s.resolved = true
	t.warn("cancel of slice %d unconfirmed after %d attempts", i+1, maxCancelAttempts)
	return append(t.releasePending(now), t.resolveTerminal(now)...)
}

func (t *TWAP) OnStop(now time.Time) []Action {
	if t.state.Terminal() {
		return nil
	}
	t.stopped = true
	t.transition(types.StateStopping, now)

	var actions []Action
	for i := range t.slices {
		s := &t.slices[i]
		if s.submitted && !s.status.Terminal() && s.exchangeID != 0 {
			actions = append(actions, cancelAction(CancelRef{Token: s.token, Symbol: t.params.Symbol, ExchangeID: s.exchangeID}))
		}
		if !s.submitted {
			// Unsubmitted slices are abandoned.
			s.resolved = true
		}
	}
	if len(actions) == 0 {
		return t.resolveTerminal(now)
	}
	return actions
}

func (t *TWAP) resolveTerminal(now time.Time) []Action {
	if t.state.Terminal() {
		return nil
	}
	for i := range t.slices {
		s := &t.slices[i]
		if t.stopped && !s.submitted {
			continue
		}
		if !s.resolved {
			return nil
		}
	}
	if len(t.residue) > 0 {
		t.transition(types.StateTerminalWithResidue, now)
	} else {
		t.transition(types.StateTerminal, now)
	}
	return nil
}

func (t *TWAP) Snapshot() types.InstanceSnapshot {
	var filled, notional float64
	for i := range t.slices {
		s := &t.slices[i]
		filled += s.filled + s.flushFilled
		notional += s.filled*s.avgPrice + s.flushFilled*s.flushAvg
	}
	var avg float64
	if filled > 0 {
		avg = notional / filled
	}
	return types.InstanceSnapshot{
		InstanceID:   t.id,
		Kind:         types.KindTWAP,
		State:        t.state,
		Symbol:       t.params.Symbol,
		FilledTotal:  filled,
		AvgFillPrice: avg,
		Warnings:     append([]string(nil), t.warnings...),
		CreatedAt:    t.createdAt,
		UpdatedAt:    t.updatedAt,
	}
}

func (t *TWAP) transition(to types.StrategyState, now time.Time) {
	if t.state == to {
		return
	}
	log.Info().
		Str("instance_id", t.id).
		Str("from", string(t.state)).
		Str("to", string(to)).
		Msg("twap state transition")
	t.state = to
	t.visited = append(t.visited, to)
	t.updatedAt = now
}

// Transitions drains the states entered since the last call.
func (t *TWAP) Transitions() []types.StrategyState {
	out := t.visited
	t.visited = nil
	return out
}

func (t *TWAP) warn(format string, args ...interface{}) {
	t.warnings = append(t.warnings, fmt.Sprintf(format, args...))
}
