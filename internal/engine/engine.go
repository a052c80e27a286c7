// Package engine orchestrates strategy instances: it owns the event loop
// that serializes every ledger mutation and machine transition, executes the
// actions machines emit, and reconciles exchange state through the monitor.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/audit"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/exchange"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/ledger"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/monitor"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/strategy"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/validator"
)

var (
	instancesStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_instances_started_total",
		Help: "Strategy instances started, by kind.",
	}, []string{"kind"})
	instancesFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_instances_finished_total",
		Help: "Strategy instances reaching a terminal state, by outcome.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(instancesStarted, instancesFinished)
}

type Config struct {
	MonitorInterval time.Duration
	// RetireAfter is the grace period a terminal instance stays queryable
	// before it is dropped from the in-memory index. The ledger and audit
	// trail keep the durable history.
	RetireAfter time.Duration
	QueueSize   int
}

func DefaultConfig() Config {
	return Config{
		MonitorInterval: 2 * time.Second,
		RetireAfter:     5 * time.Minute,
		QueueSize:       256,
	}
}

// Engine runs the event loop. All machine transitions and ledger writes
// happen on the loop goroutine; gateway calls run on short-lived runner
// goroutines that feed their outcomes back as events.
type Engine struct {
	gateway exchange.Gateway
	ledger  *ledger.Ledger
	audit   *audit.Recorder
	monitor *monitor.Monitor
	cfg     Config

	events chan event

	mu        sync.RWMutex
	instances map[string]*instance
	filters   map[string]types.SymbolFilter

	// opCtx is the context for gateway calls issued by runners; canceled
	// when the loop shuts down so in-flight calls are interrupted.
	opCtx    context.Context
	opCancel context.CancelFunc
	stopped  chan struct{}
	running  sync.WaitGroup
}

type instance struct {
	machine strategy.Machine
	retired bool
}

// event is one unit of work for the loop. Exactly one payload field is set.
type event struct {
	start        *instance
	order        *types.OrderEvent
	submitResult *routedSubmit
	cancelResult *routedCancel
	timer        *routedTimer
	stop         *routedStop
	query        *routedQuery
	retire       string
}

type routedSubmit struct {
	instanceID string
	symbol     string
	result     strategy.SubmitResult
}

type routedCancel struct {
	instanceID string
	result     strategy.CancelResult
}

type routedTimer struct {
	instanceID string
	id         string
}

type routedStop struct {
	instanceID string
	errc       chan error
}

type routedQuery struct {
	instanceID string // empty means all instances
	reply      chan []types.InstanceSnapshot
}

func New(gateway exchange.Gateway, gormDB *gorm.DB, cfg Config) (*Engine, error) {
	l := ledger.New(gormDB)
	if err := l.Load(); err != nil {
		return nil, fmt.Errorf("failed to load order ledger: %w", err)
	}

	opCtx, opCancel := context.WithCancel(context.Background())
	e := &Engine{
		gateway:   gateway,
		ledger:    l,
		audit:     audit.NewRecorder(gormDB),
		cfg:       cfg,
		events:    make(chan event, cfg.QueueSize),
		instances: make(map[string]*instance),
		filters:   make(map[string]types.SymbolFilter),
		opCtx:     opCtx,
		opCancel:  opCancel,
		stopped:   make(chan struct{}),
	}
	e.monitor = monitor.New(l, gateway, cfg.MonitorInterval, func(ev types.OrderEvent) {
		e.enqueue(event{order: &ev})
	})
	return e, nil
}

// Ledger exposes the order ledger for read-only status queries.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Audit exposes the transition recorder for operator endpoints.
func (e *Engine) Audit() *audit.Recorder { return e.audit }

// Run starts the event loop and the monitor, blocking until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	logger := log.With().Str("component", "engine").Logger()
	logger.Info().Msg("starting execution engine")

	go e.monitor.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down execution engine")
			e.opCancel()
			close(e.stopped)
			e.running.Wait()
			return
		case ev := <-e.events:
			e.dispatch(ev)
		}
	}
}

// Start validates the request, constructs the machine and hands it to the
// loop. The returned instance id is immediately queryable.
func (e *Engine) Start(ctx context.Context, req types.StrategyRequest) (string, error) {
	symbol, err := requestSymbol(req)
	if err != nil {
		return "", err
	}
	filter, err := e.symbolFilter(ctx, symbol)
	if err != nil {
		return "", err
	}

	id := strings.ToLower(string(req.Kind)) + "_" + uuid.New().String()

	var machine strategy.Machine
	switch req.Kind {
	case types.KindOCO:
		mark, err := e.gateway.MarkPrice(ctx, symbol)
		if err != nil {
			return "", err
		}
		machine, err = strategy.NewOCO(id, *req.OCO, filter, mark)
		if err != nil {
			return "", err
		}
	case types.KindTWAP:
		machine, err = strategy.NewTWAP(id, *req.TWAP, filter)
		if err != nil {
			return "", err
		}
	case types.KindGrid:
		mark, err := e.gateway.MarkPrice(ctx, symbol)
		if err != nil {
			return "", err
		}
		machine, err = strategy.NewGrid(id, *req.Grid, filter, mark)
		if err != nil {
			return "", err
		}
	default:
		return "", &types.ValidationError{Field: "kind", Reason: "unknown strategy kind"}
	}

	inst := &instance{machine: machine}
	e.mu.Lock()
	e.instances[id] = inst
	e.mu.Unlock()

	instancesStarted.WithLabelValues(string(req.Kind)).Inc()
	log.Info().
		Str("instance_id", id).
		Str("kind", string(req.Kind)).
		Str("symbol", symbol).
		Msg("strategy instance accepted")

	e.enqueue(event{start: inst})
	return id, nil
}

// PlaceDirect validates, records and submits one primitive order outside any
// strategy instance. The record carries no instance id; the monitor tracks it
// to its terminal state like any other open order.
func (e *Engine) PlaceDirect(ctx context.Context, intent types.OrderIntent) (types.OrderRecord, error) {
	if intent.Token == "" {
		intent.Token = uuid.New().String()
	}

	normalized, err := e.prepare(ctx, intent)
	if err != nil {
		return types.OrderRecord{}, err
	}

	record, err := e.ledger.Record(normalized)
	if err != nil {
		return types.OrderRecord{}, err
	}

	ack, err := e.gateway.PlaceOrder(ctx, normalized)
	if err != nil {
		_, _, _ = e.ledger.ApplyEvent(types.OrderEvent{
			Token:      normalized.Token,
			Symbol:     normalized.Symbol,
			Status:     types.StatusRejected,
			Reason:     err.Error(),
			UpdateTime: time.Now().UnixMilli(),
		})
		return types.OrderRecord{}, err
	}

	if record, err = e.ledger.AttachExchangeID(normalized.Token, ack.ExchangeID); err != nil {
		return types.OrderRecord{}, err
	}
	if updated, applied, err := e.ledger.ApplyEvent(types.OrderEvent{
		ExchangeID:     ack.ExchangeID,
		Token:          normalized.Token,
		Symbol:         normalized.Symbol,
		Status:         ack.Status,
		FilledQuantity: ack.FilledQuantity,
		AvgFillPrice:   ack.AvgFillPrice,
		UpdateTime:     ack.UpdateTime,
	}); err == nil && applied {
		record = updated
	}

	log.Info().
		Str("token", record.Token).
		Str("symbol", record.Symbol).
		Str("status", string(record.Status)).
		Msg("direct order placed")
	return record, nil
}

// MarkPrice exposes the gateway's mark price for the API surface.
func (e *Engine) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	return e.gateway.MarkPrice(ctx, symbol)
}

// Stop requests a safe shutdown of one instance and waits for the loop to
// accept it. Cancellation of resting orders proceeds asynchronously; callers
// observe completion through Status.
func (e *Engine) Stop(instanceID string) error {
	e.mu.RLock()
	_, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown instance %s", instanceID)
	}

	errc := make(chan error, 1)
	e.enqueue(event{stop: &routedStop{instanceID: instanceID, errc: errc}})
	select {
	case err := <-errc:
		return err
	case <-e.done():
		return fmt.Errorf("engine stopped")
	}
}

// Status returns the snapshot of one instance, including its child orders.
// Snapshots are taken on the loop goroutine so they are always consistent
// with the latest transition.
func (e *Engine) Status(instanceID string) (types.InstanceSnapshot, error) {
	e.mu.RLock()
	_, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return types.InstanceSnapshot{}, fmt.Errorf("unknown instance %s", instanceID)
	}

	reply := make(chan []types.InstanceSnapshot, 1)
	e.enqueue(event{query: &routedQuery{instanceID: instanceID, reply: reply}})
	var snaps []types.InstanceSnapshot
	select {
	case snaps = <-reply:
	case <-e.done():
		return types.InstanceSnapshot{}, fmt.Errorf("engine stopped")
	}
	if len(snaps) == 0 {
		return types.InstanceSnapshot{}, fmt.Errorf("unknown instance %s", instanceID)
	}

	snap := snaps[0]
	snap.Orders = e.ledger.OrdersForInstance(instanceID)
	return snap, nil
}

// List returns snapshots of every instance the engine still tracks.
func (e *Engine) List() []types.InstanceSnapshot {
	reply := make(chan []types.InstanceSnapshot, 1)
	e.enqueue(event{query: &routedQuery{reply: reply}})
	select {
	case snaps := <-reply:
		return snaps
	case <-e.done():
		return nil
	}
}

func (e *Engine) enqueue(ev event) {
	select {
	case e.events <- ev:
	case <-e.stopped:
	}
}

func (e *Engine) done() <-chan struct{} { return e.stopped }

// dispatch runs on the loop goroutine; it is the only place machines and the
// ledger are mutated.
func (e *Engine) dispatch(ev event) {
	now := time.Now()

	switch {
	case ev.start != nil:
		inst := ev.start
		e.step(inst, func() []strategy.Action { return inst.machine.Start(now) })

	case ev.order != nil:
		record, applied, err := e.ledger.ApplyEvent(*ev.order)
		if err != nil || !applied {
			return
		}
		e.withInstance(record.InstanceID, func(inst *instance) {
			e.step(inst, func() []strategy.Action { return inst.machine.OnOrderEvent(record, now) })
		})

	case ev.submitResult != nil:
		r := ev.submitResult
		if r.result.Err == nil {
			// Fold the ack into the ledger immediately; the monitor's next
			// sweep of the same state is a deduplicated no-op.
			_, _, _ = e.ledger.ApplyEvent(types.OrderEvent{
				ExchangeID:     r.result.Ack.ExchangeID,
				Token:          r.result.Token,
				Symbol:         r.symbol,
				Status:         r.result.Ack.Status,
				FilledQuantity: r.result.Ack.FilledQuantity,
				AvgFillPrice:   r.result.Ack.AvgFillPrice,
				UpdateTime:     r.result.Ack.UpdateTime,
			})
		}
		e.withInstance(r.instanceID, func(inst *instance) {
			e.step(inst, func() []strategy.Action { return inst.machine.OnSubmitResult(r.result, now) })
		})

	case ev.cancelResult != nil:
		r := ev.cancelResult
		e.withInstance(r.instanceID, func(inst *instance) {
			e.step(inst, func() []strategy.Action { return inst.machine.OnCancelResult(r.result, now) })
		})

	case ev.timer != nil:
		r := ev.timer
		e.withInstance(r.instanceID, func(inst *instance) {
			e.step(inst, func() []strategy.Action { return inst.machine.OnTimer(r.id, now) })
		})

	case ev.stop != nil:
		r := ev.stop
		e.mu.RLock()
		inst, ok := e.instances[r.instanceID]
		e.mu.RUnlock()
		if !ok {
			r.errc <- fmt.Errorf("unknown instance %s", r.instanceID)
			return
		}
		r.errc <- nil
		e.step(inst, func() []strategy.Action { return inst.machine.OnStop(now) })

	case ev.query != nil:
		q := ev.query
		e.mu.RLock()
		var snaps []types.InstanceSnapshot
		if q.instanceID != "" {
			if inst, ok := e.instances[q.instanceID]; ok {
				snaps = []types.InstanceSnapshot{inst.machine.Snapshot()}
			}
		} else {
			snaps = make([]types.InstanceSnapshot, 0, len(e.instances))
			for _, inst := range e.instances {
				snaps = append(snaps, inst.machine.Snapshot())
			}
		}
		e.mu.RUnlock()
		q.reply <- snaps

	case ev.retire != "":
		e.mu.Lock()
		delete(e.instances, ev.retire)
		e.mu.Unlock()
	}
}

// withInstance routes a machine callback. Events for retired or unknown
// instances are dropped.
func (e *Engine) withInstance(instanceID string, fn func(*instance)) {
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	fn(inst)
}

// step runs one machine transition with the common bookkeeping: the emitted
// actions are executed, state changes are written to the audit trail, and
// terminal instances are retired. One input can move a machine through
// several states; every hop is persisted, not just the endpoints.
func (e *Engine) step(inst *instance, fn func() []strategy.Action) {
	before := inst.machine.State()
	e.execute(inst, fn())
	for _, to := range inst.machine.Transitions() {
		e.audit.Transition(inst.machine.InstanceID(), string(inst.machine.Kind()), string(before), string(to), "")
		before = to
	}
	e.afterDispatch(inst)
}

// afterDispatch retires instances that reached a terminal state.
func (e *Engine) afterDispatch(inst *instance) {
	state := inst.machine.State()
	if !state.Terminal() || inst.retired {
		return
	}
	inst.retired = true
	instancesFinished.WithLabelValues(string(state)).Inc()

	id := inst.machine.InstanceID()
	log.Info().
		Str("instance_id", id).
		Str("state", string(state)).
		Msg("instance terminal, scheduling retirement")
	time.AfterFunc(e.cfg.RetireAfter, func() {
		e.enqueue(event{retire: id})
	})
}

// execute runs the actions a transition emitted. Placements and cancels go to
// runner goroutines so a slow exchange call never blocks the loop; timers are
// armed here.
func (e *Engine) execute(inst *instance, actions []strategy.Action) {
	id := inst.machine.InstanceID()
	for _, a := range actions {
		switch {
		case a.Place != nil:
			intent := *a.Place
			e.running.Add(1)
			go func() {
				defer e.running.Done()
				e.place(id, intent)
			}()
		case a.Cancel != nil:
			ref := *a.Cancel
			e.running.Add(1)
			go func() {
				defer e.running.Done()
				err := e.gateway.CancelOrder(e.opCtx, ref.Symbol, ref.ExchangeID)
				e.enqueue(event{cancelResult: &routedCancel{
					instanceID: id,
					result:     strategy.CancelResult{Token: ref.Token, Err: err},
				}})
			}()
		case a.Timer != nil:
			timerID := a.Timer.ID
			delay := time.Until(a.Timer.At)
			if delay < 0 {
				delay = 0
			}
			time.AfterFunc(delay, func() {
				e.enqueue(event{timer: &routedTimer{instanceID: id, id: timerID}})
			})
		}
	}
}

// place validates, records and submits one order intent, then feeds the
// outcome back to the loop. Validation failures and rejections travel the
// same path so machines handle them uniformly.
func (e *Engine) place(instanceID string, intent types.OrderIntent) {
	ctx := e.opCtx

	result := strategy.SubmitResult{Token: intent.Token}
	normalized, err := e.prepare(ctx, intent)
	if err != nil {
		result.Err = err
		e.enqueue(event{submitResult: &routedSubmit{instanceID: instanceID, symbol: intent.Symbol, result: result}})
		return
	}

	if _, err := e.ledger.Record(normalized); err != nil {
		result.Err = err
		e.enqueue(event{submitResult: &routedSubmit{instanceID: instanceID, symbol: intent.Symbol, result: result}})
		return
	}

	ack, err := e.gateway.PlaceOrder(ctx, normalized)
	if err != nil {
		// The ledger record goes terminal so the token is not left open.
		_, _, _ = e.ledger.ApplyEvent(types.OrderEvent{
			Token:      normalized.Token,
			Symbol:     normalized.Symbol,
			Status:     types.StatusRejected,
			Reason:     err.Error(),
			UpdateTime: time.Now().UnixMilli(),
		})
		result.Err = err
		e.enqueue(event{submitResult: &routedSubmit{instanceID: instanceID, symbol: intent.Symbol, result: result}})
		return
	}

	if _, err := e.ledger.AttachExchangeID(normalized.Token, ack.ExchangeID); err != nil {
		log.Error().
			Err(err).
			Str("token", normalized.Token).
			Msg("failed to attach exchange id")
	}
	result.Ack = ack
	e.enqueue(event{submitResult: &routedSubmit{instanceID: instanceID, symbol: intent.Symbol, result: result}})
}

// prepare resolves pegged prices against the current mark and runs the
// symbol-filter validation, including the notional check market and pegged
// orders defer to submission time.
func (e *Engine) prepare(ctx context.Context, intent types.OrderIntent) (types.OrderIntent, error) {
	filter, err := e.symbolFilter(ctx, intent.Symbol)
	if err != nil {
		return types.OrderIntent{}, err
	}

	if intent.PegToMarket || intent.Type == types.OrderTypeMarket {
		mark, err := e.gateway.MarkPrice(ctx, intent.Symbol)
		if err != nil {
			return types.OrderIntent{}, err
		}
		if intent.PegToMarket {
			intent.Price = validator.RoundPrice(mark, filter.TickSize, intent.Side)
			intent.PegToMarket = false
		}
		if intent.Quantity*mark < filter.MinNotional {
			return types.OrderIntent{}, types.ErrBelowMinNotional
		}
	}

	return validator.Validate(intent, filter)
}

func (e *Engine) symbolFilter(ctx context.Context, symbol string) (types.SymbolFilter, error) {
	e.mu.RLock()
	filter, ok := e.filters[symbol]
	e.mu.RUnlock()
	if ok {
		return filter, nil
	}

	filter, err := e.gateway.GetSymbolFilter(ctx, symbol)
	if err != nil {
		return types.SymbolFilter{}, err
	}
	e.mu.Lock()
	e.filters[symbol] = filter
	e.mu.Unlock()
	return filter, nil
}

func requestSymbol(req types.StrategyRequest) (string, error) {
	switch req.Kind {
	case types.KindOCO:
		if req.OCO == nil {
			return "", &types.ValidationError{Field: "oco", Reason: "oco parameters required"}
		}
		return req.OCO.Symbol, nil
	case types.KindTWAP:
		if req.TWAP == nil {
			return "", &types.ValidationError{Field: "twap", Reason: "twap parameters required"}
		}
		return req.TWAP.Symbol, nil
	case types.KindGrid:
		if req.Grid == nil {
			return "", &types.ValidationError{Field: "grid", Reason: "grid parameters required"}
		}
		return req.Grid.Symbol, nil
	}
	return "", &types.ValidationError{Field: "kind", Reason: "unknown strategy kind"}
}
