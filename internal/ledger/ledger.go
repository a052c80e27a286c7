// Package ledger keeps the authoritative record of every primitive order the
// engine has submitted. All mutation goes through one mutex so the engine's
// event loop is the single logical writer; reads take the same lock and copy.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// Ledger is the in-memory order book of record, written through to sqlite so
// records survive restarts. Records are never deleted, only marked terminal.
type Ledger struct {
	mu         sync.Mutex
	db         *Database
	byToken    map[string]*types.OrderRecord
	byExchange map[int64]string // exchange order id -> token
	order      []string         // tokens in insertion order
}

func New(gormDB *gorm.DB) *Ledger {
	return &Ledger{
		db:         NewDatabase(gormDB),
		byToken:    make(map[string]*types.OrderRecord),
		byExchange: make(map[int64]string),
	}
}

// Load restores the in-memory indexes from persisted records.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.db.GetAllOrders()
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	for i := range records {
		rec := records[i]
		l.byToken[rec.Token] = &rec
		if rec.ExchangeID != 0 {
			l.byExchange[rec.ExchangeID] = rec.Token
		}
		l.order = append(l.order, rec.Token)
	}
	return nil
}

// Record accepts a validated intent for submission and creates its order
// record in status NEW. The intent's idempotency token must not collide with
// any non-terminal record.
func (l *Ledger) Record(intent types.OrderIntent) (types.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byToken[intent.Token]; ok && !existing.Status.Terminal() {
		return types.OrderRecord{}, fmt.Errorf("duplicate idempotency token %s on non-terminal order", intent.Token)
	}

	record := &types.OrderRecord{
		Token:      intent.Token,
		InstanceID: intent.InstanceID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Type:       intent.Type,
		Quantity:   intent.Quantity,
		Price:      intent.Price,
		StopPrice:  intent.StopPrice,
		Status:     types.StatusNew,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if err := l.db.CreateOrder(record); err != nil {
		return types.OrderRecord{}, fmt.Errorf("failed to persist order record: %w", err)
	}

	l.byToken[record.Token] = record
	l.order = append(l.order, record.Token)
	return *record, nil
}

// AttachExchangeID binds the exchange-assigned order id to a record after the
// exchange acknowledges the submission.
func (l *Ledger) AttachExchangeID(token string, exchangeID int64) (types.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.byToken[token]
	if !ok {
		return types.OrderRecord{}, fmt.Errorf("unknown order token %s", token)
	}
	record.ExchangeID = exchangeID
	record.UpdatedAt = time.Now()
	l.byExchange[exchangeID] = token

	if err := l.db.SaveOrder(record); err != nil {
		return types.OrderRecord{}, fmt.Errorf("failed to persist exchange id: %w", err)
	}
	return *record, nil
}

// ApplyEvent folds one exchange event into the owning record. Idempotent:
// events at or before the record's last seen update time, and any event on an
// already terminal record, are no-ops. The second return reports whether the
// event changed anything.
func (l *Ledger) ApplyEvent(ev types.OrderEvent) (types.OrderRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.lookupLocked(ev.Token, ev.ExchangeID)
	if err != nil {
		return types.OrderRecord{}, false, err
	}

	if record.Status.Terminal() {
		return *record, false, nil
	}
	if ev.UpdateTime != 0 && ev.UpdateTime <= record.LastEventTime {
		return *record, false, nil
	}

	if ev.ExchangeID != 0 && record.ExchangeID == 0 {
		record.ExchangeID = ev.ExchangeID
		l.byExchange[ev.ExchangeID] = record.Token
	}
	record.Status = ev.Status
	if ev.FilledQuantity > 0 {
		record.FilledQuantity = ev.FilledQuantity
	}
	if ev.AvgFillPrice > 0 {
		record.AvgFillPrice = ev.AvgFillPrice
	}
	if ev.Reason != "" {
		record.Reason = ev.Reason
	}
	record.LastEventTime = ev.UpdateTime
	record.UpdatedAt = time.Now()

	if err := l.db.SaveOrder(record); err != nil {
		return types.OrderRecord{}, false, fmt.Errorf("failed to persist order event: %w", err)
	}

	log.Debug().
		Str("token", record.Token).
		Int64("exchange_id", record.ExchangeID).
		Str("status", string(record.Status)).
		Float64("filled", record.FilledQuantity).
		Msg("ledger applied order event")

	return *record, true, nil
}

// Get returns a copy of the record for the given idempotency token.
func (l *Ledger) Get(token string) (types.OrderRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.byToken[token]
	if !ok {
		return types.OrderRecord{}, false
	}
	return *record, true
}

// GetByExchangeID returns a copy of the record for the given exchange id.
func (l *Ledger) GetByExchangeID(exchangeID int64) (types.OrderRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	token, ok := l.byExchange[exchangeID]
	if !ok {
		return types.OrderRecord{}, false
	}
	return *l.byToken[token], true
}

// InstanceFor resolves the strategy instance owning an exchange order id.
// Used by the monitor loop to demultiplex events.
func (l *Ledger) InstanceFor(exchangeID int64) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	token, ok := l.byExchange[exchangeID]
	if !ok {
		return "", false
	}
	return l.byToken[token].InstanceID, true
}

// OrdersForInstance returns copies of an instance's records in causal
// submission order.
func (l *Ledger) OrdersForInstance(instanceID string) []types.OrderRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.OrderRecord
	for _, token := range l.order {
		record := l.byToken[token]
		if record.InstanceID == instanceID {
			out = append(out, *record)
		}
	}
	return out
}

// OpenOrders returns copies of every non-terminal record that has an exchange
// id, the set the monitor loop polls.
func (l *Ledger) OpenOrders() []types.OrderRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.OrderRecord
	for _, token := range l.order {
		record := l.byToken[token]
		if !record.Status.Terminal() && record.ExchangeID != 0 {
			out = append(out, *record)
		}
	}
	return out
}

func (l *Ledger) lookupLocked(token string, exchangeID int64) (*types.OrderRecord, error) {
	if token != "" {
		if record, ok := l.byToken[token]; ok {
			return record, nil
		}
	}
	if exchangeID != 0 {
		if tok, ok := l.byExchange[exchangeID]; ok {
			return l.byToken[tok], nil
		}
	}
	return nil, fmt.Errorf("no ledger record for token %q / exchange id %d", token, exchangeID)
}
