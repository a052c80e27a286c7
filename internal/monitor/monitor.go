package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/exchange"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/ledger"
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// Monitor polls the exchange for the status of every open order in the
// ledger and feeds the observed events to the engine. Polling is the source
// of truth even when a streaming feed is attached: a missed push is repaired
// on the next sweep, and re-delivered events are deduplicated by the ledger.
type Monitor struct {
	ledger   *ledger.Ledger
	gateway  exchange.Gateway
	interval time.Duration
	emit     func(types.OrderEvent)
}

func New(l *ledger.Ledger, gateway exchange.Gateway, interval time.Duration, emit func(types.OrderEvent)) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		ledger:   l,
		gateway:  gateway,
		interval: interval,
		emit:     emit,
	}
}

// Start begins the polling loop and blocks until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_monitor").Logger()
	logger.Info().Dur("interval", m.interval).Msg("starting order monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order monitor")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep polls every open order once. Exposed so tests and the engine's
// shutdown path can force a final reconciliation pass.
func (m *Monitor) Sweep(ctx context.Context) {
	logger := log.With().Str("component", "order_monitor").Logger()

	open := m.ledger.OpenOrders()
	for _, record := range open {
		if ctx.Err() != nil {
			return
		}

		event, err := m.gateway.GetOrderStatus(ctx, record.Symbol, record.ExchangeID)
		if err == nil {
			m.emit(event)
			continue
		}

		if !isNotFound(err) {
			logger.Warn().
				Err(err).
				Str("token", record.Token).
				Int64("exchange_id", record.ExchangeID).
				Msg("order status poll failed")
			continue
		}

		// The exchange does not know an order the ledger believes is open.
		// Re-query by client token before concluding anything: the id copy
		// may be stale while the token is authoritative.
		event, err = m.gateway.GetOrderByToken(ctx, record.Symbol, record.Token)
		if err == nil {
			m.emit(event)
			continue
		}
		if !isNotFound(err) {
			logger.Warn().
				Err(err).
				Str("token", record.Token).
				Msg("order token poll failed")
			continue
		}

		gap := &types.ReconciliationGap{
			Token:      record.Token,
			ExchangeID: record.ExchangeID,
			Detail:     "open order missing on exchange",
		}
		logger.Error().
			Err(gap).
			Str("token", record.Token).
			Str("instance_id", record.InstanceID).
			Msg("reconciliation gap, marking order externally canceled")

		// Synthesize a terminal event so the owning instance can settle.
		// Fill figures keep their last known values.
		m.emit(types.OrderEvent{
			ExchangeID:     record.ExchangeID,
			Token:          record.Token,
			Symbol:         record.Symbol,
			Status:         types.StatusCanceled,
			FilledQuantity: record.FilledQuantity,
			AvgFillPrice:   record.AvgFillPrice,
			Reason:         gap.Detail,
			UpdateTime:     record.LastEventTime + 1,
		})
	}
}

func isNotFound(err error) bool {
	rej, ok := err.(*types.ExchangeRejection)
	return ok && rej.Code == types.RejectOrderNotFound
}
