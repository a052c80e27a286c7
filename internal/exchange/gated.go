package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

var (
	metricRequestsAttempted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_exchange_requests_total",
		Help: "Exchange requests attempted, by operation",
	}, []string{"op"})
	metricRequestsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_exchange_failures_total",
		Help: "Exchange requests that failed after retries, by operation",
	}, []string{"op"})
	metricRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_exchange_retries_total",
		Help: "Transient exchange rejections retried with backoff",
	})
	metricAckTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_exchange_ack_timeouts_total",
		Help: "Submissions resolved by status re-query after an ack timeout",
	})
)

func init() {
	prometheus.MustRegister(metricRequestsAttempted, metricRequestsFailed, metricRetries, metricAckTimeouts)
}

// GatedConfig tunes the shared admission policy in front of the exchange.
type GatedConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	AckTimeout        time.Duration
}

// DefaultGatedConfig matches Binance futures request-weight headroom with
// conservative margins.
func DefaultGatedConfig() GatedConfig {
	return GatedConfig{
		RequestsPerSecond: 8,
		Burst:             16,
		MaxRetries:        3,
		BaseBackoff:       200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		AckTimeout:        5 * time.Second,
	}
}

// Gated wraps a Gateway with the global request budget shared by every
// strategy instance: a token bucket admits each call, transient rejections
// are retried with bounded exponential backoff, and a submission whose
// acknowledgment times out is resolved by a status re-query on the client
// token, never by blind retry, so the engine cannot double-submit.
type Gated struct {
	inner Gateway
	lim   *rate.Limiter
	cfg   GatedConfig
}

func NewGated(inner Gateway, cfg GatedConfig) *Gated {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Gated{
		inner: inner,
		lim:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:   cfg,
	}
}

func (g *Gated) PlaceOrder(ctx context.Context, intent types.OrderIntent) (Ack, error) {
	metricRequestsAttempted.WithLabelValues("place").Inc()

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.lim.Wait(ctx); err != nil {
			return Ack{}, err
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.AckTimeout)
		ack, err := g.inner.PlaceOrder(callCtx, intent)
		cancel()

		if err == nil {
			return ack, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) {
			// The submission may or may not have reached the exchange.
			// Reconcile by token before deciding anything.
			metricAckTimeouts.Inc()
			if ev, qerr := g.queryByToken(ctx, intent.Symbol, intent.Token); qerr == nil {
				return Ack{
					ExchangeID:     ev.ExchangeID,
					Status:         ev.Status,
					FilledQuantity: ev.FilledQuantity,
					AvgFillPrice:   ev.AvgFillPrice,
					UpdateTime:     ev.UpdateTime,
				}, nil
			}
			// Not found on the exchange: the submission never landed and a
			// retry cannot duplicate it.
		} else if !types.IsTransient(err) {
			metricRequestsFailed.WithLabelValues("place").Inc()
			return Ack{}, err
		}

		if attempt < g.cfg.MaxRetries {
			metricRetries.Inc()
			log.Warn().
				Err(err).
				Str("token", intent.Token).
				Int("attempt", attempt+1).
				Msg("transient submission failure, backing off")
			if !sleepCtx(ctx, g.backoff(attempt)) {
				return Ack{}, ctx.Err()
			}
		}
	}

	metricRequestsFailed.WithLabelValues("place").Inc()
	return Ack{}, lastErr
}

func (g *Gated) CancelOrder(ctx context.Context, symbol string, exchangeID int64) error {
	metricRequestsAttempted.WithLabelValues("cancel").Inc()

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.lim.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.AckTimeout)
		err := g.inner.CancelOrder(callCtx, symbol, exchangeID)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		if !types.IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < g.cfg.MaxRetries {
			metricRetries.Inc()
			if !sleepCtx(ctx, g.backoff(attempt)) {
				return ctx.Err()
			}
		}
	}

	metricRequestsFailed.WithLabelValues("cancel").Inc()
	return lastErr
}

func (g *Gated) GetOrderStatus(ctx context.Context, symbol string, exchangeID int64) (types.OrderEvent, error) {
	if err := g.lim.Wait(ctx); err != nil {
		return types.OrderEvent{}, err
	}
	return g.inner.GetOrderStatus(ctx, symbol, exchangeID)
}

func (g *Gated) GetOrderByToken(ctx context.Context, symbol, token string) (types.OrderEvent, error) {
	return g.queryByToken(ctx, symbol, token)
}

func (g *Gated) GetSymbolFilter(ctx context.Context, symbol string) (types.SymbolFilter, error) {
	if err := g.lim.Wait(ctx); err != nil {
		return types.SymbolFilter{}, err
	}
	return g.inner.GetSymbolFilter(ctx, symbol)
}

func (g *Gated) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if err := g.lim.Wait(ctx); err != nil {
		return 0, err
	}
	return g.inner.MarkPrice(ctx, symbol)
}

func (g *Gated) queryByToken(ctx context.Context, symbol, token string) (types.OrderEvent, error) {
	if err := g.lim.Wait(ctx); err != nil {
		return types.OrderEvent{}, err
	}
	return g.inner.GetOrderByToken(ctx, symbol, token)
}

// backoff returns base * 2^attempt capped at the configured maximum.
func (g *Gated) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return g.cfg.MaxBackoff
	}
	d := g.cfg.BaseBackoff * time.Duration(1<<attempt)
	if d > g.cfg.MaxBackoff {
		return g.cfg.MaxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
