package exchange

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

// flakyGateway rejects the first n placements with a transient error.
type flakyGateway struct {
	*Mock
	rejections int32
}

func (f *flakyGateway) PlaceOrder(ctx context.Context, intent types.OrderIntent) (Ack, error) {
	if atomic.AddInt32(&f.rejections, -1) >= 0 {
		return Ack{}, &types.ExchangeRejection{Code: types.RejectRateLimit, Message: "busy", Transient: true}
	}
	return f.Mock.PlaceOrder(ctx, intent)
}

func fastGatedConfig() GatedConfig {
	return GatedConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxRetries:        3,
		BaseBackoff:       time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		AckTimeout:        time.Second,
	}
}

func TestGatedRetriesTransientRejections(t *testing.T) {
	inner := &flakyGateway{Mock: newPricedMock(45000), rejections: 2}
	g := NewGated(inner, fastGatedConfig())

	ack, err := g.PlaceOrder(context.Background(), types.OrderIntent{
		Token:    "t1",
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 0.01,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, ack.Status)
}

func TestGatedGivesUpAfterRetryBound(t *testing.T) {
	inner := &flakyGateway{Mock: newPricedMock(45000), rejections: 100}
	g := NewGated(inner, fastGatedConfig())

	_, err := g.PlaceOrder(context.Background(), types.OrderIntent{
		Token:    "t1",
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 0.01,
	})
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestGatedDoesNotRetryFatalRejections(t *testing.T) {
	g := NewGated(newPricedMock(45000), fastGatedConfig())

	// Below min notional is fatal and must fail on the first attempt.
	_, err := g.PlaceOrder(context.Background(), types.OrderIntent{
		Token:    "t1",
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 0.001,
	})
	var rej *types.ExchangeRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, types.RejectBelowMinNotional, rej.Code)
	assert.False(t, rej.Transient)
}

// stallGateway accepts the order but never responds within the ack timeout.
type stallGateway struct {
	*Mock
}

func (s *stallGateway) PlaceOrder(ctx context.Context, intent types.OrderIntent) (Ack, error) {
	_, _ = s.Mock.PlaceOrder(context.Background(), intent)
	<-ctx.Done()
	return Ack{}, ctx.Err()
}

func TestGatedAckTimeoutResolvesByTokenQuery(t *testing.T) {
	mock := newPricedMock(45000)
	inner := &stallGateway{Mock: mock}
	cfg := fastGatedConfig()
	cfg.AckTimeout = 20 * time.Millisecond
	g := NewGated(inner, cfg)

	ack, err := g.PlaceOrder(context.Background(), types.OrderIntent{
		Token:    "tok-stall",
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 0.01,
	})
	require.NoError(t, err, "timed-out ack must be resolved by re-query, not failure")
	assert.Equal(t, types.StatusFilled, ack.Status)
	assert.NotZero(t, ack.ExchangeID)
}

func TestGatedRateLimiterAdmitsWithinBudget(t *testing.T) {
	cfg := fastGatedConfig()
	cfg.RequestsPerSecond = 50
	cfg.Burst = 2
	g := NewGated(newPricedMock(45000), cfg)

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := g.MarkPrice(context.Background(), "BTCUSDT")
		require.NoError(t, err)
	}
	// Two requests ride the burst; the remaining two wait ~20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
