package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

var btcFilter = types.SymbolFilter{
	Symbol:      "BTCUSDT",
	TickSize:    0.10,
	LotSize:     0.001,
	MinQuantity: 0.001,
	MaxQuantity: 1000,
	MinNotional: 100,
}

func TestValidateRoundsPriceTowardPassiveSide(t *testing.T) {
	tests := []struct {
		name      string
		side      types.Side
		price     float64
		wantPrice float64
	}{
		{"buy rounds down", types.SideBuy, 45000.17, 45000.10},
		{"sell rounds up", types.SideSell, 45000.11, 45000.20},
		{"on tick unchanged buy", types.SideBuy, 45000.20, 45000.20},
		{"on tick unchanged sell", types.SideSell, 45000.20, 45000.20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Validate(types.OrderIntent{
				Symbol:   "BTCUSDT",
				Side:     tt.side,
				Type:     types.OrderTypeLimit,
				Quantity: 0.01,
				Price:    tt.price,
			}, btcFilter)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantPrice, out.Price, 1e-9)
		})
	}
}

func TestValidateRoundsQuantityDownToLotSize(t *testing.T) {
	out, err := Validate(types.OrderIntent{
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeLimit,
		Quantity: 0.0123456,
		Price:    45000,
	}, btcFilter)
	require.NoError(t, err)
	assert.InDelta(t, 0.012, out.Quantity, 1e-9)
}

func TestValidateBelowMinimumNotional(t *testing.T) {
	_, err := Validate(types.OrderIntent{
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeLimit,
		Quantity: 0.001,
		Price:    45000, // notional 45 < 100
	}, btcFilter)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBelowMinNotional))
}

func TestValidateIsIdempotent(t *testing.T) {
	intent := types.OrderIntent{
		Symbol:   "BTCUSDT",
		Side:     types.SideSell,
		Type:     types.OrderTypeLimit,
		Quantity: 0.0105,
		Price:    44999.93,
	}
	once, err := Validate(intent, btcFilter)
	require.NoError(t, err)
	twice, err := Validate(once, btcFilter)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestValidateRejectsBadInputs(t *testing.T) {
	tests := []struct {
		name   string
		intent types.OrderIntent
	}{
		{"missing symbol", types.OrderIntent{Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 1}},
		{"bad side", types.OrderIntent{Symbol: "BTCUSDT", Side: "HOLD", Type: types.OrderTypeMarket, Quantity: 1}},
		{"zero quantity", types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket}},
		{"market with price", types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 1, Price: 100}},
		{"limit without price", types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 1}},
		{"stop-limit without stop", types.OrderIntent{Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeStopLimit, Quantity: 1, Price: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.intent, btcFilter)
			require.Error(t, err)
			var verr *types.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestValidateQuantityRoundsToZero(t *testing.T) {
	_, err := Validate(types.OrderIntent{
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 0.0004,
	}, btcFilter)
	require.Error(t, err)
}

func TestRoundQuantityDownAvoidsFloatDrift(t *testing.T) {
	// 0.3/0.1 is 2.9999... in binary floats; decimal division must not lose a lot.
	assert.InDelta(t, 0.3, RoundQuantityDown(0.3, 0.1), 1e-12)
}

func TestValidatePeggedLimitSkipsPriceChecks(t *testing.T) {
	out, err := Validate(types.OrderIntent{
		Symbol:      "BTCUSDT",
		Side:        types.SideBuy,
		Type:        types.OrderTypeLimit,
		Quantity:    0.01,
		PegToMarket: true,
	}, btcFilter)
	require.NoError(t, err)
	assert.Zero(t, out.Price)
}
