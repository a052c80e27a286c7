package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

func newTestOCO(t *testing.T) *OCO {
	m, err := NewOCO("oco_test", types.OCOParams{
		Symbol:          "BTCUSDT",
		Quantity:        0.5,
		TakeProfitPrice: 46000,
		StopLossPrice:   44000,
		PositionSide:    types.PositionLong,
	}, testFilter, 45000)
	require.NoError(t, err)
	return m
}

func TestNewOCORejectsInvertedPrices(t *testing.T) {
	tests := []struct {
		name   string
		params types.OCOParams
		mark   float64
	}{
		{
			"long take profit below mark",
			types.OCOParams{Symbol: "BTCUSDT", Quantity: 0.5, TakeProfitPrice: 44000, StopLossPrice: 43000, PositionSide: types.PositionLong},
			45000,
		},
		{
			"long stop loss above mark",
			types.OCOParams{Symbol: "BTCUSDT", Quantity: 0.5, TakeProfitPrice: 46000, StopLossPrice: 45500, PositionSide: types.PositionLong},
			45000,
		},
		{
			"short take profit above mark",
			types.OCOParams{Symbol: "BTCUSDT", Quantity: 0.5, TakeProfitPrice: 45500, StopLossPrice: 46000, PositionSide: types.PositionShort},
			45000,
		},
		{
			"short stop loss below mark",
			types.OCOParams{Symbol: "BTCUSDT", Quantity: 0.5, TakeProfitPrice: 44000, StopLossPrice: 44500, PositionSide: types.PositionShort},
			45000,
		},
		{
			"zero quantity",
			types.OCOParams{Symbol: "BTCUSDT", Quantity: 0, TakeProfitPrice: 46000, StopLossPrice: 44000},
			45000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOCO("oco_bad", tt.params, testFilter, tt.mark)
			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestOCOStartSubmitsBothLegsReduceOnly(t *testing.T) {
	m := newTestOCO(t)
	h := newHarness(t, m)
	h.collect(m.Start(t0))

	require.Len(t, h.placed, 2)
	tp, sl := h.placed[0], h.placed[1]

	assert.Equal(t, types.OrderTypeLimit, tp.Type)
	assert.Equal(t, 46000.0, tp.Price)
	assert.Equal(t, types.OrderTypeStopLimit, sl.Type)
	assert.Equal(t, 44000.0, sl.StopPrice)
	for _, leg := range []types.OrderIntent{tp, sl} {
		assert.Equal(t, types.SideSell, leg.Side, "LONG position closes with SELL legs")
		assert.True(t, leg.ReduceOnly)
		assert.Equal(t, 0.5, leg.Quantity)
	}
	assert.NotEqual(t, tp.Token, sl.Token)
	assert.Equal(t, types.StateLegsSubmitted, m.State())
}

func TestOCOShortPositionClosesWithBuyLegs(t *testing.T) {
	m, err := NewOCO("oco_short", types.OCOParams{
		Symbol:          "BTCUSDT",
		Quantity:        0.5,
		TakeProfitPrice: 44000,
		StopLossPrice:   46000,
		PositionSide:    types.PositionShort,
	}, testFilter, 45000)
	require.NoError(t, err)

	h := newHarness(t, m)
	h.collect(m.Start(t0))
	require.Len(t, h.placed, 2)
	assert.Equal(t, types.SideBuy, h.placed[0].Side)
	assert.Equal(t, types.SideBuy, h.placed[1].Side)
}

func TestOCOFillCancelsSibling(t *testing.T) {
	m := newTestOCO(t)
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	require.Len(t, h.placed, 2)
	tp, sl := h.placed[0], h.placed[1]

	h.fill(tp, h.ids[tp.Token], 46000)

	require.Len(t, h.cancels, 1)
	assert.Equal(t, sl.Token, h.cancels[0].Token)
	assert.Equal(t, h.ids[sl.Token], h.cancels[0].ExchangeID)
	assert.Equal(t, types.StateOneFilled, m.State())

	h.drive(m.OnCancelResult(CancelResult{Token: sl.Token}, t0))
	h.canceled(sl, h.ids[sl.Token], 0, 0)

	assert.Equal(t, types.StateTerminal, m.State())
	snap := m.Snapshot()
	assert.Equal(t, 0.5, snap.FilledTotal)
	assert.Equal(t, 46000.0, snap.AvgFillPrice)
	assert.Empty(t, snap.Warnings)
}

func TestOCOFillBeforeSiblingAckDefersCancel(t *testing.T) {
	m := newTestOCO(t)
	h := newHarness(t, m)
	h.collect(m.Start(t0))
	require.Len(t, h.placed, 2)
	tp, sl := h.placed[0], h.placed[1]

	// Take profit is acked and fills while the stop loss ack is in flight.
	h.drive(m.OnSubmitResult(SubmitResult{Token: tp.Token, Ack: ack(2001, types.StatusNew, 0, 0, 1)}, t0))
	h.fill(tp, 2001, 46000)
	assert.Empty(t, h.cancels, "sibling exchange id unknown, cancel must wait")

	// The late ack triggers the deferred cancel.
	h.drive(m.OnSubmitResult(SubmitResult{Token: sl.Token, Ack: ack(2002, types.StatusNew, 0, 0, 2)}, t0))
	require.Len(t, h.cancels, 1)
	assert.Equal(t, sl.Token, h.cancels[0].Token)
	assert.Equal(t, int64(2002), h.cancels[0].ExchangeID)
}

func TestOCOBothLegsRejected(t *testing.T) {
	m := newTestOCO(t)
	h := newHarness(t, m)
	h.collect(m.Start(t0))
	tp, sl := h.placed[0], h.placed[1]

	h.drive(m.OnSubmitResult(SubmitResult{Token: tp.Token, Err: fatalRejection()}, t0))
	h.drive(m.OnSubmitResult(SubmitResult{Token: sl.Token, Err: fatalRejection()}, t0))

	assert.Equal(t, types.StateTerminal, m.State())
	snap := m.Snapshot()
	assert.Len(t, snap.Warnings, 2)
	assert.Zero(t, snap.FilledTotal)
}

func TestOCOCancelRetryExhaustionMarksResidue(t *testing.T) {
	m := newTestOCO(t)
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	tp, sl := h.placed[0], h.placed[1]

	h.fill(tp, h.ids[tp.Token], 46000)
	require.Len(t, h.cancels, 1)

	// Every cancel attempt fails; retries go through timers until the bound.
	for i := 0; i < maxCancelAttempts-1; i++ {
		before := len(h.timers)
		h.drive(m.OnCancelResult(CancelResult{Token: sl.Token, Err: transientRejection()}, t0))
		require.Len(t, h.timers, before+1, "failed cancel schedules a retry timer")
		h.drive(m.OnTimer(h.timers[len(h.timers)-1].ID, t0))
	}
	h.drive(m.OnCancelResult(CancelResult{Token: sl.Token, Err: transientRejection()}, t0))

	assert.Equal(t, types.StateTerminalWithResidue, m.State())
	snap := m.Snapshot()
	require.NotEmpty(t, snap.Warnings)
	assert.Contains(t, snap.Warnings[len(snap.Warnings)-1], "unconfirmed")
}

func TestOCOCancelNotFoundIsHarmless(t *testing.T) {
	m := newTestOCO(t)
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	tp, sl := h.placed[0], h.placed[1]

	h.fill(tp, h.ids[tp.Token], 46000)
	// The stop loss was already canceling on the exchange side.
	h.drive(m.OnCancelResult(CancelResult{Token: sl.Token, Err: notFoundRejection()}, t0))
	assert.Empty(t, h.timers, "not-found is not retried")

	h.canceled(sl, h.ids[sl.Token], 0, 0)
	assert.Equal(t, types.StateTerminal, m.State())
}

func TestOCOStopCancelsRestingLegs(t *testing.T) {
	m := newTestOCO(t)
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	tp, sl := h.placed[0], h.placed[1]

	h.drive(m.OnStop(t0))
	require.Len(t, h.cancels, 2)
	assert.Equal(t, types.StateStopping, m.State())

	h.drive(m.OnCancelResult(CancelResult{Token: tp.Token}, t0))
	h.drive(m.OnCancelResult(CancelResult{Token: sl.Token}, t0))
	h.canceled(tp, h.ids[tp.Token], 0, 0)
	h.canceled(sl, h.ids[sl.Token], 0, 0)

	assert.Equal(t, types.StateTerminal, m.State())
}
