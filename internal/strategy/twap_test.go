package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

func newTestTWAP(t *testing.T, params types.TWAPParams) *TWAP {
	if params.Symbol == "" {
		params.Symbol = "BTCUSDT"
	}
	if params.Side == "" {
		params.Side = types.SideBuy
	}
	m, err := NewTWAP("twap_test", params, testFilter)
	require.NoError(t, err)
	return m
}

func TestNewTWAPDerivesSliceCount(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		slices   int
		want     int
	}{
		{"explicit count wins", 10 * time.Minute, 4, 4},
		{"two minutes per slice", 8 * time.Minute, 0, 4},
		{"short duration clamps to one", 30 * time.Second, 0, 1},
		{"long duration clamps to ten", time.Hour, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestTWAP(t, types.TWAPParams{
				TotalQuantity: 10,
				Duration:      tt.duration,
				Slices:        tt.slices,
			})
			assert.Len(t, m.SliceQuantities(), tt.want)
		})
	}
}

func TestTWAPSliceQuantitiesConserveTotal(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 1.0,
		Duration:      6 * time.Minute,
		Slices:        3,
	})

	quantities := m.SliceQuantities()
	require.Len(t, quantities, 3)
	assert.Equal(t, 0.333, quantities[0])
	assert.Equal(t, 0.333, quantities[1])
	// The last slice absorbs the lot-rounding remainder.
	assert.InDelta(t, 0.334, quantities[2], 1e-9)
}

func TestTWAPRejectsBadParams(t *testing.T) {
	cases := []types.TWAPParams{
		{Symbol: "BTCUSDT", Side: types.SideBuy, TotalQuantity: 0, Duration: time.Minute},
		{Symbol: "BTCUSDT", Side: types.SideBuy, TotalQuantity: 10, Duration: 0},
		{Symbol: "BTCUSDT", Side: "HOLD", TotalQuantity: 10, Duration: time.Minute},
		{Symbol: "BTCUSDT", Side: types.SideBuy, TotalQuantity: 10, Duration: time.Minute, OnMiss: "panic"},
	}
	for _, params := range cases {
		_, err := NewTWAP("twap_bad", params, testFilter)
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
	}
}

func TestTWAPHappyPathFillsEverySlice(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      4 * time.Minute,
		Slices:        2,
	})
	h := newHarness(t, m)

	h.drive(m.Start(t0))
	require.Len(t, h.timers, 1)
	assert.Equal(t, "slice:0", h.timers[0].ID)
	assert.Equal(t, types.StateScheduled, m.State())

	// First window: a pegged limit slice goes out, next window is scheduled.
	h.drive(m.OnTimer("slice:0", t0))
	require.Len(t, h.placed, 1)
	first := h.lastPlaced()
	assert.Equal(t, types.OrderTypeLimit, first.Type)
	assert.True(t, first.PegToMarket)
	assert.Equal(t, 5.0, first.Quantity)
	assert.Equal(t, types.StateSliceActive, m.State())
	require.Len(t, h.timers, 2)
	assert.Equal(t, "slice:1", h.timers[1].ID)
	assert.Equal(t, t0.Add(2*time.Minute), h.timers[1].At)

	h.fill(first, h.ids[first.Token], 45000)
	assert.False(t, m.State().Terminal(), "one slice left")

	h.drive(m.OnTimer("slice:1", t0.Add(2*time.Minute)))
	second := h.lastPlaced()
	assert.Equal(t, 5.0, second.Quantity)
	h.fill(second, h.ids[second.Token], 45100)

	assert.Equal(t, types.StateTerminal, m.State())
	assert.Empty(t, h.cancels)
	snap := m.Snapshot()
	assert.Equal(t, 10.0, snap.FilledTotal)
	assert.InDelta(t, 45050.0, snap.AvgFillPrice, 1e-9)
}

func TestTWAPPriceLimitOverridesPeg(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      2 * time.Minute,
		Slices:        1,
		PriceLimit:    44900,
	})
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	h.drive(m.OnTimer("slice:0", t0))

	intent := h.lastPlaced()
	assert.Equal(t, types.OrderTypeLimit, intent.Type)
	assert.False(t, intent.PegToMarket)
	assert.Equal(t, 44900.0, intent.Price)
}

func TestTWAPMissedSliceFlushedAtMarket(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      4 * time.Minute,
		Slices:        2,
		OnMiss:        types.MissMarketFlush,
	})
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	h.drive(m.OnTimer("slice:0", t0))
	first := h.lastPlaced()

	// Window expires with 2 of 5 filled: the slice is canceled.
	w1 := t0.Add(2 * time.Minute)
	h.drive(m.OnTimer("slice:1", w1))
	require.Len(t, h.cancels, 1)
	assert.Equal(t, first.Token, h.cancels[0].Token)
	assert.Len(t, h.placed, 1, "second slice waits for the reclaim")

	h.drive(m.OnCancelResult(CancelResult{Token: first.Token}, w1))
	h.canceled(first, h.ids[first.Token], 2.0, 45000)

	// The remainder goes out at market and the deferred slice follows.
	require.Len(t, h.placed, 3)
	flush := h.placed[1]
	assert.Equal(t, types.OrderTypeMarket, flush.Type)
	assert.Equal(t, 3.0, flush.Quantity)
	second := h.placed[2]
	assert.Equal(t, 5.0, second.Quantity)

	h.fill(flush, h.ids[flush.Token], 45050)
	h.fill(second, h.ids[second.Token], 45100)

	assert.Equal(t, types.StateTerminal, m.State())
	snap := m.Snapshot()
	assert.InDelta(t, 10.0, snap.FilledTotal, 1e-9)
}

func TestTWAPMissedSliceReclaimedAfterLateAck(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      4 * time.Minute,
		Slices:        2,
		OnMiss:        types.MissMarketFlush,
	})
	h := newHarness(t, m)
	h.collect(m.Start(t0))
	h.collect(m.OnTimer("slice:0", t0))
	require.Len(t, h.placed, 1)
	first := h.placed[0]

	// The window expires while the submission ack is still in flight: there
	// is no exchange id to cancel yet, so the reclaim has to wait for it.
	w1 := t0.Add(2 * time.Minute)
	h.collect(m.OnTimer("slice:1", w1))
	assert.Empty(t, h.cancels)
	assert.Len(t, h.placed, 1, "second slice waits for the reclaim")

	// The late ack supplies the exchange id and the cancel goes out.
	h.collect(m.OnSubmitResult(SubmitResult{Token: first.Token, Ack: ack(2001, types.StatusNew, 0, 0, h.tick())}, w1))
	require.Len(t, h.cancels, 1)
	assert.Equal(t, first.Token, h.cancels[0].Token)
	assert.Equal(t, int64(2001), h.cancels[0].ExchangeID)

	h.drive(m.OnCancelResult(CancelResult{Token: first.Token}, w1))
	h.canceled(first, 2001, 2.0, 45000)

	// The reclaim resolves as usual: market flush plus the deferred slice.
	require.Len(t, h.placed, 3)
	flush := h.placed[1]
	assert.Equal(t, types.OrderTypeMarket, flush.Type)
	assert.Equal(t, 3.0, flush.Quantity)
	second := h.placed[2]
	assert.Equal(t, 5.0, second.Quantity)

	h.fill(flush, h.ids[flush.Token], 45050)
	h.fill(second, h.ids[second.Token], 45100)

	assert.Equal(t, types.StateTerminal, m.State())
	assert.InDelta(t, 10.0, m.Snapshot().FilledTotal, 1e-9)
}

func TestTWAPCarryForwardGrowsNextSlice(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      4 * time.Minute,
		Slices:        2,
		OnMiss:        types.MissCarryForward,
	})
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	h.drive(m.OnTimer("slice:0", t0))
	first := h.lastPlaced()

	w1 := t0.Add(2 * time.Minute)
	h.drive(m.OnTimer("slice:1", w1))
	h.drive(m.OnCancelResult(CancelResult{Token: first.Token}, w1))
	h.canceled(first, h.ids[first.Token], 2.0, 45000)

	// No market flush; the remainder lands in the next slice.
	require.Len(t, h.placed, 2)
	second := h.lastPlaced()
	assert.Equal(t, types.OrderTypeLimit, second.Type)
	assert.Equal(t, 8.0, second.Quantity)

	h.fill(second, h.ids[second.Token], 45100)
	assert.Equal(t, types.StateTerminal, m.State())
}

func TestTWAPFinalRemainderFlushedUnderCarryForward(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      4 * time.Minute,
		Slices:        2,
		OnMiss:        types.MissCarryForward,
	})
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	h.drive(m.OnTimer("slice:0", t0))
	first := h.lastPlaced()
	h.fill(first, h.ids[first.Token], 45000)

	h.drive(m.OnTimer("slice:1", t0.Add(2*time.Minute)))
	second := h.lastPlaced()

	// The schedule deadline reclaims the unfilled last slice.
	end := t0.Add(4 * time.Minute)
	h.drive(m.OnTimer("slice:2", end))
	require.Len(t, h.cancels, 1)
	h.drive(m.OnCancelResult(CancelResult{Token: second.Token}, end))
	h.canceled(second, h.ids[second.Token], 1.0, 45100)

	// Carrying past the deadline is impossible, so the remainder is flushed
	// at market even under carryForward.
	flush := h.lastPlaced()
	assert.Equal(t, types.OrderTypeMarket, flush.Type)
	assert.Equal(t, 4.0, flush.Quantity)

	h.fill(flush, h.ids[flush.Token], 45200)
	assert.Equal(t, types.StateTerminal, m.State())
	assert.InDelta(t, 10.0, m.Snapshot().FilledTotal, 1e-9)
}

func TestTWAPTransientRejectionRetriesWithBackoff(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      2 * time.Minute,
		Slices:        1,
	})
	h := newHarness(t, m)
	h.collect(m.Start(t0))
	h.collect(m.OnTimer("slice:0", t0))
	require.Len(t, h.placed, 1)

	h.collect(m.OnSubmitResult(SubmitResult{Token: h.placed[0].Token, Err: transientRejection()}, t0))
	last := h.timers[len(h.timers)-1]
	assert.Equal(t, "retry:0", last.ID)
	assert.Equal(t, t0.Add(sliceRetryBase), last.At)

	// The retry resubmits with a fresh token.
	h.collect(m.OnTimer("retry:0", last.At))
	require.Len(t, h.placed, 2)
	assert.NotEqual(t, h.placed[0].Token, h.placed[1].Token)
	assert.False(t, m.State().Terminal())
}

func TestTWAPFatalRejectionEndsInstance(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      2 * time.Minute,
		Slices:        1,
	})
	h := newHarness(t, m)
	h.collect(m.Start(t0))
	h.collect(m.OnTimer("slice:0", t0))

	h.collect(m.OnSubmitResult(SubmitResult{Token: h.lastPlaced().Token, Err: fatalRejection()}, t0))

	assert.Equal(t, types.StateTerminal, m.State())
	snap := m.Snapshot()
	require.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], "slice 1/1")
}

func TestTWAPStopCancelsActiveSlice(t *testing.T) {
	m := newTestTWAP(t, types.TWAPParams{
		TotalQuantity: 10,
		Duration:      4 * time.Minute,
		Slices:        2,
	})
	h := newHarness(t, m)
	h.drive(m.Start(t0))
	h.drive(m.OnTimer("slice:0", t0))
	first := h.lastPlaced()

	h.drive(m.OnStop(t0.Add(time.Minute)))
	require.Len(t, h.cancels, 1)
	assert.Equal(t, types.StateStopping, m.State())

	h.drive(m.OnCancelResult(CancelResult{Token: first.Token}, t0))
	h.canceled(first, h.ids[first.Token], 1.5, 45000)

	// A stopped instance abandons the remainder instead of flushing it.
	assert.Len(t, h.placed, 1)
	assert.Equal(t, types.StateTerminal, m.State())
	assert.InDelta(t, 1.5, m.Snapshot().FilledTotal, 1e-9)

	// Late timers are ignored after terminal.
	assert.Empty(t, m.OnTimer("slice:1", t0.Add(2*time.Minute)))
}
