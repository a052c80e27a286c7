package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.OrderRecord{}))
	return New(db)
}

func testIntent(token string) types.OrderIntent {
	return types.OrderIntent{
		Token:      token,
		InstanceID: "twap_test",
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		Type:       types.OrderTypeLimit,
		Quantity:   0.01,
		Price:      45000,
	}
}

func TestRecordAssignsNewStatus(t *testing.T) {
	l := newTestLedger(t)

	rec, err := l.Record(testIntent("tok-1"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusNew, rec.Status)
	assert.Zero(t, rec.ExchangeID)

	got, ok := l.Get("tok-1")
	require.True(t, ok)
	assert.Equal(t, rec.Token, got.Token)
}

func TestRecordRejectsDuplicateNonTerminalToken(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(testIntent("tok-1"))
	require.NoError(t, err)

	_, err = l.Record(testIntent("tok-1"))
	assert.Error(t, err)
}

func TestApplyEventIsIdempotent(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(testIntent("tok-1"))
	require.NoError(t, err)
	_, err = l.AttachExchangeID("tok-1", 42)
	require.NoError(t, err)

	fill := types.OrderEvent{
		ExchangeID:     42,
		Status:         types.StatusFilled,
		FilledQuantity: 0.01,
		AvgFillPrice:   45001,
		UpdateTime:     1000,
	}

	first, applied, err := l.ApplyEvent(fill)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, types.StatusFilled, first.Status)

	second, applied, err := l.ApplyEvent(fill)
	require.NoError(t, err)
	assert.False(t, applied, "re-delivered terminal event must be a no-op")
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.FilledQuantity, second.FilledQuantity)
	assert.Equal(t, first.AvgFillPrice, second.AvgFillPrice)
}

func TestApplyEventDiscardsStaleUpdates(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(testIntent("tok-1"))
	require.NoError(t, err)
	_, err = l.AttachExchangeID("tok-1", 42)
	require.NoError(t, err)

	_, applied, err := l.ApplyEvent(types.OrderEvent{
		ExchangeID:     42,
		Status:         types.StatusPartiallyFilled,
		FilledQuantity: 0.005,
		UpdateTime:     2000,
	})
	require.NoError(t, err)
	require.True(t, applied)

	// An older update arriving late must not rewind the record.
	rec, applied, err := l.ApplyEvent(types.OrderEvent{
		ExchangeID: 42,
		Status:     types.StatusNew,
		UpdateTime: 1500,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, types.StatusPartiallyFilled, rec.Status)
	assert.InDelta(t, 0.005, rec.FilledQuantity, 1e-9)
}

func TestApplyEventBeforeExchangeIDUsesToken(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(testIntent("tok-1"))
	require.NoError(t, err)

	rec, applied, err := l.ApplyEvent(types.OrderEvent{
		Token:      "tok-1",
		Status:     types.StatusRejected,
		Reason:     "insufficient balance",
		UpdateTime: 100,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, types.StatusRejected, rec.Status)
}

func TestOrdersForInstancePreservesSubmissionOrder(t *testing.T) {
	l := newTestLedger(t)

	for _, token := range []string{"a", "b", "c"} {
		_, err := l.Record(testIntent(token))
		require.NoError(t, err)
	}

	records := l.OrdersForInstance("twap_test")
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].Token)
	assert.Equal(t, "b", records[1].Token)
	assert.Equal(t, "c", records[2].Token)
}

func TestOpenOrdersExcludesTerminalAndUnacked(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Record(testIntent("resting"))
	require.NoError(t, err)
	_, err = l.AttachExchangeID("resting", 1)
	require.NoError(t, err)

	_, err = l.Record(testIntent("filled"))
	require.NoError(t, err)
	_, err = l.AttachExchangeID("filled", 2)
	require.NoError(t, err)
	_, _, err = l.ApplyEvent(types.OrderEvent{ExchangeID: 2, Status: types.StatusFilled, FilledQuantity: 0.01, UpdateTime: 10})
	require.NoError(t, err)

	_, err = l.Record(testIntent("unacked"))
	require.NoError(t, err)

	open := l.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, "resting", open[0].Token)
}

func TestLoadRestoresIndexes(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.OrderRecord{}))

	first := New(db)
	_, err = first.Record(testIntent("tok-1"))
	require.NoError(t, err)
	_, err = first.AttachExchangeID("tok-1", 42)
	require.NoError(t, err)

	second := New(db)
	require.NoError(t, second.Load())

	instanceID, ok := second.InstanceFor(42)
	require.True(t, ok)
	assert.Equal(t, "twap_test", instanceID)
}
