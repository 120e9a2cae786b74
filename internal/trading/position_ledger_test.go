package trading

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func openDayTrade(t *testing.T, l *PositionLedger, code string, qty int64) Position {
	t.Helper()
	p, err := l.Open(OpenRequest{
		StockCode: code,
		StockName: "Test " + code,
		Style:     strategy.DayTrading,
		OrderID:   "order-" + code,
		Price:     d("50000"),
		Quantity:  qty,
		Levels:    LevelsFromParams(d("50000"), strategy.MustLookup(strategy.DayTrading).Params),
	})
	require.NoError(t, err)
	return p
}

func TestPositionLedger_Open(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, l, "005930", 100)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, PositionOpen, p.Status)
	assert.Equal(t, int64(100), p.RemainingQuantity)
	assert.Equal(t, int64(0), p.SoldQuantity)
	assert.Equal(t, testEpoch, p.EntryTime)
	assertDecimal(t, "50000", p.HighestPrice)
	assertDecimal(t, "49250", p.StopLossPrice)

	_, err := l.Open(OpenRequest{StockCode: "005930", Price: d("1"), Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = l.Open(OpenRequest{StockCode: "005930", Price: d("0"), Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestPositionLedger_OpenSeedsHighWater(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)

	p, err := l.Open(OpenRequest{StockCode: "005930", Price: d("50000"), Quantity: 1, HighWater: d("50800")})
	require.NoError(t, err)
	assertDecimal(t, "50800", p.HighestPrice)
	assertDecimal(t, "50000", p.CurrentPrice)

	p, err = l.Open(OpenRequest{StockCode: "000660", Price: d("50000"), Quantity: 1, HighWater: d("49000")})
	require.NoError(t, err)
	assertDecimal(t, "50000", p.HighestPrice)
}

func TestPositionLedger_UpdatePriceDoesNotSell(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, l, "005930", 100)

	upd, err := l.UpdatePrice(p.ID, d("51000"))
	require.NoError(t, err)
	require.NotNil(t, upd.Exit)
	assert.Equal(t, ExitTakeProfit1, upd.Exit.Reason)
	assert.True(t, upd.Exit.Partial)

	got, ok := l.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.RemainingQuantity)
	assert.Equal(t, PositionOpen, got.Status)
	assertDecimal(t, "100000", got.UnrealizedPnL)
	assert.Equal(t, 2.0, got.UnrealizedPnLPct)
	assertDecimal(t, "51000", got.HighestPrice)

	// highest never falls
	_, err = l.UpdatePrice(p.ID, d("50800"))
	require.NoError(t, err)
	got, _ = l.Get(p.ID)
	assertDecimal(t, "51000", got.HighestPrice)
	assertDecimal(t, "50800", got.CurrentPrice)
}

func TestPositionLedger_ObserveUsesBarRange(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, l, "005930", 100)

	upd, err := l.Observe(p.ID, d("49200"), d("51600"), d("50000"))
	require.NoError(t, err)
	require.NotNil(t, upd.Exit)
	assert.Equal(t, ExitStopLoss, upd.Exit.Reason)
	assertDecimal(t, "49250", upd.Exit.Level)
	assertDecimal(t, "51600", upd.Position.HighestPrice)
}

func TestPositionLedger_PartialThenFullClose(t *testing.T) {
	clock := NewManualClock(testEpoch)
	l := NewPositionLedger(clock, nil)
	p := openDayTrade(t, l, "005930", 100)

	reduced, err := l.PartialClose(p.ID, 50, d("51000"), ExitTakeProfit1)
	require.NoError(t, err)
	assert.Equal(t, PositionPartialClosed, reduced.Status)
	assert.Equal(t, int64(50), reduced.SoldQuantity)
	assert.Equal(t, int64(50), reduced.RemainingQuantity)
	assertDecimal(t, "50000", reduced.RealizedPnL)
	assert.Nil(t, reduced.ExitTime)

	clock.Advance(time.Hour)
	closed, err := l.Close(p.ID, d("51500"), ExitTakeProfit2)
	require.NoError(t, err)
	assert.Equal(t, PositionClosed, closed.Status)
	assert.Equal(t, int64(100), closed.SoldQuantity)
	assert.Equal(t, int64(0), closed.RemainingQuantity)
	assertDecimal(t, "125000", closed.RealizedPnL)
	assertDecimal(t, "0", closed.UnrealizedPnL)
	require.NotNil(t, closed.ExitTime)
	assert.Equal(t, testEpoch.Add(time.Hour), *closed.ExitTime)
	assert.Equal(t, ExitTakeProfit2, closed.ExitReason)
	assert.Equal(t, closed.Quantity, closed.SoldQuantity+closed.RemainingQuantity)

	_, err = l.Close(p.ID, d("51500"), ExitManual)
	assert.ErrorIs(t, err, ErrPositionClosed)
	_, err = l.PartialClose(p.ID, 1, d("51500"), ExitManual)
	assert.ErrorIs(t, err, ErrPositionClosed)

	upd, err := l.UpdatePrice(p.ID, d("40000"))
	require.NoError(t, err)
	assert.Nil(t, upd.Exit)
}

func TestPositionLedger_PartialCloseClampsQuantity(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, l, "005930", 10)

	closed, err := l.PartialClose(p.ID, 25, d("49000"), ExitStopLoss)
	require.NoError(t, err)
	assert.Equal(t, PositionClosed, closed.Status)
	assert.Equal(t, int64(10), closed.SoldQuantity)
	assertDecimal(t, "-10000", closed.RealizedPnL)

	_, err = l.PartialClose(p.ID, 0, d("49000"), ExitStopLoss)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPositionLedger_TopUpAveragesEntry(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, l, "005930", 100)

	got, err := l.TopUp(p.ID, d("52000"), 100)
	require.NoError(t, err)
	assertDecimal(t, "51000", got.EntryPrice)
	assert.Equal(t, int64(200), got.Quantity)
	assert.Equal(t, int64(200), got.RemainingQuantity)
	assertDecimal(t, "50235", got.StopLossPrice)
	assertDecimal(t, "52020", got.TakeProfit1)
}

func TestPositionLedger_Queries(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)
	a := openDayTrade(t, l, "005930", 10)
	openDayTrade(t, l, "000660", 10)
	_, err := l.Close(a.ID, d("50500"), ExitManual)
	require.NoError(t, err)
	openDayTrade(t, l, "005930", 5)

	assert.Equal(t, 2, l.OpenCount())
	assert.Equal(t, []string{"000660", "005930"}, l.OpenStocks())
	assert.Len(t, l.ByStock("005930"), 2)
	assert.Len(t, l.OpenByStock("005930"), 1)
	assert.Len(t, l.All(), 3)

	s := l.Summary()
	assert.Equal(t, 3, s.TotalPositions)
	assert.Equal(t, 2, s.OpenPositions)
	assertDecimal(t, "5000", s.TotalRealizedPnL)
	assertDecimal(t, "5000", l.TotalRealizedPnL())
	assertDecimal(t, "0", l.TotalUnrealizedPnL())

	_, err = l.UpdatePrice("missing", d("1"))
	assert.True(t, errors.Is(err, ErrPositionNotFound))
}

func TestPositionLedger_Restore(t *testing.T) {
	src := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, src, "005930", 10)

	dst := NewPositionLedger(nil, nil)
	dst.Restore(src.All())
	got, ok := dst.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, p.StockCode, got.StockCode)
	assert.Len(t, dst.OpenByStock("005930"), 1)
}

func TestPositionLedger_ConcurrentUpdates(t *testing.T) {
	l := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, l, "005930", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.UpdatePrice(p.ID, d("50100"))
			_, _ = l.PartialClose(p.ID, 10, d("50100"), ExitManual)
		}()
	}
	wg.Wait()

	got, _ := l.Get(p.ID)
	assert.Equal(t, int64(200), got.SoldQuantity)
	assert.Equal(t, int64(800), got.RemainingQuantity)
	assert.Equal(t, PositionPartialClosed, got.Status)
}
