package gfob_test

import (
	"testing"

	. "barmatch/internal/common"
	"barmatch/internal/gfob"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func assertConserved(t *testing.T, m *gfob.Manager) {
	t.Helper()
	assert.True(t, m.AvailableCapital().Add(m.FrozenCapital()).Equal(m.TotalCapital()),
		"available %s + frozen %s != total %s", m.AvailableCapital(), m.FrozenCapital(), m.TotalCapital())
	assert.False(t, m.AvailableCapital().IsNegative())
	assert.False(t, m.FrozenCapital().IsNegative())
}

func testConfig() gfob.Config {
	return gfob.Config{
		DeltaIn:      d("0.001"),
		DeltaOut:     d("0.0005"),
		DeltaOutFast: d("0.002"),
		PositionSize: d("100"),
	}
}

func createTestManager(t *testing.T, capital string) *gfob.Manager {
	t.Helper()
	m := gfob.New(testConfig(),
		gfob.WithLogger(zerolog.Nop()),
		gfob.WithIDs(SequentialIDs("G")),
	)
	require.NoError(t, m.Initialize(d(capital)))
	return m
}

func events(m *gfob.Manager) []Event {
	var out []Event
	for _, e := range m.OrderLogs() {
		out = append(out, e.Event)
	}
	return out
}

// holdPosition buys at close 100 on bar 1 and fills it on bar 2.
func holdPosition(t *testing.T, m *gfob.Manager) Fill {
	t.Helper()
	_, err := m.CreateBuyOrder(d("100"), 1, 100)
	require.NoError(t, err)
	result, err := m.MatchOrders(2, d("90"), d("101"), 200)
	require.NoError(t, err)
	require.Len(t, result.BuyFills, 1)
	return result.BuyFills[0]
}

// --- Tests ------------------------------------------------------------------

func TestScenario_BuyFillsBelowLow(t *testing.T) {
	m := createTestManager(t, "10000")

	order, err := m.CreateBuyOrder(d("3500"), 10, 1000)
	require.NoError(t, err)
	require.NotNil(t, order)

	assertDecimal(t, "3496.5", order.Price)
	assert.Equal(t, 11, order.ValidBar)
	assert.Equal(t, ReasonEntryTail, order.Reason)
	assertDecimal(t, "9900", m.AvailableCapital())
	assertDecimal(t, "100", m.FrozenCapital())
	assertConserved(t, m)

	result, err := m.MatchOrders(11, d("3400"), d("3450"), 1100)
	require.NoError(t, err)
	require.Len(t, result.BuyFills, 1)
	assert.Empty(t, result.SellFills)
	assert.Empty(t, result.Expired)

	fill := result.BuyFills[0]
	assert.Equal(t, order.ID, fill.OrderID)
	assertDecimal(t, "3496.5", fill.Price, "fills at the limit, not at the bar")
	assert.Equal(t, 11, fill.BarIndex)
	assert.Equal(t, int64(1100), fill.Timestamp)
	assert.Equal(t, ReasonEntryTail, fill.Reason)

	assert.False(t, m.HasPendingBuy())
	assertDecimal(t, "100", m.FrozenCapital(), "capital now backs the position")
	assertConserved(t, m)
}

func TestBuy_NoFillWhenLowAboveLimit(t *testing.T) {
	m := createTestManager(t, "10000")
	_, err := m.CreateBuyOrder(d("100"), 1, 0)
	require.NoError(t, err)

	result, err := m.MatchOrders(2, d("99.95"), d("101"), 0)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.True(t, m.HasPendingBuy(), "order stays for its valid bar")

	// Low equal to the limit fills.
	m = createTestManager(t, "10000")
	_, err = m.CreateBuyOrder(d("100"), 1, 0)
	require.NoError(t, err)
	result, err = m.MatchOrders(2, d("99.9"), d("101"), 0)
	require.NoError(t, err)
	assert.Len(t, result.BuyFills, 1)
}

func TestNoLookAhead(t *testing.T) {
	m := createTestManager(t, "10000")
	_, err := m.CreateBuyOrder(d("100"), 5, 0)
	require.NoError(t, err)

	// Same bar the order was placed on: never fills.
	result, err := m.MatchOrders(5, d("1"), d("1000"), 0)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.True(t, m.HasPendingBuy())

	result, err = m.MatchOrders(6, d("1"), d("1000"), 0)
	require.NoError(t, err)
	assert.Len(t, result.BuyFills, 1)
}

func TestExpiry_SkippedValidBar(t *testing.T) {
	m := createTestManager(t, "10000")
	order, err := m.CreateBuyOrder(d("100"), 5, 0)
	require.NoError(t, err)

	// Bar 6 never arrives; bar 7 expires the order, even though it would match.
	result, err := m.MatchOrders(7, d("1"), d("1000"), 700)
	require.NoError(t, err)
	assert.Empty(t, result.BuyFills)
	require.Len(t, result.Expired, 1)

	expired := result.Expired[0]
	assert.Equal(t, order.ID, expired.OrderID)
	assert.Equal(t, Buy, expired.Side)
	assert.Equal(t, 6, expired.ValidBar)
	assert.Equal(t, 7, expired.BarIndex)

	assert.False(t, m.HasPendingBuy())
	assertDecimal(t, "10000", m.AvailableCapital())
	assertDecimal(t, "0", m.FrozenCapital())
	assertConserved(t, m)

	stored, ok := m.Order(order.ID)
	require.True(t, ok)
	assert.Equal(t, Cancelled, stored.Status)
	assert.Equal(t, []Event{EventPlaced, EventExpired}, events(m))
}

func TestExpiry_UnfilledOnValidBar(t *testing.T) {
	m := createTestManager(t, "10000")
	_, err := m.CreateBuyOrder(d("100"), 1, 0)
	require.NoError(t, err)

	result, err := m.MatchOrders(2, d("150"), d("160"), 0)
	require.NoError(t, err)
	assert.True(t, result.Empty())

	result, err = m.MatchOrders(3, d("1"), d("1000"), 0)
	require.NoError(t, err)
	assert.Len(t, result.Expired, 1)
	assert.Empty(t, result.BuyFills)
	assertDecimal(t, "0", m.FrozenCapital())
}

func TestSellBeforeBuy(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)

	sell, err := m.CreateSellOrder(d("110"), position.OrderID, position.Quantity, ReasonNormalExit, 2, 200)
	require.NoError(t, err)
	buy, err := m.CreateBuyOrder(d("100"), 2, 200)
	require.NoError(t, err)

	result, err := m.MatchOrders(3, d("90"), d("120"), 300)
	require.NoError(t, err)
	require.Len(t, result.SellFills, 1)
	require.Len(t, result.BuyFills, 1)
	assert.Equal(t, sell.ID, result.SellFills[0].OrderID)
	assert.Equal(t, buy.ID, result.BuyFills[0].OrderID)

	logs := m.OrderLogs()
	last := logs[len(logs)-2:]
	assert.Equal(t, sell.ID, last[0].OrderID, "sell fill is journaled first")
	assert.Equal(t, EventFilled, last[0].Event)
	assert.Equal(t, buy.ID, last[1].OrderID)
	assert.Equal(t, EventFilled, last[1].Event)
}

func TestSell_AsymmetricMatch(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)

	sell, err := m.CreateSellOrder(d("100"), position.OrderID, position.Quantity, ReasonNormalExit, 2, 0)
	require.NoError(t, err)
	assertDecimal(t, "99.95", sell.Price)
	assert.Equal(t, 3, sell.ValidBar)
	assertDecimal(t, "0", sell.FrozenCapital)

	// Whole bar above the limit: still fills at the limit.
	result, err := m.MatchOrders(3, d("105"), d("110"), 0)
	require.NoError(t, err)
	require.Len(t, result.SellFills, 1)
	assertDecimal(t, "99.95", result.SellFills[0].Price)
}

func TestSell_NoFillWhenHighBelowLimit(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)
	_, err := m.CreateSellOrder(d("100"), position.OrderID, position.Quantity, ReasonNormalExit, 2, 0)
	require.NoError(t, err)

	result, err := m.MatchOrders(3, d("90"), d("99.94"), 0)
	require.NoError(t, err)
	assert.Empty(t, result.SellFills)
	assert.True(t, m.HasPendingSell())

	result, err = m.MatchOrders(4, d("90"), d("200"), 0)
	require.NoError(t, err)
	assert.Empty(t, result.SellFills)
	require.Len(t, result.Expired, 1)
	assert.Equal(t, Sell, result.Expired[0].Side)
	assert.False(t, m.HasPendingSell())
	assertDecimal(t, "100", m.FrozenCapital(), "expired sells free nothing")
}

func TestSell_FastExitDiscount(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)

	sell, err := m.CreateSellOrder(d("100"), position.OrderID, position.Quantity, ReasonFastExit, 2, 0)
	require.NoError(t, err)
	assertDecimal(t, "99.8", sell.Price)
	assert.Equal(t, ReasonFastExit, sell.Reason)

	price, ok := m.PendingSellPrice()
	assert.True(t, ok)
	assertDecimal(t, "99.8", price)
}

func TestSellFill_ProfitAndRelease(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)
	assertDecimal(t, "99.9", position.Price)

	_, err := m.CreateSellOrder(d("110"), position.OrderID, position.Quantity, ReasonNormalExit, 2, 0)
	require.NoError(t, err)
	result, err := m.MatchOrders(3, d("100"), d("120"), 0)
	require.NoError(t, err)
	require.Len(t, result.SellFills, 1)

	fill := result.SellFills[0]
	require.True(t, fill.ProfitLoss.Valid)
	assertDecimal(t, "99.9", fill.BuyPrice.Decimal)
	want, _ := ProfitLoss(position.Price, fill.Price, position.Quantity)
	assert.True(t, want.Equal(fill.ProfitLoss.Decimal))

	// Matching does not move capital for sells.
	assertDecimal(t, "100", m.FrozenCapital())
	assertDecimal(t, "10000", m.TotalCapital())

	before := m.AvailableCapital()
	require.NoError(t, m.ReleaseSellCapital(position.Price, position.Quantity, fill.ProfitLoss.Decimal))
	assert.True(t, m.AvailableCapital().Sub(before).Equal(d("100").Add(fill.ProfitLoss.Decimal)),
		"the whole position amount comes back, remainder of 100/99.9 included")
	assertDecimal(t, "0", m.FrozenCapital())
	assert.True(t, m.TotalCapital().Equal(d("10000").Add(fill.ProfitLoss.Decimal)))
	assertConserved(t, m)

	summary := m.Statistics().Journal
	assert.Equal(t, 1, summary.SellFills)
	assert.Equal(t, 1, summary.Wins)
	assertDecimal(t, "100", summary.WinRate)
}

func TestReleaseSellCapital_RoundNumbers(t *testing.T) {
	m := gfob.New(gfob.Config{PositionSize: d("1000")},
		gfob.WithLogger(zerolog.Nop()),
		gfob.WithIDs(SequentialIDs("G")),
	)
	require.NoError(t, m.Initialize(d("10000")))
	_, err := m.CreateBuyOrder(d("100"), 1, 0)
	require.NoError(t, err)
	_, err = m.MatchOrders(2, d("100"), d("100"), 0)
	require.NoError(t, err)
	assertDecimal(t, "1000", m.FrozenCapital())

	before := m.AvailableCapital()
	require.NoError(t, m.ReleaseSellCapital(d("100"), d("10"), d("50")))
	assertDecimal(t, "1050", m.AvailableCapital().Sub(before))
	assertDecimal(t, "0", m.FrozenCapital())
	assertDecimal(t, "10050", m.TotalCapital())

	assert.ErrorIs(t, m.ReleaseSellCapital(d("0"), d("10"), d("0")), ErrInvalidPrice)
	assert.ErrorIs(t, m.ReleaseSellCapital(d("100"), d("0"), d("0")), ErrInvalidQuantity)
}

func TestReleaseSellCapital_NoPosition(t *testing.T) {
	m := createTestManager(t, "10000")

	err := m.ReleaseSellCapital(d("100"), d("1"), d("5"))
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	assertDecimal(t, "10000", m.AvailableCapital())
	assertDecimal(t, "10000", m.TotalCapital(), "total only moves on a real sell")
	assertConserved(t, m)
}

func TestReleaseSellCapital_LeavesPendingBuyReserve(t *testing.T) {
	m := createTestManager(t, "10000")
	_, err := m.CreateBuyOrder(d("100"), 1, 0)
	require.NoError(t, err)

	err = m.ReleaseSellCapital(d("100"), d("1"), d("0"))
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	assertDecimal(t, "100", m.FrozenCapital())
	assert.True(t, m.HasPendingBuy())

	// The reservation is intact, so expiry still unfreezes it cleanly.
	result, err := m.MatchOrders(3, d("1"), d("1000"), 0)
	require.NoError(t, err)
	require.Len(t, result.Expired, 1)
	assert.False(t, m.HasPendingBuy())
	assert.Zero(t, m.Statistics().Ledger.PendingBuys)
	assertDecimal(t, "0", m.FrozenCapital())
	assertDecimal(t, "10000", m.AvailableCapital())
	assertConserved(t, m)
}

func TestReleaseSellCapital_PositionBesidePendingBuy(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)
	_, err := m.CreateBuyOrder(d("100"), 2, 0)
	require.NoError(t, err)
	assertDecimal(t, "200", m.FrozenCapital())

	// More than the position holds, less than everything frozen.
	err = m.ReleaseSellCapital(position.Price, position.Quantity.Mul(d("1.5")), d("0"))
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	assertDecimal(t, "200", m.FrozenCapital())

	require.NoError(t, m.ReleaseSellCapital(position.Price, position.Quantity, d("0")))
	assertDecimal(t, "100", m.FrozenCapital(), "only the pending buy stays frozen")
	assertConserved(t, m)
}

func TestRoundTrip_NoFrozenRemainder(t *testing.T) {
	m := createTestManager(t, "10000")
	_, err := m.CreateBuyOrder(d("3500"), 10, 0)
	require.NoError(t, err)
	result, err := m.MatchOrders(11, d("3400"), d("3450"), 0)
	require.NoError(t, err)
	require.Len(t, result.BuyFills, 1)
	buy := result.BuyFills[0]
	assert.Equal(t, "0.0286000286000286", buy.Quantity.String())

	_, err = m.CreateSellOrder(d("3600"), buy.OrderID, buy.Quantity, ReasonNormalExit, 11, 0)
	require.NoError(t, err)
	result, err = m.MatchOrders(12, d("3550"), d("3650"), 0)
	require.NoError(t, err)
	require.Len(t, result.SellFills, 1)
	sell := result.SellFills[0]

	require.NoError(t, m.ReleaseSellCapital(buy.Price, sell.Quantity, sell.ProfitLoss.Decimal))
	assert.True(t, m.FrozenCapital().IsZero(), "frozen %s", m.FrozenCapital())
	assert.True(t, m.TotalCapital().Equal(d("10000").Add(sell.ProfitLoss.Decimal)))
	assertConserved(t, m)
}

func TestCancelPendingBuy(t *testing.T) {
	m := createTestManager(t, "10000")

	cancelled, err := m.CancelPendingBuy(0)
	require.NoError(t, err)
	assert.Nil(t, cancelled, "nothing pending")
	assertDecimal(t, "10000", m.AvailableCapital())
	assert.Empty(t, m.OrderLogs())

	order, err := m.CreateBuyOrder(d("100"), 1, 0)
	require.NoError(t, err)
	cancelled, err = m.CancelPendingBuy(150)
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, order.ID, cancelled.ID)
	assert.Equal(t, Cancelled, cancelled.Status)
	assert.False(t, m.HasPendingBuy())
	assertDecimal(t, "10000", m.AvailableCapital())
	assertDecimal(t, "0", m.FrozenCapital())
	assert.Equal(t, []Event{EventPlaced, EventCancelled}, events(m))

	cancelled, err = m.CancelPendingBuy(160)
	require.NoError(t, err)
	assert.Nil(t, cancelled)
	assertConserved(t, m)
}

func TestCreateBuyOrder_InsufficientCapital(t *testing.T) {
	m := createTestManager(t, "50")
	order, err := m.CreateBuyOrder(d("100"), 1, 0)
	assert.NoError(t, err)
	assert.Nil(t, order)
	assert.False(t, m.HasPendingBuy())
	assertDecimal(t, "50", m.AvailableCapital())
	assert.Equal(t, 1, m.Statistics().Ledger.InsufficientCapital)
	assert.Zero(t, m.Statistics().OrderCount)
	assert.Empty(t, m.OrderLogs())
}

func TestCreateOrder_SlotOccupied(t *testing.T) {
	m := createTestManager(t, "10000")
	_, err := m.CreateBuyOrder(d("100"), 1, 0)
	require.NoError(t, err)
	_, err = m.CreateBuyOrder(d("100"), 1, 0)
	assert.ErrorIs(t, err, ErrBuyPending)
	assertDecimal(t, "100", m.FrozenCapital(), "second buy froze nothing")

	_, err = m.CreateSellOrder(d("100"), "p", d("1"), ReasonNormalExit, 1, 0)
	require.NoError(t, err)
	_, err = m.CreateSellOrder(d("100"), "p", d("1"), ReasonNormalExit, 1, 0)
	assert.ErrorIs(t, err, ErrSellPending)
}

func TestContractViolations(t *testing.T) {
	m := gfob.New(testConfig(), gfob.WithLogger(zerolog.Nop()))
	_, err := m.CreateBuyOrder(d("100"), 0, 0)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = m.MatchOrders(0, d("1"), d("2"), 0)
	assert.ErrorIs(t, err, ErrNotInitialized)

	m = createTestManager(t, "1000")
	_, err = m.CreateBuyOrder(d("0"), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = m.CreateSellOrder(d("-1"), "p", d("1"), ReasonNormalExit, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = m.CreateSellOrder(d("10"), "p", d("0"), ReasonNormalExit, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = m.MatchOrders(5, d("10"), d("9"), 0)
	assert.ErrorIs(t, err, ErrInvalidBar)

	_, err = m.MatchOrders(5, d("1"), d("2"), 0)
	require.NoError(t, err)
	_, err = m.MatchOrders(5, d("1"), d("2"), 0)
	assert.ErrorIs(t, err, ErrNonMonotonicBar)
	_, err = m.MatchOrders(4, d("1"), d("2"), 0)
	assert.ErrorIs(t, err, ErrNonMonotonicBar)
}

func TestInitialize_Resets(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)
	_, err := m.CreateSellOrder(d("100"), position.OrderID, position.Quantity, ReasonNormalExit, 2, 0)
	require.NoError(t, err)
	_, err = m.CreateBuyOrder(d("100"), 2, 0)
	require.NoError(t, err)

	require.NoError(t, m.Initialize(d("500")))
	assert.False(t, m.HasPendingBuy())
	assert.False(t, m.HasPendingSell())
	assert.Empty(t, m.OrderLogs())
	assertDecimal(t, "500", m.AvailableCapital())
	assertDecimal(t, "0", m.FrozenCapital())

	stats := m.Statistics()
	assert.Zero(t, stats.OrderCount)
	_, ok := m.PendingBuyPrice()
	assert.False(t, ok)

	// Bar numbering starts over.
	_, err = m.MatchOrders(0, d("1"), d("2"), 0)
	assert.NoError(t, err)
}

func TestStatistics(t *testing.T) {
	m := createTestManager(t, "10000")
	position := holdPosition(t, m)
	_, err := m.CreateSellOrder(d("100"), position.OrderID, position.Quantity, ReasonNormalExit, 2, 0)
	require.NoError(t, err)
	_, err = m.CreateBuyOrder(d("100"), 2, 0)
	require.NoError(t, err)

	stats := m.Statistics()
	assert.True(t, stats.HasPendingBuy)
	assert.True(t, stats.HasPendingSell)
	assert.Equal(t, 3, stats.OrderCount)
	assert.Equal(t, 1, stats.Ledger.PendingBuys)
	assertDecimal(t, "200", stats.Ledger.Frozen)
	assert.Equal(t, 3, stats.Journal.Placed)
	assert.Equal(t, 1, stats.Journal.BuyFills)

	price, ok := m.PendingBuyPrice()
	assert.True(t, ok)
	assertDecimal(t, "99.9", price)
}

func TestCapitalConservation_LongReplay(t *testing.T) {
	m := createTestManager(t, "1000")
	var held *Fill
	last := d("100")

	for bar := 1; bar <= 300; bar++ {
		// Saw-tooth bars around a drifting close.
		step := decimal.NewFromInt(int64(bar%7 - 3))
		last = last.Add(step)
		low, high := last.Sub(d("1.5")), last.Add(d("1.5"))

		result, err := m.MatchOrders(bar, low, high, int64(bar))
		require.NoError(t, err)
		assertConserved(t, m)

		for _, f := range result.SellFills {
			require.NotNil(t, held)
			require.NoError(t, m.ReleaseSellCapital(held.Price, f.Quantity, f.ProfitLoss.Decimal))
			held = nil
		}
		for _, f := range result.BuyFills {
			held = &f
		}
		assertConserved(t, m)

		if held != nil && !m.HasPendingSell() {
			_, err := m.CreateSellOrder(last, held.OrderID, held.Quantity, ReasonNormalExit, bar, int64(bar))
			require.NoError(t, err)
		}
		if held == nil && !m.HasPendingBuy() {
			_, err := m.CreateBuyOrder(last, bar, int64(bar))
			require.NoError(t, err)
		}
		assertConserved(t, m)
	}
}
