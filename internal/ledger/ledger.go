// Package ledger implements the capital ledger and continuous limit order
// manager used by backtests.
//
// The ledger splits capital into available and frozen parts. Buy orders
// freeze their amount when placed; the amount stays frozen while the order
// rests and after it fills (it is then tied up in the position). Only a sell
// fill releases it, together with the realized profit or loss, which is the
// only way total capital changes after Initialize.
//
// Outcomes a backtest expects to hit often (not enough capital, unknown
// order id) are not errors: the method returns a nil result, bumps a counter
// where one exists and logs at debug level. Errors are reserved for caller
// contract violations and broken invariants, both of which should stop the
// run.
package ledger

import (
	"fmt"

	. "barmatch/internal/common"
	"barmatch/internal/journal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultPositionSize is the buy amount used when none is given.
var DefaultPositionSize = decimal.NewFromInt(100)

// DustTolerance bounds, relative to the principal, how far a release may
// miss the capital backing open positions and still be treated as exact.
// It covers remainders of amount/price, nothing more.
var DustTolerance = decimal.New(1, -12)

// Recorder receives lifecycle events.
type Recorder interface {
	Record(entry journal.Entry)
}

type Option func(*Ledger)

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.log = logger }
}

func WithIDs(ids IDGenerator) Option {
	return func(l *Ledger) { l.ids = ids }
}

func WithJournal(r Recorder) Option {
	return func(l *Ledger) { l.journal = r }
}

func WithPositionSize(amount decimal.Decimal) Option {
	return func(l *Ledger) { l.positionSize = amount }
}

// Ledger is single threaded. It is driven by one backtest loop and shares
// nothing with other ledgers.
type Ledger struct {
	log          zerolog.Logger
	ids          IDGenerator
	journal      Recorder
	positionSize decimal.Decimal

	initialized bool
	available   decimal.Decimal
	frozen      decimal.Decimal
	total       decimal.Decimal

	// Resting orders by price level, sorted by time added within a level.
	bids *PriceLevels
	asks *PriceLevels

	pending map[string]*PendingOrder // Active lookup
	orders  map[string]*PendingOrder // Every order ever created, terminal ones included

	insufficientCapital int
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		log:          log.Logger.With().Str("component", "ledger").Logger(),
		ids:          UUIDs(),
		positionSize: DefaultPositionSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.reset(decimal.Zero)
	return l
}

func (l *Ledger) reset(capital decimal.Decimal) {
	l.available = capital
	l.frozen = decimal.Zero
	l.total = capital
	l.bids = newBids()
	l.asks = newAsks()
	l.pending = make(map[string]*PendingOrder)
	l.orders = make(map[string]*PendingOrder)
	l.insufficientCapital = 0
}

// Initialize is a hard reset: all orders, counters and capital from an
// earlier run are dropped.
func (l *Ledger) Initialize(capital decimal.Decimal) error {
	if capital.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidCapital, capital)
	}
	l.reset(capital)
	l.initialized = true
	l.log.Debug().Str("capital", capital.String()).Msg("ledger initialized")
	return nil
}

// CreateBuyOrder freezes amount and rests a buy of amount/price units. A
// zero amount means the configured position size. When available capital
// does not cover the amount, nothing changes except the insufficient
// capital counter, and the result is nil with a nil error.
func (l *Ledger) CreateBuyOrder(price decimal.Decimal, barIndex int, timestamp int64, amount decimal.Decimal) (*PendingOrder, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: buy at %s", ErrInvalidPrice, price)
	}
	if amount.IsZero() {
		amount = l.positionSize
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	if l.available.LessThan(amount) {
		l.insufficientCapital++
		l.log.Debug().
			Str("available", l.available.String()).
			Str("amount", amount.String()).
			Int("bar", barIndex).
			Msg("insufficient capital for buy")
		return nil, nil
	}

	order := &PendingOrder{
		ID:            l.ids(),
		Side:          Buy,
		Price:         price,
		Quantity:      amount.Div(price),
		Amount:        amount,
		Status:        Pending,
		FrozenCapital: amount,
		BarIndex:      barIndex,
		ValidBar:      NoValidBar,
		CreatedAt:     timestamp,
	}

	l.available = l.available.Sub(amount)
	l.frozen = l.frozen.Add(amount)
	l.track(order)
	l.record(order, EventPlaced, timestamp, barIndex)

	return order, l.checkInvariant("create buy")
}

// CancelAllBuyOrders cancels every resting buy, unfreezes what they
// reserved and returns the total released.
func (l *Ledger) CancelAllBuyOrders(timestamp int64) (decimal.Decimal, error) {
	released := decimal.Zero
	var buys []*PendingOrder
	l.bids.Scan(func(level *PriceLevel) bool {
		buys = append(buys, level.orders...)
		return true
	})
	if len(buys) == 0 {
		return released, nil
	}

	for _, order := range buys {
		released = released.Add(order.FrozenCapital)
	}
	// Nothing is touched unless every reservation is still covered.
	if released.GreaterThan(l.frozen) {
		err := fmt.Errorf("%w: pending buys reserve %s, frozen is %s",
			ErrLedgerInvariant, released, l.frozen)
		l.log.Error().Err(err).Msg("ledger invariant")
		return decimal.Zero, err
	}

	for _, order := range buys {
		if err := order.MarkCancelled(timestamp); err != nil {
			return decimal.Zero, err
		}
		l.available = l.available.Add(order.FrozenCapital)
		l.frozen = l.frozen.Sub(order.FrozenCapital)
		l.untrack(order)
		l.record(order, EventCancelled, timestamp, order.BarIndex)
	}

	l.log.Debug().
		Int("orders", len(buys)).
		Str("released", released.String()).
		Msg("cancelled pending buys")
	return released, l.checkInvariant("cancel buys")
}

// FillBuyOrder marks a resting buy filled. Its capital stays frozen: it now
// backs the open position until a sell against it fills. The result is nil
// when the id is not a pending buy.
func (l *Ledger) FillBuyOrder(orderID string, barIndex int, timestamp int64) (*Fill, error) {
	order, ok := l.pending[orderID]
	if !ok || order.Side != Buy {
		l.log.Debug().Str("order", orderID).Msg("fill of unknown buy order")
		return nil, nil
	}
	if err := order.MarkFilled(timestamp); err != nil {
		return nil, err
	}
	l.untrack(order)
	l.record(order, EventFilled, timestamp, barIndex)

	fill := NewFill(order, barIndex)
	l.log.Info().Str("order", orderID).Str("price", order.Price.String()).Msg("buy filled")
	return &fill, nil
}

// CreateSellOrder rests a sell against a held position. No capital moves.
func (l *Ledger) CreateSellOrder(parentOrderID string, price, quantity decimal.Decimal, barIndex int, timestamp int64) (*PendingOrder, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: sell at %s", ErrInvalidPrice, price)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
	}

	order := &PendingOrder{
		ID:            l.ids(),
		Side:          Sell,
		Price:         price,
		Quantity:      quantity,
		Amount:        price.Mul(quantity),
		Status:        Pending,
		FrozenCapital: decimal.Zero,
		BarIndex:      barIndex,
		ValidBar:      NoValidBar,
		CreatedAt:     timestamp,
		ParentOrderID: parentOrderID,
	}
	l.track(order)
	l.record(order, EventPlaced, timestamp, barIndex)
	return order, nil
}

// UpdateSellOrderPrice reprices a resting sell. It reports false when the id
// is not a pending sell.
func (l *Ledger) UpdateSellOrderPrice(orderID string, newPrice decimal.Decimal) (bool, error) {
	if !newPrice.IsPositive() {
		return false, fmt.Errorf("%w: reprice to %s", ErrInvalidPrice, newPrice)
	}
	order, ok := l.pending[orderID]
	if !ok || order.Side != Sell {
		l.log.Debug().Str("order", orderID).Msg("reprice of unknown sell order")
		return false, nil
	}

	removeOrder(l.asks, order)
	order.Price = newPrice
	order.Amount = newPrice.Mul(order.Quantity)
	addOrder(l.asks, order)
	return true, nil
}

// FillSellOrder fills a resting sell and releases the position's capital
// plus the realized P&L. The result is nil when the id is not a pending sell.
func (l *Ledger) FillSellOrder(orderID string, barIndex int, timestamp int64, buyPrice decimal.Decimal) (*Fill, error) {
	if !buyPrice.IsPositive() {
		return nil, fmt.Errorf("%w: buy price %s", ErrInvalidPrice, buyPrice)
	}
	order, ok := l.pending[orderID]
	if !ok || order.Side != Sell {
		l.log.Debug().Str("order", orderID).Msg("fill of unknown sell order")
		return nil, nil
	}

	pnl, _ := ProfitLoss(buyPrice, order.Price, order.Quantity)
	principal, err := l.releasable(l.principal(order, buyPrice), pnl)
	if err != nil {
		return nil, err
	}

	if err := order.MarkFilled(timestamp); err != nil {
		return nil, err
	}
	l.untrack(order)
	l.release(principal, pnl)

	fill := NewFill(order, barIndex).WithProfit(buyPrice)
	entry := journal.EntryFor(order, EventFilled, timestamp, barIndex)
	entry.ProfitLoss = fill.ProfitLoss
	l.recordEntry(entry)

	l.log.Info().
		Str("order", orderID).
		Str("price", order.Price.String()).
		Str("pnl", pnl.String()).
		Msg("sell filled")
	return &fill, l.checkInvariant("fill sell")
}

// principal is the frozen amount a sell fill gives back. When the parent
// buy is known and was bought at buyPrice for the same quantity, its
// recorded frozen amount is used so the round trip is exact.
func (l *Ledger) principal(sell *PendingOrder, buyPrice decimal.Decimal) decimal.Decimal {
	parent, ok := l.orders[sell.ParentOrderID]
	if ok && parent.Status == Filled &&
		parent.Price.Equal(buyPrice) && parent.Quantity.Equal(sell.Quantity) {
		return parent.FrozenCapital
	}
	return buyPrice.Mul(sell.Quantity)
}

// Release moves principal from frozen to available and books profitLoss
// into both available and total capital. Only capital backing filled buys
// can be released; what pending buys reserve is out of reach. Nothing
// changes when the release is refused.
func (l *Ledger) Release(principal, profitLoss decimal.Decimal) error {
	if !l.initialized {
		return ErrNotInitialized
	}
	principal, err := l.releasable(principal, profitLoss)
	if err != nil {
		return err
	}
	l.release(principal, profitLoss)
	return l.checkInvariant("release")
}

// releasable validates a release and returns the principal to apply. A
// principal within DustTolerance of the position capital snaps to it, so
// division remainders never stay frozen or push frozen below zero.
func (l *Ledger) releasable(principal, profitLoss decimal.Decimal) (decimal.Decimal, error) {
	if !principal.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: release of %s", ErrInvalidAmount, principal)
	}
	if principal.Add(profitLoss).IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: loss %s exceeds principal %s", ErrInvalidAmount, profitLoss, principal)
	}

	held := l.frozen.Sub(l.reserved())
	if principal.Sub(held).Abs().LessThanOrEqual(principal.Mul(DustTolerance)) {
		return held, nil
	}
	if principal.GreaterThan(held) {
		err := fmt.Errorf("%w: release of %s exceeds position capital %s",
			ErrLedgerInvariant, principal, held)
		l.log.Error().Err(err).Msg("ledger invariant")
		return decimal.Zero, err
	}
	return principal, nil
}

func (l *Ledger) release(principal, profitLoss decimal.Decimal) {
	l.frozen = l.frozen.Sub(principal)
	l.available = l.available.Add(principal).Add(profitLoss)
	l.total = l.total.Add(profitLoss)
}

// reserved is the capital frozen by resting buys.
func (l *Ledger) reserved() decimal.Decimal {
	sum := decimal.Zero
	l.bids.Scan(func(level *PriceLevel) bool {
		for _, o := range level.orders {
			sum = sum.Add(o.FrozenCapital)
		}
		return true
	})
	return sum
}

// ---- Queries ----

// CheckBuyOrderFill reports whether the bar touched the buy's limit. Both
// bounds are inclusive.
func CheckBuyOrderFill(order *PendingOrder, low, high decimal.Decimal) bool {
	return touches(order.Price, low, high)
}

// CheckSellOrderFill is the same inclusive rule as CheckBuyOrderFill.
func CheckSellOrderFill(order *PendingOrder, low, high decimal.Decimal) bool {
	return touches(order.Price, low, high)
}

func touches(price, low, high decimal.Decimal) bool {
	return low.LessThanOrEqual(price) && price.LessThanOrEqual(high)
}

// PendingBuyOrders returns copies of the resting buys, best price first.
func (l *Ledger) PendingBuyOrders() []PendingOrder {
	return flatten(l.bids)
}

// PendingSellOrders returns copies of the resting sells, best price first.
func (l *Ledger) PendingSellOrders() []PendingOrder {
	return flatten(l.asks)
}

// PendingOrders returns the resting orders of one side.
func (l *Ledger) PendingOrders(side Side) ([]PendingOrder, error) {
	if err := side.Validate(); err != nil {
		return nil, err
	}
	return flatten(l.levels(side)), nil
}

// FillableBuyOrders returns the resting buys a bar spanning [low, high]
// would fill.
func (l *Ledger) FillableBuyOrders(low, high decimal.Decimal) []PendingOrder {
	return within(l.bids, high, low, high)
}

// FillableSellOrders returns the resting sells a bar spanning [low, high]
// would fill.
func (l *Ledger) FillableSellOrders(low, high decimal.Decimal) []PendingOrder {
	return within(l.asks, low, low, high)
}

// SellOrderByParent finds the resting sell closing the given buy. With
// several, the first in price-time priority wins.
func (l *Ledger) SellOrderByParent(parentOrderID string) (PendingOrder, bool) {
	var found *PendingOrder
	l.asks.Scan(func(level *PriceLevel) bool {
		for _, o := range level.orders {
			if o.ParentOrderID == parentOrderID {
				found = o
				return false
			}
		}
		return true
	})
	if found == nil {
		return PendingOrder{}, false
	}
	return *found, true
}

// Order looks up any order created since Initialize, terminal or not.
func (l *Ledger) Order(orderID string) (PendingOrder, bool) {
	order, ok := l.orders[orderID]
	if !ok {
		return PendingOrder{}, false
	}
	return *order, true
}

func (l *Ledger) Available() decimal.Decimal { return l.available }
func (l *Ledger) Frozen() decimal.Decimal    { return l.frozen }
func (l *Ledger) Total() decimal.Decimal     { return l.total }

type Stats struct {
	Available           decimal.Decimal
	Frozen              decimal.Decimal
	Total               decimal.Decimal
	PendingBuys         int
	PendingSells        int
	InsufficientCapital int
}

func (l *Ledger) Statistics() Stats {
	s := Stats{
		Available:           l.available,
		Frozen:              l.frozen,
		Total:               l.total,
		InsufficientCapital: l.insufficientCapital,
	}
	for _, order := range l.pending {
		switch order.Side {
		case Buy:
			s.PendingBuys++
		case Sell:
			s.PendingSells++
		}
	}
	return s
}

// ---- Internals ----

func (l *Ledger) levels(side Side) *PriceLevels {
	if side == Buy {
		return l.bids
	}
	return l.asks
}

func (l *Ledger) track(order *PendingOrder) {
	l.pending[order.ID] = order
	l.orders[order.ID] = order
	addOrder(l.levels(order.Side), order)
}

// untrack removes a terminal order from the active index. It stays in the
// history map.
func (l *Ledger) untrack(order *PendingOrder) {
	delete(l.pending, order.ID)
	removeOrder(l.levels(order.Side), order)
}

func (l *Ledger) record(order *PendingOrder, event Event, timestamp int64, barIndex int) {
	l.recordEntry(journal.EntryFor(order, event, timestamp, barIndex))
}

func (l *Ledger) recordEntry(entry journal.Entry) {
	if l.journal != nil {
		l.journal.Record(entry)
	}
}

func (l *Ledger) checkInvariant(op string) error {
	if l.available.IsNegative() || l.frozen.IsNegative() ||
		!l.available.Add(l.frozen).Equal(l.total) {
		err := fmt.Errorf("%w after %s: available=%s frozen=%s total=%s",
			ErrLedgerInvariant, op, l.available, l.frozen, l.total)
		l.log.Error().Err(err).Msg("ledger invariant")
		return err
	}
	return nil
}
