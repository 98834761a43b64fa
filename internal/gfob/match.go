package gfob

import (
	"fmt"

	. "barmatch/internal/common"
	"barmatch/internal/journal"

	"github.com/shopspring/decimal"
)

// MatchResult lists what happened on one bar. Slices are in processing
// order and empty when nothing matched.
type MatchResult struct {
	SellFills []Fill
	BuyFills  []Fill
	Expired   []Expiry
}

// Empty reports whether the bar changed nothing.
func (r MatchResult) Empty() bool {
	return len(r.SellFills) == 0 && len(r.BuyFills) == 0 && len(r.Expired) == 0
}

// MatchOrders processes one bar. The steps always run in this order:
//
//  1. Orders whose valid bar has already passed expire. An expiring buy
//     gets its capital back.
//  2. A sell valid on this bar fills at its limit when high >= limit.
//  3. A buy valid on this bar fills at its limit when low <= limit.
//
// Selling first keeps a position opened on this bar from being closed with
// the same bar's range. The rules are one-sided on purpose: a buy ignores
// high and a sell ignores low, unlike the ledger's inclusive range check.
func (m *Manager) MatchOrders(barIndex int, low, high decimal.Decimal, timestamp int64) (MatchResult, error) {
	var result MatchResult
	if !m.initialized {
		return result, ErrNotInitialized
	}
	if m.started && barIndex <= m.lastBar {
		return result, fmt.Errorf("%w: got %d after %d", ErrNonMonotonicBar, barIndex, m.lastBar)
	}
	if low.GreaterThan(high) {
		return result, fmt.Errorf("%w: bar %d low=%s high=%s", ErrInvalidBar, barIndex, low, high)
	}
	m.lastBar = barIndex
	m.started = true

	if err := m.expire(barIndex, timestamp, &result); err != nil {
		return result, err
	}

	if sell := m.pendingSell; sell != nil && sell.ValidBar == barIndex && high.GreaterThanOrEqual(sell.Price) {
		fill, err := m.fillSell(sell, barIndex, timestamp)
		if err != nil {
			return result, err
		}
		result.SellFills = append(result.SellFills, fill)
	}

	if buy := m.pendingBuy; buy != nil && buy.ValidBar == barIndex && low.LessThanOrEqual(buy.Price) {
		fill, err := m.fillBuy(buy, barIndex, timestamp)
		if err != nil {
			return result, err
		}
		result.BuyFills = append(result.BuyFills, fill)
	}

	return result, nil
}

func (m *Manager) expire(barIndex int, timestamp int64, result *MatchResult) error {
	if sell := m.pendingSell; sell != nil && sell.ValidBar < barIndex {
		if err := sell.MarkCancelled(timestamp); err != nil {
			return err
		}
		m.pendingSell = nil
		m.recordExpiry(sell, barIndex, timestamp, result)
	}

	if buy := m.pendingBuy; buy != nil && buy.ValidBar < barIndex {
		if _, err := m.ledger.CancelAllBuyOrders(timestamp); err != nil {
			return err
		}
		m.pendingBuy = nil
		m.recordExpiry(buy, barIndex, timestamp, result)
	}
	return nil
}

func (m *Manager) recordExpiry(order *PendingOrder, barIndex int, timestamp int64, result *MatchResult) {
	m.journal.Record(journal.EntryFor(order, EventExpired, timestamp, barIndex))
	result.Expired = append(result.Expired, Expiry{
		OrderID:   order.ID,
		Side:      order.Side,
		Price:     order.Price,
		Quantity:  order.Quantity,
		ValidBar:  order.ValidBar,
		BarIndex:  barIndex,
		Timestamp: timestamp,
		Reason:    order.Reason,
	})
	m.log.Debug().
		Str("order", order.ID).
		Str("side", order.Side.String()).
		Int("valid_bar", order.ValidBar).
		Int("bar", barIndex).
		Msg("order expired")
}

// fillSell fills the sell at exactly its limit price. P&L is attached when
// the parent buy is known; capital is left for ReleaseSellCapital.
func (m *Manager) fillSell(sell *PendingOrder, barIndex int, timestamp int64) (Fill, error) {
	if err := sell.MarkFilled(timestamp); err != nil {
		return Fill{}, err
	}
	m.pendingSell = nil

	fill := NewFill(sell, barIndex)
	if parent, ok := m.ledger.Order(sell.ParentOrderID); ok && parent.Side == Buy {
		fill = fill.WithProfit(parent.Price)
	}

	entry := journal.EntryFor(sell, EventFilled, timestamp, barIndex)
	entry.ProfitLoss = fill.ProfitLoss
	m.journal.Record(entry)

	m.log.Info().
		Str("order", sell.ID).
		Str("price", sell.Price.String()).
		Int("bar", barIndex).
		Msg("sell filled")
	return fill, nil
}

// fillBuy fills the buy at exactly its limit price. Its capital stays
// frozen in the ledger, now backing the position.
func (m *Manager) fillBuy(buy *PendingOrder, barIndex int, timestamp int64) (Fill, error) {
	fill, err := m.ledger.FillBuyOrder(buy.ID, barIndex, timestamp)
	if err != nil {
		return Fill{}, err
	}
	if fill == nil {
		return Fill{}, fmt.Errorf("%w: pending buy %s unknown to ledger", ErrLedgerInvariant, buy.ID)
	}
	m.pendingBuy = nil
	m.journal.Record(journal.EntryFor(buy, EventFilled, timestamp, barIndex))

	m.log.Info().
		Str("order", buy.ID).
		Str("price", buy.Price.String()).
		Int("bar", barIndex).
		Msg("buy filled")
	return *fill, nil
}
